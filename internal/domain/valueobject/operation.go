package valueobject

import "fmt"

// Operation describes why embedding work is needed for a source document.
type Operation string

// Operation constants.
const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// validOperations contains all valid operations.
var validOperations = map[Operation]bool{
	OperationInsert: true,
	OperationUpdate: true,
	OperationDelete: true,
}

// NewOperation creates a new Operation with validation.
func NewOperation(operation string) (Operation, error) {
	o := Operation(operation)
	if !validOperations[o] {
		return "", fmt.Errorf("invalid operation: %s", operation)
	}
	return o, nil
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}
