// Package main is the entry point for the receiptqueue CLI: the worker
// pool, maintenance sweeps, consistency validation and queue operations
// all hang off the root command.
package main

import "receiptqueue/cmd"

func main() {
	cmd.Execute()
}
