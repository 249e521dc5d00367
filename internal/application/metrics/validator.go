package metrics

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"gopkg.in/yaml.v3"
)

// Consistency check names. The check schema is fixed; only the weights are
// tunable.
const (
	CheckStatusCounts       = "status_counts"
	CheckClaimedByOrphans   = "claimed_by_orphans"
	CheckTerminalImmutable  = "terminal_immutability"
	CheckHeartbeatFreshness = "heartbeat_freshness"
	CheckThroughput         = "throughput_recompute"
)

// Validation tolerances. Counts may drift by the ratio, latency-derived
// numbers by the absolute duration, before a check fails.
const (
	CountTolerance   = 0.05
	LatencyTolerance = 2 * time.Second
)

// DefaultCheckWeights is the relative importance of each check in the
// composite score. Values are normalized before scoring.
var DefaultCheckWeights = map[string]float64{
	CheckStatusCounts:       0.30,
	CheckClaimedByOrphans:   0.25,
	CheckTerminalImmutable:  0.20,
	CheckHeartbeatFreshness: 0.15,
	CheckThroughput:         0.10,
}

// Finding is the outcome of one consistency check. Expected carries what
// the validator recomputed from raw state, Actual what the serving path
// reported.
type Finding struct {
	Check    string  `json:"check"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Delta    float64 `json:"delta"`
	Passed   bool    `json:"passed"`
	Detail   string  `json:"detail,omitempty"`
}

// ValidationReport is one validator run: all findings plus the weighted
// score in 0..1.
type ValidationReport struct {
	Findings    []Finding `json:"findings"`
	Score       float64   `json:"score"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ConsistencyValidator cross-checks served aggregates against raw store
// state. It only reports; nothing is ever corrected.
type ConsistencyValidator struct {
	store          outbound.QueueStore
	registry       outbound.WorkerRegistry
	stats          *StatisticsService
	livenessCutoff time.Duration
	weights        map[string]float64
}

// NewConsistencyValidator creates a validator with the default check
// weights.
func NewConsistencyValidator(
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
	stats *StatisticsService,
	livenessCutoff time.Duration,
) *ConsistencyValidator {
	weights := make(map[string]float64, len(DefaultCheckWeights))
	for check, weight := range DefaultCheckWeights {
		weights[check] = weight
	}
	return &ConsistencyValidator{
		store:          store,
		registry:       registry,
		stats:          stats,
		livenessCutoff: livenessCutoff,
		weights:        weights,
	}
}

// LoadWeights overrides check weights from a YAML file of the form
// "check_name: weight". Unknown check names are rejected so typos do not
// silently drop a check to its default.
func (v *ConsistencyValidator) LoadWeights(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read weights file: %w", err)
	}

	var overrides map[string]float64
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse weights file: %w", err)
	}

	for check, weight := range overrides {
		if _, known := v.weights[check]; !known {
			return fmt.Errorf("unknown check %q in weights file", check)
		}
		if weight < 0 {
			return fmt.Errorf("check %q weight cannot be negative", check)
		}
		v.weights[check] = weight
	}
	return nil
}

// Validate runs every check and returns the report.
func (v *ConsistencyValidator) Validate(ctx context.Context) (*ValidationReport, error) {
	counts, err := v.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}

	findings := make([]Finding, 0, len(v.weights))

	statusFinding, err := v.checkStatusCounts(ctx, counts)
	if err != nil {
		return nil, err
	}
	findings = append(findings, statusFinding)

	orphanFinding, err := v.checkClaimedByOrphans(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, orphanFinding)

	terminalFinding, err := v.checkTerminalImmutability(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, terminalFinding)

	heartbeatFinding, err := v.checkHeartbeatFreshness(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, heartbeatFinding)

	throughputFinding, err := v.checkThroughput(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, throughputFinding)

	return &ValidationReport{
		Findings:    findings,
		Score:       v.score(findings),
		GeneratedAt: time.Now(),
	}, nil
}

// checkStatusCounts compares the raw per-status counts against the cached
// statistics aggregate.
func (v *ConsistencyValidator) checkStatusCounts(
	ctx context.Context,
	counts map[valueobject.ItemStatus]int64,
) (Finding, error) {
	stats, err := v.stats.QueueStatistics(ctx)
	if err != nil {
		return Finding{}, fmt.Errorf("queue statistics: %w", err)
	}

	var rawTotal, cachedTotal int64
	for _, status := range valueobject.AllItemStatuses() {
		rawTotal += counts[status]
		cachedTotal += stats.StatusCounts[status]
	}

	finding := Finding{
		Check:    CheckStatusCounts,
		Expected: float64(rawTotal),
		Actual:   float64(cachedTotal),
	}
	finding.Delta = math.Abs(finding.Expected - finding.Actual)
	finding.Passed = withinCountTolerance(finding.Expected, finding.Actual)
	if !finding.Passed {
		finding.Detail = "cached status counts drifted from raw counts"
	}
	return finding, nil
}

// checkClaimedByOrphans counts processing items whose claimedBy names a
// worker the registry does not know or already marked stopped.
func (v *ConsistencyValidator) checkClaimedByOrphans(ctx context.Context) (Finding, error) {
	processing, err := v.store.FindByFilter(ctx, outbound.ItemFilter{
		Statuses: []valueobject.ItemStatus{valueobject.ItemStatusProcessing},
	})
	if err != nil {
		return Finding{}, fmt.Errorf("find processing items: %w", err)
	}

	workers, err := v.registry.FindAll(ctx)
	if err != nil {
		return Finding{}, fmt.Errorf("find workers: %w", err)
	}
	known := make(map[string]bool, len(workers))
	for _, worker := range workers {
		known[worker.WorkerID()] = worker.Status() != valueobject.WorkerStatusStopped
	}

	var orphans float64
	for _, item := range processing {
		claimedBy := item.ClaimedBy()
		if claimedBy == nil || !known[*claimedBy] {
			orphans++
		}
	}

	finding := Finding{
		Check:    CheckClaimedByOrphans,
		Expected: 0,
		Actual:   orphans,
		Delta:    orphans,
		Passed:   orphans == 0,
	}
	if !finding.Passed {
		finding.Detail = "processing items claimed by unknown or stopped workers"
	}
	return finding, nil
}

// checkTerminalImmutability counts terminal items that still carry an
// active claim or cool-down, which a correct lifecycle never produces.
func (v *ConsistencyValidator) checkTerminalImmutability(ctx context.Context) (Finding, error) {
	terminal, err := v.store.FindByFilter(ctx, outbound.ItemFilter{
		Statuses: []valueobject.ItemStatus{
			valueobject.ItemStatusCompleted,
			valueobject.ItemStatusFailed,
		},
	})
	if err != nil {
		return Finding{}, fmt.Errorf("find terminal items: %w", err)
	}

	var violations float64
	for _, item := range terminal {
		if item.ClaimedBy() != nil || item.RateLimitedUntil() != nil || item.CompletedAt() == nil {
			violations++
		}
	}

	finding := Finding{
		Check:    CheckTerminalImmutable,
		Expected: 0,
		Actual:   violations,
		Delta:    violations,
		Passed:   violations == 0,
	}
	if !finding.Passed {
		finding.Detail = "terminal items carry claims, cool-downs or missing completion time"
	}
	return finding, nil
}

// checkHeartbeatFreshness counts workers whose registry status disagrees
// with their heartbeat age.
func (v *ConsistencyValidator) checkHeartbeatFreshness(ctx context.Context) (Finding, error) {
	workers, err := v.registry.FindAll(ctx)
	if err != nil {
		return Finding{}, fmt.Errorf("find workers: %w", err)
	}

	now := time.Now()
	var stale float64
	for _, worker := range workers {
		if worker.Status() == valueobject.WorkerStatusStopped {
			continue
		}
		// Grace of LatencyTolerance over the cutoff keeps a heartbeat
		// racing the check from counting as disagreement.
		if !worker.IsAlive(now, v.livenessCutoff+LatencyTolerance) {
			stale++
		}
	}

	finding := Finding{
		Check:    CheckHeartbeatFreshness,
		Expected: 0,
		Actual:   stale,
		Delta:    stale,
		Passed:   stale == 0,
	}
	if !finding.Passed {
		finding.Detail = "non-stopped workers with heartbeats past the liveness threshold"
	}
	return finding, nil
}

// checkThroughput recomputes throughput from raw completion counts and
// compares it with the served figure.
func (v *ConsistencyValidator) checkThroughput(ctx context.Context) (Finding, error) {
	stats, err := v.stats.QueueStatistics(ctx)
	if err != nil {
		return Finding{}, fmt.Errorf("queue statistics: %w", err)
	}

	completed, err := v.store.CompletedSince(ctx, time.Now().Add(-throughputWindow))
	if err != nil {
		return Finding{}, fmt.Errorf("completed since: %w", err)
	}

	finding := Finding{
		Check:    CheckThroughput,
		Expected: Throughput(completed, throughputWindow),
		Actual:   stats.ThroughputPerMinute,
	}
	finding.Delta = math.Abs(finding.Expected - finding.Actual)
	finding.Passed = withinCountTolerance(finding.Expected, finding.Actual)
	if !finding.Passed {
		finding.Detail = "served throughput drifted from recomputed throughput"
	}
	return finding, nil
}

func (v *ConsistencyValidator) score(findings []Finding) float64 {
	var total, passed float64
	for _, finding := range findings {
		weight := v.weights[finding.Check]
		total += weight
		if finding.Passed {
			passed += weight
		}
	}
	if total == 0 {
		return 1
	}
	return passed / total
}

// withinCountTolerance allows a relative drift of CountTolerance against
// the larger of the two values, so small absolute counts do not flap.
func withinCountTolerance(expected, actual float64) bool {
	delta := math.Abs(expected - actual)
	if delta == 0 {
		return true
	}
	reference := math.Max(math.Abs(expected), math.Abs(actual))
	return delta/reference <= CountTolerance
}
