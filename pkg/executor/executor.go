// Package executor walks a resolved job slice in dependency order for one
// partition key. Execution is sequential within a run; a failed node aborts
// its downstream dependents without invoking them while independent branches
// continue. Configuration errors (unresolvable jobs, invalid keys) surface
// before any node runs.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/graph"
	"github.com/coinflow-io/coinflow/pkg/partition"
)

// State is the terminal status of one node in a run.
type State string

const (
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// NodeStatus is the per-node outcome reported to callers.
type NodeStatus struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// RunResult is the run-level outcome: a success flag plus the ordered node
// status list.
type RunResult struct {
	Job        string         `json:"job"`
	Key        *partition.Key `json:"partition,omitempty"`
	Success    bool           `json:"success"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Nodes      []NodeStatus   `json:"nodes"`
}

// Runner executes jobs against a validated graph.
type Runner struct {
	Graph  *graph.Graph
	Logger *zap.Logger
}

// New returns a Runner.
func New(g *graph.Graph, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Graph: g, Logger: logger}
}

// RunJob executes the job's nodes for the optional partition key. A non-nil
// error reports a configuration failure found before anything ran; node
// failures are reported through the result instead.
func (r *Runner) RunJob(ctx context.Context, job graph.Job, key *partition.Key) (*RunResult, error) {
	nodes, err := r.Graph.Resolve(job)
	if err != nil {
		return nil, err
	}

	// An explicit key must be valid for every partitioned node before the
	// run starts; an out-of-range key never reaches a compute function.
	if key != nil {
		for _, n := range nodes {
			if n.Scheme == nil {
				continue
			}
			if _, err := n.Scheme.Parse(*key); err != nil {
				return nil, fmt.Errorf("job %q node %q: %w", job.Name, n.Name, err)
			}
		}
	}

	logger := r.Logger.With(zap.String("job", job.Name))
	if key != nil {
		logger = logger.With(zap.String("partition", key.String()))
	}

	result := &RunResult{
		Job:       job.Name,
		Key:       key,
		StartedAt: time.Now().UTC(),
		Nodes:     make([]NodeStatus, 0, len(nodes)),
	}
	rc := graph.NewRunContext(key, logger)

	// Nodes of this run that did not complete successfully; dependents of
	// anything in here are skipped without being invoked.
	unmet := make(map[string]bool)
	cancelled := false

	for _, n := range nodes {
		// Cooperative checkpoint between node executions.
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		if cancelled {
			result.Nodes = append(result.Nodes, NodeStatus{
				Name: n.Name, State: StateSkipped, Error: "run cancelled",
			})
			unmet[n.Name] = true
			continue
		}

		if blocked := firstUnmetDep(n, unmet); blocked != "" {
			logger.Warn("skipping node, upstream dependency did not complete",
				zap.String("node", n.Name),
				zap.String("dependency", blocked))
			result.Nodes = append(result.Nodes, NodeStatus{
				Name:  n.Name,
				State: StateSkipped,
				Error: fmt.Sprintf("dependency %q did not complete", blocked),
			})
			unmet[n.Name] = true
			continue
		}

		logger.Info("running node", zap.String("node", n.Name))
		if err := n.Compute(ctx, rc); err != nil {
			logger.Error("node failed", zap.String("node", n.Name), zap.Error(err))
			result.Nodes = append(result.Nodes, NodeStatus{
				Name: n.Name, State: StateFailed, Error: err.Error(),
			})
			unmet[n.Name] = true
			continue
		}
		result.Nodes = append(result.Nodes, NodeStatus{Name: n.Name, State: StateSucceeded})
	}

	result.FinishedAt = time.Now().UTC()
	result.Success = len(unmet) == 0 && !cancelled

	logger.Info("run finished",
		zap.Bool("success", result.Success),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))

	if cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// firstUnmetDep reports the first declared dependency of n that failed or
// was skipped in this run. Dependencies outside the run are assumed already
// materialized.
func firstUnmetDep(n *graph.Node, unmet map[string]bool) string {
	for _, dep := range n.Deps {
		if unmet[dep] {
			return dep
		}
	}
	return ""
}
