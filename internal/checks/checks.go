// Package checks probes the external dependencies of the agent: the remote
// control sidecar and the Kafka brokers.
package checks

import (
	"context"
	"sync"
	"time"
)

type Result struct {
	Name     string        `json:"name"`
	Target   string        `json:"target"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Checker interface {
	Name() string
	Run(ctx context.Context) Result
}

// RunAll runs the checkers in parallel and returns results in input order.
func RunAll(ctx context.Context, checkers ...Checker) []Result {
	results := make([]Result, len(checkers))

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = checker.Run(ctx)
		}()
	}
	wg.Wait()

	return results
}

// Healthy reports whether every result succeeded.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

func failure(name, target string, start time.Time, err error) Result {
	return Result{
		Name:     name,
		Target:   target,
		Duration: time.Since(start),
		Error:    err.Error(),
	}
}
