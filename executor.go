package caravan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Executor launches agents concurrently under a parallelism bound and a
// per-agent wall-clock budget.
//
// Invocation failures never escape as Go errors: each outcome is materialized
// into an ExpertResult tagged ok, timeout, or error. Results come back in
// input order, not completion order. Launch order follows input order up to
// semaphore availability.
type Executor struct {
	invoker AgentInvoker
	timeout time.Duration
	sem     chan struct{}
	logger  *slog.Logger
}

// NewExecutor creates an executor with the given per-agent timeout and
// parallelism bound.
func NewExecutor(invoker AgentInvoker, timeout time.Duration, maxParallelism int, logger *slog.Logger) *Executor {
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	return &Executor{
		invoker: invoker,
		timeout: timeout,
		sem:     make(chan struct{}, maxParallelism),
		logger:  logger,
	}
}

// Execute invokes every agent and collects one ExpertResult per input ID,
// same length and order as agentIDs.
//
// When ctx is cancelled, outstanding invocations are cancelled and the
// partial results are discarded: Execute returns nil and ctx.Err().
func (x *Executor) Execute(ctx context.Context, agentIDs []string, query, sessionID string) ([]ExpertResult, error) {
	results := make([]ExpertResult, len(agentIDs))
	var wg sync.WaitGroup

	for i, agentID := range agentIDs {
		select {
		case x.sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = ExpertResult{
				AgentID:     agentID,
				Status:      StatusError,
				ErrorKind:   ErrKindCancelled,
				ErrorDetail: ctx.Err().Error(),
			}
			continue
		}

		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			defer func() { <-x.sem }()

			results[idx] = x.invokeOne(ctx, id, query, sessionID)
		}(i, agentID)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// invokeOne runs a single agent under the per-agent timeout, converting every
// failure mode into a tagged result.
func (x *Executor) invokeOne(ctx context.Context, agentID, query, sessionID string) (res ExpertResult) {
	start := time.Now()
	res = ExpertResult{AgentID: agentID}

	defer func() {
		res.LatencyMS = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			res = ExpertResult{
				AgentID:     agentID,
				Status:      StatusError,
				LatencyMS:   time.Since(start).Milliseconds(),
				ErrorKind:   ErrKindExpertError,
				ErrorDetail: fmt.Sprintf("panic: %v", r),
			}
			if x.logger != nil {
				x.logger.Error("agent panicked", "agent_id", agentID, "panic", r)
			}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	output, err := x.invoker.Invoke(callCtx, agentID, query, sessionID)
	if err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res.Status = StatusTimeout
			res.ErrorKind = ErrKindExpertTimeout
			res.ErrorDetail = fmt.Sprintf("exceeded %s", x.timeout)
		default:
			res.Status = StatusError
			res.ErrorKind = ErrKindExpertError
			res.ErrorDetail = errDetail(err)
		}
		if x.logger != nil {
			x.logger.Warn("agent invocation failed",
				"agent_id", agentID, "status", res.Status, "error", res.ErrorDetail)
		}
		return res
	}

	res.Status = StatusOK
	res.Output = output
	return res
}

// errDetail keeps error strings short enough for traces.
func errDetail(err error) string {
	const maxLen = 200
	s := err.Error()
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
