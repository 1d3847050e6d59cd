// Package context carries request and run identity through engine calls so
// that log lines of one run or one API request can be correlated.
package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext identifies the API request that triggered the work.
type TraceContext struct {
	TraceID   string
	RequestID string
}

// RunContext identifies one engine invocation and the branch lane in it.
type RunContext struct {
	RunID    string
	BranchID string
}

type (
	traceKey struct{}
	runKey   struct{}
)

func WithTrace(ctx context.Context, t *TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// GetTrace returns nil outside of a request.
func GetTrace(ctx context.Context) *TraceContext {
	t, _ := ctx.Value(traceKey{}).(*TraceContext)
	return t
}

// NewTraceContext fills missing ids with fresh UUIDs.
func NewTraceContext(traceID, requestID string) *TraceContext {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &TraceContext{TraceID: traceID, RequestID: requestID}
}

func WithRun(ctx context.Context, r *RunContext) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

// GetRun returns nil outside of an engine run.
func GetRun(ctx context.Context) *RunContext {
	r, _ := ctx.Value(runKey{}).(*RunContext)
	return r
}

func NewRunContext() *RunContext {
	return &RunContext{RunID: uuid.NewString()}
}

// ForBranch returns a copy scoped to one branch lane.
func (r *RunContext) ForBranch(branchID string) *RunContext {
	cp := *r
	cp.BranchID = branchID
	return &cp
}
