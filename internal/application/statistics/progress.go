package statistics

import "context"

// Progress is a snapshot of how far a long-running job has got
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ProgressFunc receives progress updates from a running job
type ProgressFunc func(Progress)

type progressKey struct{}

// WithProgress attaches a progress callback to ctx
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

func reportProgress(ctx context.Context, done, total int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(Progress{Done: done, Total: total})
	}
}
