package faults

import (
	"context"
	"sync"
)

type recorderKey struct{}

// Recorder collects the fault codes injected during one execution. The
// orchestrator attaches one to the execution context and copies the codes
// onto the decision record at the end.
type Recorder struct {
	mu    sync.Mutex
	codes []Code
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) record(code Code) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
}

// Codes returns the injected codes in injection order, deduplicated.
func (r *Recorder) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Code]bool, len(r.codes))
	out := make([]string, 0, len(r.codes))
	for _, c := range r.codes {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, string(c))
	}
	return out
}

// WithRecorder attaches rec to ctx.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFrom returns the recorder attached to ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}
