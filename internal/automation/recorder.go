package automation

import (
	"context"
	"errors"
)

// MultiRecorder fans a run record out to several recorders. Every recorder
// is called; their errors are joined.
type MultiRecorder []RunRecorder

// RecordRun implements RunRecorder.
func (m MultiRecorder) RecordRun(ctx context.Context, rec RunRecord) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordRun(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
