package workflow

import (
	"golang.org/x/sync/errgroup"

	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
)

// Call is one activity request in a Parallel batch.
type Call struct {
	Activity string
	Args     []any
	Options  ActivityOptions
}

// Parallel runs independent activities concurrently and returns their
// result payloads in call order.
//
// Sequence numbers are taken in call order before anything is dispatched,
// so the replay log is the same on every execution. Every call runs to
// its own outcome; the returned error is the first failure in call order.
func Parallel(wf *Workflow, calls ...Call) ([]*converter.Payload, error) {
	steps := make([]*step, len(calls))
	for i, c := range calls {
		steps[i] = wf.prepare(c.Options, c.Activity, c.Args)
	}

	results := make([]*converter.Payload, len(calls))
	errs := make([]error, len(calls))

	var g errgroup.Group
	for i, s := range steps {
		if s.done {
			results[i], errs[i] = s.result, s.err
			continue
		}
		g.Go(func() error {
			results[i], errs[i] = wf.dispatch(s.inv, s.queue, s.policy)
			return errs[i]
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Decode decodes one Parallel result into R. A payload that does not fit
// R is a non-retryable activity failure.
func Decode[R any](wf *Workflow, name string, p *converter.Payload) (R, error) {
	var out R
	if err := wf.env.converter.FromPayload(p, &out); err != nil {
		var zero R
		return zero, activity.NewError(name, activity.KindFailure, activity.NonRetryable(err))
	}
	return out, nil
}
