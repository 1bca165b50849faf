package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/metrics"
	"github.com/evalforge/backend/sandbox"
)

// supervise observes one execution unit until it settles. It joins the two
// weakly synchronized completion channels (unit-native completion status and
// exit code): when only the completion status is available the result is
// marked "exit code unknown" rather than guessed.
func (d *Dispatcher) supervise(sup *supervision) {
	ctx := context.Background()
	l := d.logger.With("eval_id", sup.ev.ID, "unit", sup.unit.ID)

	timeout := time.Duration(sup.ev.Reqs.TimeoutSec) * time.Second
	grace := sup.ev.Risk.GracePeriod()

	sigCh, err := d.watchWithRetry(ctx, sup)
	if err != nil {
		l.Error("watch could not be established", "error", err)
		d.settle(sup, eval.Failed{
			Meta:   d.meta(sup.ev.ID),
			Reason: "infrastructure",
		})
		return
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				// watch stream dropped mid-flight; transient, retry
				metrics.WatchRetries.Inc()
				l.Warn("watch stream dropped, re-establishing")
				sigCh, err = d.watchWithRetry(ctx, sup)
				if err != nil {
					l.Error("watch re-establish failed", "error", err)
					d.settle(sup, eval.Failed{
						Meta:   d.meta(sup.ev.ID),
						Reason: "infrastructure",
					})
					return
				}
				continue
			}
			if terminal := d.handleSignal(sup, sig); terminal {
				return
			}

		case <-deadline.C:
			d.enforceTimeout(ctx, sup, sigCh, grace)
			return

		case reason := <-sup.cancelCh:
			d.enforceCancel(ctx, sup, sigCh, grace, reason)
			return
		}
	}
}

// handleSignal applies one pre-deadline signal. Reports true once the
// evaluation settled.
func (d *Dispatcher) handleSignal(sup *supervision, sig sandbox.Signal) bool {
	switch sig.Kind {
	case sandbox.SignalStarted:
		d.publish(eval.Running{Meta: d.meta(sup.ev.ID), SysInfo: sig.SysInfo})
		return false

	case sandbox.SignalExited:
		// prefer the unit-native completion status over inferred codes:
		// a completion without a captured exit code is a success with the
		// code marked unknown, not a guessed zero
		if sig.ExitCode == nil {
			d.settle(sup, eval.Completed{
				Meta:        d.meta(sup.ev.ID),
				CodeUnknown: true,
				Output:      trimOutput(sig.Output),
			})
			return true
		}
		if *sig.ExitCode == 0 {
			d.settle(sup, eval.Completed{
				Meta:     d.meta(sup.ev.ID),
				ExitCode: sig.ExitCode,
				Output:   trimOutput(sig.Output),
			})
		} else {
			d.settle(sup, eval.Failed{
				Meta:     d.meta(sup.ev.ID),
				Reason:   "exit_code",
				ExitCode: sig.ExitCode,
				Output:   trimOutput(sig.Output),
			})
		}
		return true

	case sandbox.SignalFailed:
		reason := sig.Err
		if reason == "" {
			reason = "sandbox_reported"
		}
		d.settle(sup, eval.Failed{
			Meta:   d.meta(sup.ev.ID),
			Reason: reason,
		})
		return true
	}
	return false
}

// enforceTimeout implements the deadline policy: cooperative stop first,
// then a risk-scaled grace window to flush state. Whatever the unit reports
// after its deadline, the terminal state is timeout; the grace window only
// salvages output. The evaluation settles even if the unit never reports.
func (d *Dispatcher) enforceTimeout(ctx context.Context, sup *supervision, sigCh <-chan sandbox.Signal, grace time.Duration) {
	if err := d.provider.Terminate(ctx, sup.unit); err != nil {
		d.logger.Warn("cooperative stop failed", "eval_id", sup.ev.ID, "error", err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	output := ""
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				d.settle(sup, eval.TimedOut{Meta: d.meta(sup.ev.ID), Output: output})
				return
			}
			if sig.Kind == sandbox.SignalExited || sig.Kind == sandbox.SignalFailed {
				d.settle(sup, eval.TimedOut{
					Meta:   d.meta(sup.ev.ID),
					Output: trimOutput(sig.Output),
				})
				return
			}
		case <-graceTimer.C:
			d.settle(sup, eval.TimedOut{Meta: d.meta(sup.ev.ID), Output: output})
			return
		}
	}
}

// enforceCancel mirrors enforceTimeout for an explicit cancel request. If
// the unit happens to exit naturally while the stop is in flight, the
// settle CAS keeps whichever terminal event got there first.
func (d *Dispatcher) enforceCancel(ctx context.Context, sup *supervision, sigCh <-chan sandbox.Signal, grace time.Duration, reason string) {
	if err := d.provider.Terminate(ctx, sup.unit); err != nil {
		d.logger.Warn("cooperative stop failed", "eval_id", sup.ev.ID, "error", err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				d.settle(sup, eval.Cancelled{Meta: d.meta(sup.ev.ID), Reason: reason})
				return
			}
			if sig.Kind == sandbox.SignalExited || sig.Kind == sandbox.SignalFailed {
				d.settle(sup, eval.Cancelled{Meta: d.meta(sup.ev.ID), Reason: reason})
				return
			}
		case <-graceTimer.C:
			d.settle(sup, eval.Cancelled{Meta: d.meta(sup.ev.ID), Reason: reason})
			return
		}
	}
}

// watchWithRetry re-attempts the provider watch with exponential backoff
// until it succeeds or the configured elapsed bound is exceeded.
func (d *Dispatcher) watchWithRetry(ctx context.Context, sup *supervision) (<-chan sandbox.Signal, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = d.cfg.WatchRetryMaxElapsed

	var sigCh <-chan sandbox.Signal
	operation := func() error {
		ch, err := d.provider.Watch(ctx, sup.unit)
		if err != nil {
			metrics.WatchRetries.Inc()
			return err
		}
		sigCh = ch
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return sigCh, nil
}
