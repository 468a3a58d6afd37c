package provider

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/reachability"
	"github.com/rs/zerolog"
)

// RetryState is the position of one request in the reconnection retry machine.
type RetryState int

const (
	Pending RetryState = iota
	AwaitingReconnect
	Retrying
	Succeeded
	Failed
)

func (s RetryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case AwaitingReconnect:
		return "awaiting_reconnect"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// retryRequest tracks a single request. It is owned by one goroutine.
type retryRequest struct {
	state  RetryState
	logger zerolog.Logger
}

func (r *retryRequest) transition(to RetryState) {
	r.logger.Debug().Str("from", r.state.String()).Str("to", to.String()).Msg("Retry state changed.")
	r.state = to
}

// withRetry runs attempt and, if it fails while unreachable, parks until the
// signal reports reachable and runs it exactly once more.
// Only failures wrapping load.failure are retried.
func (p *Provider) withRetry(ctx context.Context, load loadSpec) ([]byte, error) {
	req := &retryRequest{state: Pending, logger: p.requestLogger(load)}

	data, err := p.attempt(ctx, load, req.logger)
	if err == nil {
		req.transition(Succeeded)
		return data, nil
	}
	if !errors.Is(err, load.failure) || p.signal.Current() == reachability.Reachable {
		req.transition(Failed)
		p.logFailure(req.logger, err)
		return nil, err
	}

	req.transition(AwaitingReconnect)
	reconnected := make(chan struct{}, 1)
	unsubscribe := p.signal.Subscribe(func(s reachability.State) {
		if s != reachability.Reachable {
			return
		}
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// A flip between the failure and the subscription would otherwise be missed.
	if p.signal.Current() == reachability.Reachable {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}

	var window <-chan time.Time
	if p.cfg.RetryWindow > 0 {
		timer := time.NewTimer(p.cfg.RetryWindow)
		defer timer.Stop()
		window = timer.C
	}

	select {
	case <-reconnected:
	case <-ctx.Done():
		unsubscribe()
		req.logger.Debug().Msg("Request abandoned while awaiting reconnect.")
		return nil, ctx.Err()
	case <-window:
		unsubscribe()
		req.transition(Failed)
		p.logFailure(req.logger, err)
		return nil, err
	}
	unsubscribe()

	req.transition(Retrying)
	p.recorder.Counters.Retries.Add(1)
	data, err = p.attempt(ctx, load, req.logger)
	if err != nil {
		req.transition(Failed)
		p.logFailure(req.logger, err)
		return nil, err
	}
	req.transition(Succeeded)
	return data, nil
}

func (p *Provider) logFailure(logger zerolog.Logger, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	logger.Error().Err(err).Msg("Media request failed.")
}
