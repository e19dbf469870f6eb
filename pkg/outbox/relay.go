package outbox

import (
	"context"
	"errors"
	"time"
)

// Relay polls a Store and hands each claimed row to a Dispatcher. Failed
// dispatches are retried with exponential backoff until MaxAttempts, after
// which the row stays in the table as dead.
type Relay struct {
	store      Store
	dispatcher Dispatcher
	opts       RelayOptions
	label      string
}

func NewRelay(store Store, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if store == nil {
		return nil, invalidConfig("store is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	opts.setDefaults()
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	return &Relay{
		store:      store,
		dispatcher: dispatcher,
		opts:       opts,
		label:      store.Label(),
	}, nil
}

func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}
	leader, ok := r.store.(Leader)
	if !r.opts.SingleActive || !ok {
		setActive(r.label, true)
		return r.runLoop(ctx)
	}

	for {
		release, isLeader, err := leader.TryLead(ctx)
		if err != nil {
			r.opts.Logger.WithError(err).Warn("outbox: failed to attempt leader lock")
		}
		if isLeader {
			setActive(r.label, true)
			r.opts.Logger.WithField("queue", r.label).Info("outbox: relay became leader")
			err := r.runLoop(ctx)
			release()
			setActive(r.label, false)
			return err
		}
		setActive(r.label, false)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

func (r *Relay) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(nextDepthAt) {
			r.observeDepth(ctx)
			nextDepthAt = time.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.ProcessOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("outbox: process tick failed")
		}
	}
}

// ProcessOnce claims one batch and dispatches it, returning how many rows
// were claimed.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	now := time.Now()
	claimed, err := r.store.Claim(ctx, now, now.Add(-r.opts.LockTTL), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, c := range claimed {
		r.dispatchOne(ctx, c)
	}
	return len(claimed), nil
}

func (r *Relay) dispatchOne(ctx context.Context, c Claimed) {
	dispatchCtx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
	start := time.Now()
	err := r.dispatcher.Dispatch(dispatchCtx, DispatchedMessage{
		Meta: Meta{
			Queue:    r.label,
			Topic:    c.Topic,
			EventID:  c.EventID,
			Sequence: c.Sequence,
			Attempts: c.Attempts,
		},
		Payload: c.Payload,
	})
	cancel()
	took := time.Since(start)
	kind := r.opts.KindOf(c.Topic)
	log := r.opts.Logger.WithFields(logFields(c, r.label))

	if err == nil {
		recordDelivery(r.label, kind, resultDelivered, c, took)
		if ackErr := r.store.Ack(ctx, c.ID); ackErr != nil {
			log.WithError(ackErr).Warn("outbox: ack failed")
		}
		return
	}

	lastErr := clipError(err, r.opts.LastErrorMaxLen)

	if c.Attempts >= r.opts.MaxAttempts {
		recordDelivery(r.label, kind, resultDead, c, took)
		log.WithError(err).Error("outbox: message is dead")
		if deadErr := r.store.Dead(ctx, c.ID, lastErr); deadErr != nil {
			log.WithError(deadErr).Warn("outbox: dead update failed")
		}
		return
	}

	recordDelivery(r.label, kind, resultRetry, c, took)
	log.WithError(err).Info("outbox: dispatch failed, retrying")
	next := time.Now().Add(retryDelay(c.Attempts, r.opts.BaseBackoff, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
	if nackErr := r.store.Nack(ctx, c.ID, lastErr, next); nackErr != nil {
		log.WithError(nackErr).Warn("outbox: nack failed")
	}
}

func (r *Relay) observeDepth(ctx context.Context) {
	pending, locked, err := r.store.Depth(ctx)
	if err != nil {
		r.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
		return
	}
	recordDepth(r.label, pending, locked)
}

func logFields(c Claimed, queue string) map[string]any {
	return map[string]any{
		"queue":    queue,
		"topic":    c.Topic,
		"event_id": c.EventID.String(),
		"sequence": c.Sequence,
		"attempts": c.Attempts,
	}
}
