package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMinRemaining = 5 * time.Second
	defaultMaxWait      = maxWaitTimeSeconds * time.Second
)

// how a poll loop ended
type LoopState string

const (
	StateStopped      LoopState = "stopped"
	StateDeregistered LoopState = "deregistered"
	StateCrashed      LoopState = "crashed"
)

type PollerConfig struct {
	// loops stop once the time left in the round is at or below this
	MinRemaining time.Duration
	MaxWait      time.Duration
	Quiet        bool
}

// runs the receive, consume, delete cycle for one subscription at a time
type Poller struct {
	config   PollerConfig
	client   QueueClient
	registry SubscriptionRegistry
	errors   *SleepingErrorCounter
	now      func() time.Time
}

func NewPoller(config PollerConfig, client QueueClient, registry SubscriptionRegistry, counter *SleepingErrorCounter) *Poller {
	if config.MinRemaining <= 0 {
		config.MinRemaining = defaultMinRemaining
	}
	if config.MaxWait <= 0 || config.MaxWait > defaultMaxWait {
		config.MaxWait = defaultMaxWait
	}
	return &Poller{
		config:   config,
		client:   client,
		registry: registry,
		errors:   counter,
		now:      time.Now,
	}
}

func (p *Poller) pollQueue(ctx context.Context, sub Subscription, deadline time.Time) LoopState {
	state, _ := p.poll(ctx, sub, deadline)
	return state
}

// runs the loop and also reports whether it ended by giving up on the
// subscription after too many errors, which still counts as StateStopped
func (p *Poller) poll(ctx context.Context, sub Subscription, deadline time.Time) (LoopState, bool) {
	ql := log.With().Str("queue_url", sub.QueueURL).Str("job", sub.JobName).Logger()

	for {
		remaining := deadline.Sub(p.now())
		if remaining <= p.config.MinRemaining || ctx.Err() != nil {
			ql.Debug().Dur("remaining", remaining).Msg("Poll loop finished for this round")
			return StateStopped, false
		}

		wait := min(p.config.MaxWait, remaining)
		messages, err := p.client.Receive(ctx, sub, int(wait/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return StateStopped, false
			}
			if errors.Is(err, ErrQueueNotFound) {
				p.deregister(ql, sub, err)
				return StateDeregistered, false
			}
			if p.handleError(ctx, ql, sub, err) {
				return StateStopped, true
			}
			continue
		}

		if len(messages) == 0 {
			p.errors.Reset(sub.QueueURL)
			continue
		}

		if err := p.dispatch(ctx, sub, messages); err != nil {
			if p.handleError(ctx, ql, sub, err) {
				return StateStopped, true
			}
			continue
		}

		if err := p.client.DeleteBatch(ctx, sub, messages); err != nil {
			if errors.Is(err, ErrQueueNotFound) {
				p.deregister(ql, sub, err)
				return StateDeregistered, false
			}
			if p.handleError(ctx, ql, sub, err) {
				return StateStopped, true
			}
			continue
		}

		p.errors.Reset(sub.QueueURL)
		if p.config.Quiet {
			ql.Debug().Int("count", len(messages)).Msg("Messages dispatched")
		} else {
			ql.Info().Int("count", len(messages)).Msg("Messages dispatched")
		}
	}
}

func (p *Poller) deregister(ql zerolog.Logger, sub Subscription, err error) {
	ql.Warn().Err(err).Msg("Queue does not exist anymore, removing subscription")
	p.registry.Remove(sub)
	p.errors.Reset(sub.QueueURL)
}

func (p *Poller) dispatch(ctx context.Context, sub Subscription, messages []Message) error {
	if sub.Consumer == nil {
		return &DispatchError{QueueURL: sub.QueueURL, Count: len(messages), Err: errors.New("no consumer bound")}
	}
	if err := sub.Consumer.Consume(ctx, messages); err != nil {
		return &DispatchError{QueueURL: sub.QueueURL, Count: len(messages), Err: err}
	}
	return nil
}

// records the error and reports whether the subscription has been deregistered
func (p *Poller) handleError(ctx context.Context, ql zerolog.Logger, sub Subscription, err error) bool {
	count := p.errors.RecordError(ctx, sub.QueueURL)
	if p.errors.IsOverThreshold(sub.QueueURL) {
		ql.Error().Err(err).Int("error_count", count).Msg("Too many errors, removing subscription")
		p.registry.Remove(sub)
		p.errors.Reset(sub.QueueURL)
		return true
	}

	ev := ql.Debug()
	if count*2 >= p.errors.MaxErrorCount() {
		ev = ql.Warn()
	}
	ev.Err(err).Int("error_count", count).Msg("Unexpected error polling queue")
	return false
}
