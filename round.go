package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// the terminal state of every loop started in a round, keyed by queue url.
// GaveUp lists the queues removed after too many errors, their loops end as
// StateStopped.
type RoundReport struct {
	ID       string
	Started  time.Time
	Finished time.Time
	States   map[string]LoopState
	GaveUp   []string
}

func (r RoundReport) Count(state LoopState) int {
	n := 0
	for _, s := range r.States {
		if s == state {
			n++
		}
	}
	return n
}

// polls every registered subscription concurrently until a shared deadline
type RoundCoordinator struct {
	registry SubscriptionRegistry
	poller   *Poller
}

func NewRoundCoordinator(registry SubscriptionRegistry, poller *Poller) *RoundCoordinator {
	return &RoundCoordinator{
		registry: registry,
		poller:   poller,
	}
}

// starts one poll loop per subscription in the registry snapshot and returns once
// every loop has stopped. Loops are never interrupted, each one checks the deadline
// before it polls again, so a round can overrun the deadline by one receive wait.
func (rc *RoundCoordinator) RunRound(ctx context.Context, deadline time.Time) RoundReport {
	subs := rc.registry.List()
	report := RoundReport{
		ID:      xid.New().String(),
		Started: time.Now(),
		States:  make(map[string]LoopState, len(subs)),
	}
	rl := log.With().Str("round_id", report.ID).Logger()
	rl.Debug().Int("subscriptions", len(subs)).Time("deadline", deadline).Msg("Starting poll round")

	if len(subs) == 0 {
		report.Finished = time.Now()
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(len(subs))

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			state, gaveUp := StateCrashed, false
			defer func() {
				if r := recover(); r != nil {
					rl.Error().
						Str("queue_url", sub.QueueURL).
						Str("job", sub.JobName).
						Interface("panic", r).
						Msg("Poll loop recovered from panic")
				}
				mu.Lock()
				report.States[sub.QueueURL] = state
				if gaveUp {
					report.GaveUp = append(report.GaveUp, sub.QueueURL)
				}
				mu.Unlock()
			}()

			state, gaveUp = rc.poller.poll(ctx, sub, deadline)
			return nil
		})
	}

	_ = g.Wait()
	report.Finished = time.Now()
	sort.Strings(report.GaveUp)

	rl.Info().
		Int("subscriptions", len(subs)).
		Int("deregistered", report.Count(StateDeregistered)).
		Int("gave_up", len(report.GaveUp)).
		Int("crashed", report.Count(StateCrashed)).
		Dur("duration", report.Finished.Sub(report.Started)).
		Msg("Poll round finished")
	return report
}
