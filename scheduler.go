package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const defaultRecurrencePeriod = 600 * time.Second

// runs fn every interval, supplied by whatever embeds the poller
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) error
	Start()
	Stop() context.Context
}

// a Scheduler on robfig/cron, a run still in progress makes the next one skip
type CronScheduler struct {
	cron *cron.Cron
}

func NewCronScheduler() *CronScheduler {
	logger := cron.PrintfLogger(&log.Logger)
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// cron works in whole seconds, shorter intervals are rejected rather than rounded up
func (s *CronScheduler) Schedule(interval time.Duration, fn func()) error {
	if interval < time.Second {
		return fmt.Errorf("schedule interval %s is shorter than one second", interval)
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	return nil
}

func (s *CronScheduler) Start() {
	s.cron.Start()
}

func (s *CronScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// one round per period, each round must finish within its period
type PollTask struct {
	coordinator *RoundCoordinator
	syncer      Syncer
	period      time.Duration
	now         func() time.Time
}

func NewPollTask(coordinator *RoundCoordinator, period time.Duration) *PollTask {
	if period <= 0 {
		period = defaultRecurrencePeriod
	}
	return &PollTask{
		coordinator: coordinator,
		period:      period,
		now:         time.Now,
	}
}

// syncs the registry with s before every round
func (t *PollTask) WithSync(s Syncer) *PollTask {
	t.syncer = s
	return t
}

func (t *PollTask) Run(ctx context.Context) RoundReport {
	deadline := t.now().Add(t.period)
	if t.syncer != nil {
		if err := t.syncer.Sync(ctx); err != nil {
			// poll what is registered, the store is tried again next round
			log.Error().Err(err).Msg("Failed to sync subscriptions")
		}
	}
	return t.coordinator.RunRound(ctx, deadline)
}

// runs a first round straight away and then one every period until ctx is done,
// a round is skipped while the previous one is still running
func (t *PollTask) Start(ctx context.Context, scheduler Scheduler) error {
	var running sync.Mutex
	run := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.TryLock() {
			log.Warn().Msg("Previous poll round still running, skipping")
			return
		}
		defer running.Unlock()
		t.Run(ctx)
	}

	if err := scheduler.Schedule(t.period, run); err != nil {
		return err
	}
	scheduler.Start()
	go run()

	<-ctx.Done()
	log.Info().Msg("Waiting for the current poll round to finish")
	<-scheduler.Stop().Done()
	running.Lock()
	running.Unlock()
	return nil
}
