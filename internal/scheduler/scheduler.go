// Package scheduler polls every configured unit on a fixed interval or
// cron schedule, once eagerly shortly after startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"str-manager/config"
)

// ErrTickInProgress is returned by Tick when the previous tick has not
// finished yet.
var ErrTickInProgress = errors.New("a tick is already in progress")

// UnitProcessor runs one poll of one unit.
type UnitProcessor interface {
	ProcessUnit(ctx context.Context, unit config.UnitConfig) error
}

// Scheduler drives a UnitProcessor across all units.
type Scheduler struct {
	cfg       config.SchedulerConfig
	units     []config.UnitConfig
	processor UnitProcessor
	schedule  cron.Schedule
	loc       *time.Location

	// Held for the duration of a tick.
	running sync.Mutex
}

// New creates a scheduler. When cfg.Scheduler.Cron is set it replaces the
// fixed interval.
func New(cfg *config.Config, processor UnitProcessor) (*Scheduler, error) {
	s := &Scheduler{
		cfg:       cfg.Scheduler,
		units:     cfg.Units,
		processor: processor,
		loc:       cfg.Location,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = 1
	}
	if cfg.Scheduler.Cron != "" {
		schedule, err := cron.ParseStandard(cfg.Scheduler.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler.cron %q: %w", cfg.Scheduler.Cron, err)
		}
		s.schedule = schedule
	}
	return s, nil
}

// Run waits for the startup delay, ticks once, then keeps ticking until
// ctx is cancelled. Failed units are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Starting scheduler for %d units...", len(s.units))

	startup := time.NewTimer(s.cfg.StartupDelay)
	select {
	case <-ctx.Done():
		startup.Stop()
		log.Println("Scheduler shutting down.")
		return
	case <-startup.C:
	}
	s.runTick(ctx)

	if s.schedule != nil {
		s.runCron(ctx)
		return
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler shutting down.")
			return
		case <-timer.C:
			s.runTick(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) {
	c := cron.New(cron.WithLocation(s.loc))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runTick(ctx) }))
	c.Start()
	log.Printf("Scheduler following cron schedule %q", s.cfg.Cron)

	<-ctx.Done()
	log.Println("Scheduler shutting down.")
	<-c.Stop().Done()
}

func (s *Scheduler) runTick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		log.Printf("Tick finished with errors: %v", err)
	}
}

// Tick polls every unit once and waits for all of them. Units are spread
// over the configured number of workers; a failing unit does not stop the
// others. The returned error joins the per-unit failures.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrTickInProgress
	}
	defer s.running.Unlock()

	id := uuid.NewString()
	start := time.Now()
	log.Printf("[tick %s] polling %d units", id, len(s.units))

	jobs := make(chan config.UnitConfig)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	workers := min(s.cfg.Workers, len(s.units))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				if err := s.processor.ProcessUnit(ctx, unit); err != nil {
					log.Printf("[tick %s] [%s] poll failed: %v", id, unit.Name, err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("unit %s: %w", unit.Code, err))
					mu.Unlock()
				}
			}
		}()
	}

	for _, unit := range s.units {
		if ctx.Err() != nil {
			break
		}
		jobs <- unit
	}
	close(jobs)
	wg.Wait()

	log.Printf("[tick %s] done in %s, %d of %d units failed", id, time.Since(start).Round(time.Millisecond), len(errs), len(s.units))
	return errors.Join(errs...)
}
