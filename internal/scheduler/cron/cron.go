// Package cron implements the scheduling half of the job broker (spec.md
// §4.7): parsing a standard 5-field cron expression or an interval literal,
// running a single leader-elected ticker cluster-wide, and publishing due
// jobs onto the broker. The cron.Parser usage follows
// goatflow's internal/services/scheduler options pattern
// (robfig/cron/v3), generalized from a fixed job list to dynamically
// registered schedules with pause/resume/cancel handles.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goatkit/pluginrt/internal/coordination"
	"github.com/goatkit/pluginrt/internal/errtaxonomy"
)

// intervalLiteral matches "30s", "5m", "1h", "1d" (spec.md §4.7).
var intervalLiteral = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

func parseInterval(expr string) (time.Duration, bool) {
	m := intervalLiteral.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, true
	case "m":
		return time.Duration(n) * time.Minute, true
	case "h":
		return time.Duration(n) * time.Hour, true
	case "d":
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Publisher enqueues a due schedule's job, mirroring the broker's Submit
// signature without importing the broker package (cron depends downward on
// coordination only).
type Publisher func(ctx context.Context, pluginID, handlerRef string, payload []byte) error

// Schedule is one registered recurring job.
type Schedule struct {
	ID         string
	PluginID   string
	HandlerRef string
	Expr       string
	Payload    []byte
	Location   *time.Location
	MaxRuns    int
	StartAt    *time.Time
	EndAt      *time.Time

	cronSchedule cron.Schedule
	interval     time.Duration

	mu      sync.Mutex
	paused  bool
	runs    int
	nextRun time.Time
}

// compile resolves Expr into either a cron.Schedule or a fixed interval.
func (s *Schedule) compile() error {
	if d, ok := parseInterval(s.Expr); ok {
		s.interval = d
		return nil
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cronParser.Parse(s.Expr)
	if err != nil {
		return errtaxonomy.Wrap(errtaxonomy.JobScheduleInvalid, fmt.Sprintf("invalid schedule expression %q", s.Expr), err)
	}
	s.cronSchedule = sched
	return nil
}

func (s *Schedule) computeNext(after time.Time) time.Time {
	if s.interval > 0 {
		return after.Add(s.interval)
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return s.cronSchedule.Next(after.In(loc))
}

func (s *Schedule) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	if s.MaxRuns > 0 && s.runs >= s.MaxRuns {
		return false
	}
	if s.StartAt != nil && now.Before(*s.StartAt) {
		return false
	}
	if s.EndAt != nil && now.After(*s.EndAt) {
		return false
	}
	if s.nextRun.IsZero() {
		s.nextRun = s.computeNext(now)
		return false
	}
	return !now.Before(s.nextRun)
}

func (s *Schedule) markFired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.nextRun = s.computeNext(now)
}

func (s *Schedule) Pause()  { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *Schedule) Resume() { s.mu.Lock(); s.paused = false; s.mu.Unlock() }

func (s *Schedule) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Scheduler owns the registered schedules and the single cluster-wide
// ticker, gated by a coordination.Leader so only one process ticks at a
// time (spec.md §4.7).
type Scheduler struct {
	publish      Publisher
	leader       coordination.Leader
	tickInterval time.Duration
	logger       *slog.Logger
	location     *time.Location

	mu        sync.Mutex
	schedules map[string]*Schedule
	cancels   map[string]func()
}

// Option configures optional Scheduler settings, following the functional-
// options pattern goatflow's internal/services/scheduler/options.go uses
// for its ticket-reminder scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithLocation sets the default timezone applied to schedules that don't
// set their own Location (spec.md §4.7: "UTC by default, configurable
// timezone").
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

func New(publish Publisher, leader coordination.Leader, tickInterval time.Duration, opts ...Option) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	s := &Scheduler{
		publish:      publish,
		leader:       leader,
		tickInterval: tickInterval,
		logger:       slog.Default(),
		location:     time.UTC,
		schedules:    make(map[string]*Schedule),
		cancels:      make(map[string]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register compiles and adds a schedule, defaulting its Location to the
// scheduler's configured default (UTC unless WithLocation was used).
func (s *Scheduler) Register(sched *Schedule) error {
	if sched.Location == nil {
		sched.Location = s.location
	}
	if err := sched.compile(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ID] = sched
	return nil
}

func (s *Scheduler) Pause(id string) error  { return s.withSchedule(id, (*Schedule).Pause) }
func (s *Scheduler) Resume(id string) error { return s.withSchedule(id, (*Schedule).Resume) }

func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return errtaxonomy.New(errtaxonomy.ValidationError, "no such schedule")
	}
	delete(s.schedules, id)
	return nil
}

func (s *Scheduler) withSchedule(id string, fn func(*Schedule)) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return errtaxonomy.New(errtaxonomy.ValidationError, "no such schedule")
	}
	fn(sched)
	return nil
}

func (s *Scheduler) GetNextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return sched.NextRun(), true
}

// ListJobs returns every registered schedule whose PluginID matches filter,
// or all of them if filter is empty.
func (s *Scheduler) ListJobs(filter string) []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		if filter == "" || strings.Contains(sched.PluginID, filter) {
			out = append(out, sched)
		}
	}
	return out
}

// Run campaigns for leadership (if a Leader is configured) and ticks once
// per tickInterval while holding it, publishing due schedules. If no Leader
// is configured, it ticks unconditionally (single-process deployments).
func (s *Scheduler) Run(ctx context.Context) {
	if s.leader == nil {
		s.tickLoop(ctx)
		return
	}
	for {
		lost, err := s.leader.Campaign(ctx)
		if err != nil {
			return
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.tickLoop(ctx)
		}()
		select {
		case <-ctx.Done():
			<-done
			return
		case <-lost:
			continue
		}
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Schedule, 0)
	for _, sched := range s.schedules {
		if sched.due(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		sched.markFired(now)
		if s.publish == nil {
			continue
		}
		if err := s.publish(ctx, sched.PluginID, sched.HandlerRef, sched.Payload); err != nil {
			s.logger.Error("failed to publish scheduled job", "scheduleId", sched.ID, "pluginId", sched.PluginID, "error", err)
		}
	}
}
