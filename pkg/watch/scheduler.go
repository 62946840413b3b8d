package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"jw-notices/pkg/crawler"
)

// Runner performs one sync; *crawler.Syncer satisfies it
type Runner interface {
	Run(ctx context.Context, opts crawler.SyncOptions) (*crawler.SyncResult, error)
}

// Scheduler runs a sync of one portal every interval and records each outcome in watch_state.json
type Scheduler struct {
	runner       Runner
	portal       string
	interval     time.Duration
	opts         crawler.SyncOptions
	log          *logrus.Entry
	stateManager *StateManager
	now          func() time.Time
}

// NewScheduler creates a scheduler for portal (its base URL) persisting state in stateDir
func NewScheduler(runner Runner, portal, stateDir string, interval time.Duration, opts crawler.SyncOptions, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		runner:       runner,
		portal:       portal,
		interval:     interval,
		opts:         opts,
		log:          log.WithField("component", "watch"),
		stateManager: NewStateManager(stateDir),
		now:          time.Now,
	}
}

// State exposes the scheduler's state manager
func (s *Scheduler) State() *StateManager {
	return s.stateManager
}

// Run blocks, syncing whenever the portal is due, until ctx is cancelled.
// A failed sync is recorded and retried at the next interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", s.interval)
	}
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %s with interval %s", s.portal, FormatInterval(s.interval))
	s.logSchedule()

	for {
		now := s.now()
		if s.stateManager.ShouldRun(s.portal, s.interval, now) {
			s.runOnce(ctx)
		}
		if ctx.Err() != nil {
			s.log.Info("Watch scheduler shutting down...")
			return nil
		}

		next := s.stateManager.NextRunTime(s.portal, s.interval, s.now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		s.log.Infof("Next sync in %v (at %s)", wait.Round(time.Second), next.Format("15:04:05"))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-timer.C:
		}
	}
}

// runOnce runs a single sync and persists its outcome
func (s *Scheduler) runOnce(ctx context.Context) {
	started := s.now()
	result, err := s.runner.Run(ctx, s.opts)

	st := RunState{LastRunTime: started, LastRunSuccess: err == nil}
	if result != nil {
		st.LastRunID = result.RunID
		st.NoticesListed = result.NoticesListed
		st.DetailsFetched = result.DetailsFetched
		st.DetailFailures = result.DetailFailures
		st.Cursor = result.Cursor
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Warn("Sync interrupted by shutdown")
			return
		}
		st.ErrorMessage = err.Error()
		s.log.Errorf("Scheduled sync failed: %v", err)
	} else {
		s.log.WithFields(logrus.Fields{
			"listed":   st.NoticesListed,
			"fetched":  st.DetailsFetched,
			"failures": st.DetailFailures,
		}).Info("Scheduled sync finished")
	}

	s.stateManager.Record(s.portal, st)
	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
}

func (s *Scheduler) logSchedule() {
	st, ok := s.stateManager.Get(s.portal)
	if !ok {
		s.log.Info("Portal never synced, will sync immediately")
		return
	}
	status := "success"
	if !st.LastRunSuccess {
		status = "failed"
	}
	s.log.Infof("Last sync %s (%s, %d notices listed), next sync %s",
		st.LastRunTime.Format(time.RFC3339),
		status,
		st.NoticesListed,
		s.stateManager.NextRunTime(s.portal, s.interval, s.now()).Format(time.RFC3339))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a Go duration with an optional leading day count, e.g. 30m, 24h, 7d, 1d12h
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	dayPart, rest, found := strings.Cut(s, "d")
	days, err := strconv.Atoi(dayPart)
	if !found || err != nil || days < 0 {
		return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
	}

	d := time.Duration(days) * 24 * time.Hour
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %s", s)
		}
		d += extra
	}
	return d, nil
}
