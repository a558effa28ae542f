package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/toolmux/provider"
)

var healthCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// HealthEvent captures a scheduler-driven health evaluation result.
type HealthEvent struct {
	ProviderID    string
	PreviousState HealthState
	Report        HealthReport
}

// HealthEventHandler handles scheduler health events.
type HealthEventHandler func(event HealthEvent)

// HealthSchedulerConfig controls scheduled provider health checks.
type HealthSchedulerConfig struct {
	Checker   *HealthChecker
	Providers []provider.Descriptor
	// Schedule is a five-field UTC cron expression or a descriptor such as
	// "@every 30s".
	Schedule string
	Now      func() time.Time
	OnEvent  HealthEventHandler
	Logger   *slog.Logger
}

// HealthScheduler runs provider health checks on a cron schedule.
type HealthScheduler struct {
	checker   *HealthChecker
	providers []provider.Descriptor
	schedule  cron.Schedule
	now       func() time.Time
	onEvent   HealthEventHandler
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]HealthState
	cancel context.CancelFunc
	done   chan struct{}
}

// ParseHealthSchedule validates a UTC cron expression.
func ParseHealthSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("cron expression is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}
	schedule, err := healthCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NewHealthScheduler creates a health scheduler.
func NewHealthScheduler(cfg HealthSchedulerConfig) (*HealthScheduler, error) {
	if cfg.Checker == nil {
		return nil, errors.New("tool: health scheduler checker is nil")
	}
	schedule, err := ParseHealthSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(HealthEvent) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	providers := make([]provider.Descriptor, 0, len(cfg.Providers))
	for _, desc := range cfg.Providers {
		providers = append(providers, desc.Clone())
	}
	return &HealthScheduler{
		checker:   cfg.Checker,
		providers: providers,
		schedule:  schedule,
		now:       cfg.Now,
		onEvent:   cfg.OnEvent,
		logger:    cfg.Logger,
		states:    map[string]HealthState{},
	}, nil
}

// Next returns the next scheduled run after t.
func (s *HealthScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// Start begins scheduled checks in the background.
func (s *HealthScheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("tool: health scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			next := s.Next(s.now())
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop terminates scheduled checks and waits for an in-flight pass.
func (s *HealthScheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce checks every provider once and reports each result.
func (s *HealthScheduler) RunOnce(ctx context.Context) []HealthEvent {
	reports := s.checker.CheckAll(ctx, s.providers)
	events := make([]HealthEvent, 0, len(reports))
	for _, report := range reports {
		s.mu.Lock()
		previous, ok := s.states[report.ProviderID]
		if !ok {
			previous = HealthUnknown
		}
		s.states[report.ProviderID] = report.State
		s.mu.Unlock()

		emitHealthObservation(ProviderHealthObservation{
			ProviderID:    report.ProviderID,
			State:         report.State,
			PreviousState: previous,
			ToolCount:     report.ToolCount,
			DurationMS:    report.LatencyMS,
			ErrorCode:     report.ErrorCode,
		})
		if previous != report.State {
			s.logger.Info("provider health changed",
				"provider", report.ProviderID,
				"previous", previous,
				"state", report.State,
			)
		}

		event := HealthEvent{
			ProviderID:    report.ProviderID,
			PreviousState: previous,
			Report:        report,
		}
		s.onEvent(event)
		events = append(events, event)
	}
	return events
}
