package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/pkg/protocol"
)

// Scheduler submits configured prompts to agents on cron expressions.
// Schedules are evaluated once per minute; a minute that passes while the
// daemon is down or busy is simply skipped, never caught up.
type Scheduler struct {
	manager   *Manager
	schedules []config.ScheduleSpec
	logger    *slog.Logger
	cron      *gronx.Gronx
}

func NewScheduler(manager *Manager, schedules []config.ScheduleSpec, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{manager: manager, logger: logger, cron: gronx.New()}
	for _, spec := range schedules {
		if !s.cron.IsValid(spec.Cron) {
			logger.Warn("schedule_invalid_cron", "cron", spec.Cron)
			continue
		}
		if spec.AgentID == "" && spec.Label == "" {
			logger.Warn("schedule_without_target", "cron", spec.Cron)
			continue
		}
		s.schedules = append(s.schedules, spec)
	}
	return s
}

// Run ticks until ctx is cancelled. Call in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.schedules) == 0 {
		return
	}
	s.logger.Info("scheduler_started", "schedules", len(s.schedules))
	ticker := time.NewTicker(time.Minute)
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
	for _, spec := range s.schedules {
		due, err := s.cron.IsDue(spec.Cron, now)
		if err != nil || !due {
			continue
		}
		for _, id := range s.targets(spec) {
			runID, err := s.manager.SendMessage(ctx, id, spec.Prompt, nil)
			if err != nil {
				s.logger.Warn("schedule_submit_failed", "agent_id", id, "error", err)
				continue
			}
			s.logger.Info("schedule_submitted", "agent_id", id, "run_id", runID, "cron", spec.Cron)
		}
	}
}

// targets resolves a schedule to agent ids: a direct id, or every
// non-archived agent matching a key=value label selector.
func (s *Scheduler) targets(spec config.ScheduleSpec) []string {
	if spec.AgentID != "" {
		return []string{spec.AgentID}
	}
	key, value, ok := splitLabel(spec.Label)
	if !ok {
		return nil
	}
	var ids []string
	for _, snap := range s.manager.List(map[string]string{key: value}, false) {
		if snap.Lifecycle == protocol.LifecycleRunning {
			// Skip busy agents rather than displacing their runs.
			continue
		}
		ids = append(ids, snap.ID)
	}
	return ids
}

func splitLabel(label string) (key, value string, ok bool) {
	for i := 0; i < len(label); i++ {
		if label[i] == '=' {
			return label[:i], label[i+1:], true
		}
	}
	return "", "", false
}
