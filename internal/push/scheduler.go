package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/crewtasks/internal/availability"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/points"
	"github.com/dukerupert/crewtasks/internal/store"
)

// Sender delivers a payload to one subscription. *Service implements it.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// TaskSource lists the current tasks. *taskstore.Store implements it.
type TaskSource interface {
	Tasks() []model.Task
}

// Scheduler periodically reminds assignees about overdue tasks and fans
// out ad hoc notifications from handlers.
type Scheduler struct {
	mu            sync.RWMutex
	sender        Sender
	tasks         TaskSource
	push          *store.PushStore
	notifications *store.NotificationStore
	profiles      *store.ProfileStore
	logger        *slog.Logger
	now           func() time.Time
	interval      time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a notification scheduler. sender may be nil, in which
// case only notification rows are written.
func NewScheduler(sender Sender, tasks TaskSource, pushStore *store.PushStore, notifications *store.NotificationStore, profiles *store.ProfileStore, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sender:        sender,
		tasks:         tasks,
		push:          pushStore,
		notifications: notifications,
		profiles:      profiles,
		logger:        logger,
		now:           time.Now,
		interval:      15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one reminder pass and returns how many reminders it issued.
func (s *Scheduler) Tick() int {
	now := s.now()
	sent := s.checkOverdue(now)

	// Records must outlive a points period; tier announcements are keyed by it.
	if err := s.push.CleanupSent(now.AddDate(0, 0, -40)); err != nil {
		s.logger.Error("push scheduler: cleanup sent", "error", err)
	}
	return sent
}

func (s *Scheduler) checkOverdue(now time.Time) int {
	today := model.DateOf(now).String()
	sent := 0

	for _, task := range availability.Overdue(s.tasks.Tasks(), now) {
		refID := fmt.Sprintf("%s-%s", task.ID, today)

		already, err := s.push.WasSent(model.NotifTypeTaskOverdue, refID)
		if err != nil {
			s.logger.Error("push scheduler: check sent", "task_id", task.ID, "error", err)
			continue
		}
		if already {
			continue
		}

		profile, err := s.profiles.GetByID(task.AssignedTo)
		if err != nil {
			s.logger.Error("push scheduler: load assignee", "task_id", task.ID, "error", err)
			continue
		}
		if profile == nil || !profile.IsApproved {
			continue
		}

		days := -availability.DaysUntilDue(task, now)
		message := fmt.Sprintf("%q is overdue by %d day(s)", task.Title, days)
		s.Notify(profile.ID, model.NotifTypeTaskOverdue, message, Payload{
			Title: "Task overdue",
			Body:  message,
			URL:   "/tasks/" + task.ID,
			Tag:   "overdue-" + task.ID,
		})

		if err := s.push.RecordSent(model.NotifTypeTaskOverdue, refID); err != nil {
			s.logger.Error("push scheduler: record sent", "task_id", task.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Notify stores a notification for userID and pushes it to each of the
// user's devices. Failures are logged and otherwise ignored.
func (s *Scheduler) Notify(userID, notifType, message string, payload Payload) {
	if _, err := s.notifications.Create(userID, notifType, message); err != nil {
		s.logger.Error("push: create notification", "user_id", userID, "type", notifType, "error", err)
	}
	if s.sender == nil {
		return
	}

	subs, err := s.push.ListByUser(userID)
	if err != nil {
		s.logger.Error("push: list subscriptions", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		if err := s.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := s.push.DeleteByEndpoint(sub.Endpoint); err != nil {
					s.logger.Error("push: delete expired subscription", "error", err)
				}
				continue
			}
			s.logger.Warn("push: send", "user_id", userID, "type", notifType, "error", err)
		}
	}
}

// AnnounceTiers notifies each user who has reached a reward tier in the
// current period, once per tier and period. periodKey identifies the
// period, e.g. its start date. It returns how many users were notified.
func (s *Scheduler) AnnounceTiers(totals model.UserPoints, tiers []model.RewardTier, periodKey string) int {
	sent := 0
	for userID, earned := range totals {
		tier, ok := points.AttainedTier(earned, tiers)
		if !ok {
			continue
		}
		refID := fmt.Sprintf("%s-%s-%s", userID, periodKey, tier.ID)
		already, err := s.push.WasSent(model.NotifTypeTierReached, refID)
		if err != nil {
			s.logger.Error("push: check tier sent", "user_id", userID, "error", err)
			continue
		}
		if already {
			continue
		}
		profile, err := s.profiles.GetByID(userID)
		if err != nil {
			s.logger.Error("push: load tier recipient", "user_id", userID, "error", err)
			continue
		}
		if profile == nil || !profile.IsApproved {
			continue
		}

		message := fmt.Sprintf("You reached %d points: %s", tier.Points, tier.Reward)
		s.Notify(userID, model.NotifTypeTierReached, message, Payload{
			Title: "Reward tier reached",
			Body:  message,
			URL:   "/rewards",
			Tag:   "tier-" + tier.ID,
		})
		if err := s.push.RecordSent(model.NotifTypeTierReached, refID); err != nil {
			s.logger.Error("push: record tier sent", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
