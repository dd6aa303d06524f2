// Package taskstore owns the canonical task collection and reward
// configuration. Every mutation rewrites the full persisted state through
// the Storage port; Refresh reloads it, treating storage as authoritative.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/crewtasks/internal/apperr"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/points"
	"github.com/dukerupert/crewtasks/internal/recurrence"
)

// Change tables published after mutations.
const (
	TableTasks  = "tasks"
	TablePoints = "points"
)

// Change events, named as the row events they mirror.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

var (
	// ErrAlreadyCompleted is returned when completing a completed task.
	ErrAlreadyCompleted = fmt.Errorf("%w: task already completed", apperr.ErrValidation)
	// ErrNotLoaded is returned by mutations issued before Load.
	ErrNotLoaded = errors.New("task store not loaded")
)

// Publisher receives a notice for each committed change. Publish must not
// block.
type Publisher interface {
	Publish(table, event string, payload any)
}

// TaskInput carries the caller-editable fields of a task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssignedTo  string     `json:"assignedTo"`
	AssignedBy  string     `json:"assignedBy"`
	Category    string     `json:"category"`
	Recurrence  string     `json:"recurrence"`
	DueDate     model.Date `json:"dueDate"`
	Priority    string     `json:"priority"`
	Points      int        `json:"points"`
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSeed replaces the first-run task set.
func WithSeed(seed func(now time.Time, newID func() string) []model.Task) Option {
	return func(s *Store) { s.seed = seed }
}

// WithoutSeed loads a missing task collection as empty and leaves
// storage untouched. Read-only tools use it.
func WithoutSeed() Option {
	return func(s *Store) { s.seed = nil }
}

type change struct {
	table   string
	event   string
	payload any
}

type Store struct {
	mu        sync.Mutex
	storage   Storage
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	seed      func(now time.Time, newID func() string) []model.Task

	loaded  bool
	tasks   []model.Task
	tiers   []model.RewardTier
	target  int
	resetAt time.Time
}

func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		seed:    DefaultSeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted state. A missing task collection is seeded
// and the seed persisted at once; it is never regenerated afterwards.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, true)
}

// Refresh reloads persisted state, discarding in-memory changes that
// storage has not observed.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, false)
}

// Save persists the full state.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	return s.saveLocked(ctx)
}

func (s *Store) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

func (s *Store) Task(id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Task{}, fmt.Errorf("task %q: %w", id, apperr.ErrNotFound)
	}
	return s.tasks[i], nil
}

func (s *Store) RewardTiers() []model.RewardTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tiers)
}

func (s *Store) MonthlyTarget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// UserPoints totals completed points per user over the current period.
func (s *Store) UserPoints() model.UserPoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPointsLocked()
}

// Period is the window points are counted in: the current calendar
// month, starting no earlier than the last administrative reset.
func (s *Store) Period() points.Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodLocked()
}

// Create validates input and adds a pending task.
//
// As with every mutation, a returned error wrapping apperr.ErrPersistence
// means the change is applied in memory but was not durably written.
func (s *Store) Create(ctx context.Context, in TaskInput) (model.Task, error) {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.Task{}, ErrNotLoaded
	}

	task, err := s.validate(in)
	if err != nil {
		return model.Task{}, err
	}
	task.ID = s.newID()
	task.CreatedAt = s.now()
	task.Status = model.StatusPending

	s.tasks = append(s.tasks, task)
	changes = append(changes, change{TableTasks, EventInsert, task})
	return task, s.saveLocked(ctx)
}

// Update edits an open task. Completed tasks are frozen, points included.
func (s *Store) Update(ctx context.Context, id string, in TaskInput) (model.Task, error) {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.Task{}, ErrNotLoaded
	}

	i := s.indexOf(id)
	if i < 0 {
		return model.Task{}, fmt.Errorf("task %q: %w", id, apperr.ErrNotFound)
	}
	existing := s.tasks[i]
	if existing.IsCompleted() {
		return model.Task{}, fmt.Errorf("%w: completed tasks cannot be edited", apperr.ErrValidation)
	}
	edited, err := s.validate(in)
	if err != nil {
		return model.Task{}, err
	}
	edited.ID = existing.ID
	edited.CreatedAt = existing.CreatedAt
	edited.Status = existing.Status

	s.tasks[i] = edited
	changes = append(changes, change{TableTasks, EventUpdate, edited})
	return edited, s.saveLocked(ctx)
}

// SetStatus moves an open task between pending and in-progress. Use
// Complete to finish a task.
func (s *Store) SetStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.Task{}, ErrNotLoaded
	}

	if status != model.StatusPending && status != model.StatusInProgress {
		return model.Task{}, fmt.Errorf("%w: status %q cannot be set directly", apperr.ErrValidation, status)
	}
	i := s.indexOf(id)
	if i < 0 {
		return model.Task{}, fmt.Errorf("task %q: %w", id, apperr.ErrNotFound)
	}
	if s.tasks[i].IsCompleted() {
		return model.Task{}, ErrAlreadyCompleted
	}
	if s.tasks[i].Status == status {
		return s.tasks[i], nil
	}

	s.tasks[i].Status = status
	changes = append(changes, change{TableTasks, EventUpdate, s.tasks[i]})
	return s.tasks[i], s.saveLocked(ctx)
}

// Complete marks a task completed and, for recurring tasks, inserts the
// next occurrence. Completing an already completed task fails with
// ErrAlreadyCompleted and creates no successor.
func (s *Store) Complete(ctx context.Context, id string) (model.Task, *model.Task, error) {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.Task{}, nil, ErrNotLoaded
	}

	i := s.indexOf(id)
	if i < 0 {
		return model.Task{}, nil, fmt.Errorf("task %q: %w", id, apperr.ErrNotFound)
	}
	task := s.tasks[i]
	if task.IsCompleted() {
		return model.Task{}, nil, ErrAlreadyCompleted
	}
	// Reject a bad cadence before anything changes.
	if task.Recurrence != model.RecurrenceOnce && !recurrence.IsRecurring(task.Recurrence) {
		return model.Task{}, nil, fmt.Errorf("task %q: %w: %q", id, recurrence.ErrInvalidRecurrence, task.Recurrence)
	}

	now := s.now()
	task.Status = model.StatusCompleted
	task.CompletedAt = &now
	s.tasks[i] = task
	changes = append(changes,
		change{TableTasks, EventUpdate, task},
		change{TablePoints, EventUpdate, s.pointsPayloadLocked(task.AssignedTo)},
	)
	saveErr := s.saveLocked(ctx)

	if !recurrence.IsRecurring(task.Recurrence) {
		return task, nil, saveErr
	}

	next, err := recurrence.Successor(task, now, s.newID())
	if err != nil {
		return task, nil, err
	}
	s.tasks = append(s.tasks, next)
	changes = append(changes, change{TableTasks, EventInsert, next})
	if err := s.saveLocked(ctx); err != nil {
		saveErr = err
	}
	return task, &next, saveErr
}

// Delete removes a task; it no longer counts toward any aggregate.
func (s *Store) Delete(ctx context.Context, id string) error {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("task %q: %w", id, apperr.ErrNotFound)
	}
	removed := s.tasks[i]
	s.tasks = slices.Delete(s.tasks, i, i+1)

	changes = append(changes, change{TableTasks, EventDelete, map[string]string{"id": removed.ID}})
	if removed.IsCompleted() {
		changes = append(changes, change{TablePoints, EventUpdate, s.pointsPayloadLocked(removed.AssignedTo)})
	}
	return s.saveLocked(ctx)
}

// UpdateRewardTiers replaces the tier configuration, keeping its order.
func (s *Store) UpdateRewardTiers(ctx context.Context, tiers []model.RewardTier) ([]model.RewardTier, error) {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, ErrNotLoaded
	}

	out := make([]model.RewardTier, 0, len(tiers))
	for i, t := range tiers {
		t.Reward = strings.TrimSpace(t.Reward)
		if t.Reward == "" {
			return nil, fmt.Errorf("%w: tier %d: reward is required", apperr.ErrValidation, i)
		}
		if t.Points < 0 {
			return nil, fmt.Errorf("%w: tier %d: points must be >= 0", apperr.ErrValidation, i)
		}
		if t.ID == "" {
			t.ID = s.newID()
		}
		out = append(out, t)
	}

	s.tiers = out
	changes = append(changes, change{TablePoints, EventUpdate, map[string]any{"rewardTiers": out}})
	return slices.Clone(out), s.saveLocked(ctx)
}

func (s *Store) UpdateMonthlyTarget(ctx context.Context, target int) error {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if target < 0 {
		return fmt.Errorf("%w: monthly target must be >= 0", apperr.ErrValidation)
	}

	s.target = target
	changes = append(changes, change{TablePoints, EventUpdate, map[string]any{"monthlyTarget": target}})
	return s.saveLocked(ctx)
}

// ResetUserPoints starts a new counting window at the current instant.
// Completions before the reset stop counting toward this month's totals.
func (s *Store) ResetUserPoints(ctx context.Context) error {
	var changes []change
	defer func() { s.publish(changes) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	s.resetAt = s.now()
	changes = append(changes, change{TablePoints, EventUpdate, map[string]any{"userPoints": s.userPointsLocked()}})
	return s.saveLocked(ctx)
}

func (s *Store) validate(in TaskInput) (model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Task{}, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}
	assignee := strings.TrimSpace(in.AssignedTo)
	if assignee == "" {
		return model.Task{}, fmt.Errorf("%w: assignee is required", apperr.ErrValidation)
	}
	if in.DueDate.IsZero() {
		return model.Task{}, fmt.Errorf("%w: due date is required", apperr.ErrValidation)
	}
	if in.Points < 0 {
		return model.Task{}, fmt.Errorf("%w: points must be >= 0", apperr.ErrValidation)
	}
	rec, err := recurrence.Parse(in.Recurrence)
	if err != nil {
		return model.Task{}, err
	}

	priority := model.Priority(strings.ToLower(strings.TrimSpace(in.Priority)))
	switch priority {
	case "":
		priority = model.PriorityMedium
	case model.PriorityLow, model.PriorityMedium, model.PriorityHigh:
	default:
		return model.Task{}, fmt.Errorf("%w: unknown priority %q", apperr.ErrValidation, in.Priority)
	}

	category := model.Category(strings.ToLower(strings.TrimSpace(in.Category)))
	switch category {
	case "":
		category = model.CategoryCustom
		if rec == model.RecurrenceDaily {
			category = model.CategoryDaily
		}
	case model.CategoryDaily, model.CategoryCustom, model.CategoryCompleted:
	default:
		return model.Task{}, fmt.Errorf("%w: unknown category %q", apperr.ErrValidation, in.Category)
	}

	return model.Task{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		AssignedTo:  assignee,
		AssignedBy:  strings.TrimSpace(in.AssignedBy),
		Category:    category,
		Recurrence:  rec,
		DueDate:     in.DueDate,
		Priority:    priority,
		Points:      in.Points,
	}, nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}

func (s *Store) periodLocked() points.Period {
	p := points.MonthOf(s.now())
	if s.resetAt.After(p.Start) {
		p.Start = s.resetAt
	}
	return p
}

// userPointsLocked is derived on every call so totals follow the
// period across month boundaries.
func (s *Store) userPointsLocked() model.UserPoints {
	return points.Totals(s.tasks, s.periodLocked())
}

func (s *Store) pointsPayloadLocked(userID string) map[string]any {
	return map[string]any{"user_id": userID, "points": s.userPointsLocked()[userID]}
}

func (s *Store) publish(changes []change) {
	if s.publisher == nil {
		return
	}
	for _, c := range changes {
		s.publisher.Publish(c.table, c.event, c.payload)
	}
}

func (s *Store) loadLocked(ctx context.Context, seedIfMissing bool) error {
	var tasks []model.Task
	found, err := s.getJSON(ctx, KeyTasks, &tasks)
	if err != nil {
		return err
	}
	seeded := false
	if !found {
		if !seedIfMissing {
			// Nothing persisted yet; keep what we have.
			return nil
		}
		if s.seed != nil {
			tasks = s.seed(s.now(), s.newID)
			seeded = true
		}
	}

	tiers := DefaultRewardTiers()
	if _, err := s.getJSON(ctx, KeyRewardTiers, &tiers); err != nil {
		return err
	}
	target := DefaultMonthlyTarget
	if _, err := s.getJSON(ctx, KeyMonthlyTarget, &target); err != nil {
		return err
	}
	var resetAt time.Time
	if _, err := s.getJSON(ctx, KeyPointsResetAt, &resetAt); err != nil {
		return err
	}

	s.tasks = tasks
	s.tiers = tiers
	s.target = target
	s.resetAt = resetAt
	s.loaded = true

	if seeded {
		s.logger.Info("seeded task store", "tasks", len(tasks))
		return s.saveLocked(ctx)
	}
	return nil
}

func (s *Store) saveLocked(ctx context.Context) error {
	entries := []struct {
		key   string
		value any
	}{
		{KeyTasks, s.tasks},
		{KeyRewardTiers, s.tiers},
		{KeyMonthlyTarget, s.target},
		{KeyUserPoints, s.userPointsLocked()},
		{KeyPointsResetAt, s.resetAt},
	}
	for _, e := range entries {
		data, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("%w: marshal %s: %v", apperr.ErrPersistence, e.key, err)
		}
		if err := s.storage.Set(ctx, e.key, string(data)); err != nil {
			s.logger.Error("persist state", "key", e.key, "error", err)
			return fmt.Errorf("%w: write %s: %w", apperr.ErrPersistence, e.key, err)
		}
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", apperr.ErrPersistence, key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", apperr.ErrPersistence, key, err)
	}
	return true, nil
}
