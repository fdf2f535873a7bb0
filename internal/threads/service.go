package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// DefaultPageSize is used when a list request does not name a size.
const DefaultPageSize = 20

// Service implements interfaces.ThreadService on top of a ThreadRepository
// ARCHITECTURAL DISCOVERY: Every read-modify-write runs under one mutex. Writes are
// already serialized by the repository's writer goroutine, but the status checks
// that precede them must see the latest row.
type Service struct {
	repo      interfaces.ThreadRepository
	publisher interfaces.AlertPublisher
	managers  map[int64]types.Participant
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logs.OrDefault(logger) }
}

// WithClock replaces time.Now for message and thread timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a thread service. managers is the directory transfer targets are
// checked against; publisher may be nil when no alert fan-out is wired.
func NewService(repo interfaces.ThreadRepository, publisher interfaces.AlertPublisher, managers []types.Actor, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: publisher,
		managers:  make(map[int64]types.Participant, len(managers)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, m := range managers {
		if m.IsManager() {
			s.managers[m.ID] = *m.Participant()
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// ListMine returns the student's own threads.
func (s *Service) ListMine(ctx context.Context, student types.Actor, page, size int) (*types.Page[types.Thread], error) {
	if student.IsManager() {
		return nil, ErrStudentOnly
	}
	return s.list(ctx, types.ThreadQuery{StudentID: student.ID, Page: page, Size: size})
}

// ListForManager applies the inbox filters. Status "ALL" or empty means no status filter.
func (s *Service) ListForManager(ctx context.Context, manager types.Actor, filter types.ThreadFilter) (*types.Page[types.Thread], error) {
	if !manager.IsManager() {
		return nil, ErrManagerOnly
	}
	status := strings.ToUpper(strings.TrimSpace(filter.Status))
	if !types.IsValidFilterStatus(status) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStatus, filter.Status)
	}

	query := types.ThreadQuery{
		Keyword: strings.TrimSpace(filter.StudentKeyword),
		Page:    filter.Page,
		Size:    filter.Size,
	}
	if status != "" && status != types.StatusAll {
		query.Status = types.ThreadStatus(status)
	}
	if filter.MineOnly {
		query.ManagerID = manager.ID
	}
	return s.list(ctx, query)
}

func (s *Service) list(ctx context.Context, query types.ThreadQuery) (*types.Page[types.Thread], error) {
	if query.Page < 0 {
		query.Page = 0
	}
	if query.Size <= 0 {
		query.Size = DefaultPageSize
	}
	threads, total, err := s.repo.ListThreads(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	if threads == nil {
		threads = []types.Thread{}
	}
	return &types.Page[types.Thread]{
		Data:          threads,
		TotalElements: total,
		Page:          query.Page,
		Size:          query.Size,
	}, nil
}

// Create opens a NEW thread whose first message is the student's
func (s *Service) Create(ctx context.Context, student types.Actor, req types.CreateThreadRequest) (*types.Thread, error) {
	if student.IsManager() {
		return nil, ErrStudentOnly
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.timestamp()
	thread := &types.Thread{
		Status:             types.StatusNew,
		Topic:              strings.TrimSpace(req.Topic),
		Subject:            strings.TrimSpace(req.Subject),
		Origin:             req.Origin,
		Student:            student.Participant(),
		CourseID:           req.CourseID,
		LastMessagePreview: req.Message,
		LastMessageAt:      &now,
		UnreadForManager:   true,
		CreatedAt:          now,
	}
	// FUNCTIONAL DISCOVERY: The widget sends the course title as the subject when it
	// was opened from a course page
	if req.CourseID != nil {
		thread.CourseTitle = thread.Subject
	}
	first := &types.Message{
		SenderType:  types.SenderStudent,
		Sender:      student.Participant(),
		Content:     req.Message,
		Attachments: attachments(req.Attachments),
		CreatedAt:   now,
	}

	if err := s.repo.CreateThread(ctx, thread, first); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	thread.Messages = []types.Message{*first}

	s.logger.Info("thread created",
		"thread_id", thread.ID, "student_id", student.ID, "topic", thread.Topic)

	// Alert delivery is best effort; the thread already exists.
	if s.publisher != nil {
		if err := s.publisher.PublishThreadCreated(ctx, thread.Summarize()); err != nil {
			s.logger.Warn("failed to publish thread alert", "thread_id", thread.ID, "error", err)
		}
	}
	return thread, nil
}

// Get returns the full thread and clears the viewer's unread flag.
func (s *Service) Get(ctx context.Context, actor types.Actor, threadID int64) (*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.load(ctx, actor, threadID)
	if err != nil {
		return nil, err
	}

	changed := false
	if actor.IsManager() && thread.UnreadForManager {
		thread.UnreadForManager = false
		changed = true
	}
	if !actor.IsManager() && thread.UnreadForStudent {
		thread.UnreadForStudent = false
		changed = true
	}
	if changed {
		if err := s.repo.UpdateThread(ctx, thread); err != nil {
			return nil, fmt.Errorf("failed to mark thread read: %w", err)
		}
	}
	return thread, nil
}

// PostMessage appends a message from either side
// FUNCTIONAL DISCOVERY: The author's side is marked read and the other side unread.
// A student answering a WAITING_STUDENT thread hands it back to IN_PROGRESS.
func (s *Service) PostMessage(ctx context.Context, actor types.Actor, threadID int64, req types.SendMessageRequest) (*types.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.load(ctx, actor, threadID)
	if err != nil {
		return nil, err
	}
	if thread.IsClosed() {
		return nil, types.ErrThreadClosed
	}

	now := s.timestamp()
	message := &types.Message{
		Sender:      actor.Participant(),
		Content:     req.Content,
		Attachments: attachments(req.Attachments),
		CreatedAt:   now,
	}
	if actor.IsManager() {
		message.SenderType = types.SenderManager
		thread.UnreadForStudent = true
		thread.UnreadForManager = false
	} else {
		message.SenderType = types.SenderStudent
		thread.UnreadForManager = true
		thread.UnreadForStudent = false
		if thread.Status == types.StatusWaitingStudent {
			thread.Status = types.StatusInProgress
		}
	}
	thread.LastMessagePreview = req.Content
	thread.LastMessageAt = &now

	if err := s.repo.AppendMessage(ctx, thread, message); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	s.logger.Debug("message appended",
		"thread_id", thread.ID, "message_id", message.ID, "sender_type", message.SenderType)
	return message, nil
}

// Rate stores the owner's rating, replacing any earlier one.
func (s *Service) Rate(ctx context.Context, student types.Actor, threadID int64, req types.RatingRequest) (*types.Rating, error) {
	if student.IsManager() {
		return nil, ErrStudentOnly
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ctx, student, threadID); err != nil {
		return nil, err
	}
	now := s.timestamp()
	rating := &types.Rating{Rating: req.Rating, Comment: strings.TrimSpace(req.Comment), CreatedAt: &now}
	if err := s.repo.SaveRating(ctx, threadID, rating); err != nil {
		return nil, fmt.Errorf("failed to save rating: %w", err)
	}
	return rating, nil
}

// Claim assigns the caller. A NEW thread moves to IN_PROGRESS; the last claim wins.
func (s *Service) Claim(ctx context.Context, manager types.Actor, threadID int64) (*types.Thread, error) {
	return s.mutate(ctx, manager, threadID, func(thread *types.Thread) error {
		thread.Manager = manager.Participant()
		if thread.Status == types.StatusNew {
			thread.Status = types.StatusInProgress
		}
		return nil
	})
}

// ChangeStatus moves the thread along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, manager types.Actor, threadID int64, status types.ThreadStatus) (*types.Thread, error) {
	req := types.StatusRequest{Status: status}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, manager, threadID, func(thread *types.Thread) error {
		if !types.CanTransition(thread.Status, status) {
			return fmt.Errorf("%w: %s to %s", types.ErrInvalidTransition, thread.Status, status)
		}
		thread.Status = status
		return nil
	})
}

// Transfer hands the thread to another known manager.
func (s *Service) Transfer(ctx context.Context, manager types.Actor, threadID int64, newManagerID int64) (*types.Thread, error) {
	req := types.TransferRequest{NewManagerID: newManagerID}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, ok := s.managers[newManagerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownManager, newManagerID)
	}
	return s.mutate(ctx, manager, threadID, func(thread *types.Thread) error {
		thread.Manager = &target
		if thread.Status == types.StatusNew {
			thread.Status = types.StatusInProgress
		}
		return nil
	})
}

// mutate runs a manager-only change against an open thread and persists it.
func (s *Service) mutate(ctx context.Context, manager types.Actor, threadID int64, change func(*types.Thread) error) (*types.Thread, error) {
	if !manager.IsManager() {
		return nil, ErrManagerOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.load(ctx, manager, threadID)
	if err != nil {
		return nil, err
	}
	if thread.IsClosed() {
		return nil, types.ErrThreadClosed
	}
	if err := change(thread); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to update thread: %w", err)
	}

	managerID := int64(0)
	if thread.Manager != nil {
		managerID = thread.Manager.ID
	}
	s.logger.Info("thread updated",
		"thread_id", thread.ID, "status", thread.Status, "manager_id", managerID, "by", manager.ID)
	return thread, nil
}

// load fetches the thread and checks the actor may see it. Students only see their own.
func (s *Service) load(ctx context.Context, actor types.Actor, threadID int64) (*types.Thread, error) {
	if threadID <= 0 {
		return nil, interfaces.ErrThreadNotFound
	}
	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, interfaces.ErrThreadNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load thread %d: %w", threadID, err)
	}
	if !actor.IsManager() && (thread.Student == nil || thread.Student.ID != actor.ID) {
		return nil, interfaces.ErrForbidden
	}
	return thread, nil
}

func attachments(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}
