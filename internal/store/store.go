// Package store holds the student's support chat state: the thread list, the active
// thread and its messages. It only ever reflects server-confirmed data.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// DefaultPageSize is the size of the student thread list request.
const DefaultPageSize = 25

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Actor          *types.Actor
	Threads        []types.Thread
	ActiveThread   *types.Thread
	Messages       []types.Message
	HasUnread      bool
	Open           bool
	Entry          types.EntryContext
	LoadingThreads bool
	LoadingThread  bool
	Sending        bool
	Creating       bool
}

// Authenticated reports whether an actor is logged in.
func (s Snapshot) Authenticated() bool {
	return s.Actor != nil
}

// ActiveID returns the active thread id or 0.
func (s Snapshot) ActiveID() int64 {
	if s.ActiveThread == nil {
		return 0
	}
	return s.ActiveThread.ID
}

// Store is an injected state container; every caller builds its own.
// ARCHITECTURAL DISCOVERY: RWMutex guards state and observers run outside the lock,
// so an observer may call back into the store.
type Store struct {
	api      interfaces.StudentAPI
	logger   *slog.Logger
	pageSize int

	mu        sync.RWMutex
	actor     *types.Actor
	epoch     uint64
	threads   []types.Thread
	active    *types.Thread
	messages  []types.Message
	hasUnread bool
	open      bool
	entry     types.EntryContext

	loadingThreads int
	loadingThread  int
	sending        bool
	creating       bool

	observers  map[int]func(Snapshot)
	observerID int
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPageSize overrides the thread list page size.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates an empty, unauthenticated store.
func New(api interfaces.StudentAPI, opts ...Option) *Store {
	s := &Store{
		api:       api,
		pageSize:  DefaultPageSize,
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logs.OrDefault(s.logger)
	return s
}

// Subscribe registers fn to run after every state change. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.observerID
	s.observerID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		HasUnread:      s.hasUnread,
		Open:           s.open,
		Entry:          s.entry,
		LoadingThreads: s.loadingThreads > 0,
		LoadingThread:  s.loadingThread > 0,
		Sending:        s.sending,
		Creating:       s.creating,
	}
	if s.actor != nil {
		a := *s.actor
		snap.Actor = &a
	}
	if s.threads != nil {
		snap.Threads = make([]types.Thread, len(s.threads))
		for i := range s.threads {
			snap.Threads[i] = *s.threads[i].Clone()
		}
	}
	snap.ActiveThread = s.active.Clone()
	if s.messages != nil {
		snap.Messages = append([]types.Message(nil), s.messages...)
	}
	return snap
}

// update runs fn under the write lock and then notifies observers.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

// current returns the login epoch and whether an actor is present.
func (s *Store) current() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch, s.actor != nil
}

// Login sets the authenticated actor and loads their threads.
func (s *Store) Login(ctx context.Context, actor types.Actor) error {
	s.update(func() {
		s.resetLocked()
		a := actor
		s.actor = &a
	})
	return s.RefreshThreads(ctx)
}

// Logout wipes every piece of session state. Responses still in flight are discarded.
func (s *Store) Logout() {
	s.update(func() {
		s.resetLocked()
		s.actor = nil
	})
}

func (s *Store) resetLocked() {
	s.epoch++
	s.threads = nil
	s.active = nil
	s.messages = nil
	s.hasUnread = false
	s.open = false
	s.entry = types.EntryContext{}
}

// RefreshThreads replaces the thread list with the first page from the server.
// Unauthenticated: clears the list without a request. On failure the previous list is kept.
func (s *Store) RefreshThreads(ctx context.Context) error {
	epoch, authed := s.current()
	if !authed {
		s.update(func() {
			s.threads = nil
			s.hasUnread = false
		})
		return nil
	}

	s.update(func() { s.loadingThreads++ })
	page, err := s.api.ListMyThreads(ctx, 0, s.pageSize)

	s.update(func() {
		s.loadingThreads--
		if err != nil || s.epoch != epoch {
			return
		}
		s.threads = page.Data
		if s.threads == nil {
			s.threads = []types.Thread{}
		}
		s.hasUnread = types.HasUnreadForStudent(s.threads)
	})
	if err != nil {
		s.logger.Error("failed to load support threads", "error", err)
		return err
	}
	return nil
}

// LoadThread fetches a thread, makes it active and replaces the message list wholesale.
// On failure the previous active thread is left untouched.
func (s *Store) LoadThread(ctx context.Context, threadID int64) (*types.Thread, error) {
	if threadID <= 0 {
		return nil, ErrInvalidThreadID
	}
	epoch, authed := s.current()
	if !authed {
		return nil, ErrNotAuthenticated
	}

	s.update(func() { s.loadingThread++ })
	thread, err := s.api.GetThread(ctx, threadID)

	s.update(func() {
		s.loadingThread--
		if err != nil || s.epoch != epoch {
			return
		}
		s.setActiveLocked(thread)
	})
	if err != nil {
		s.logger.Error("failed to load support thread", "thread_id", threadID, "error", err)
		return nil, err
	}
	return thread.Clone(), nil
}

// setActiveLocked keeps two independent views: the flat message list and the thread's own copy.
func (s *Store) setActiveLocked(thread *types.Thread) {
	s.active = thread.Clone()
	s.messages = append([]types.Message{}, thread.Messages...)
}

// CreateThread opens a new thread with the entry context merged under req.
// It makes the thread active, refreshes the list and opens the chat.
func (s *Store) CreateThread(ctx context.Context, req types.CreateThreadRequest) (*types.Thread, error) {
	epoch, authed := s.current()
	if !authed {
		return nil, ErrNotAuthenticated
	}

	s.mu.RLock()
	entry := s.entry
	s.mu.RUnlock()
	req = req.WithEntryContext(&entry)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.begin(&s.creating); err != nil {
		return nil, err
	}
	thread, err := s.api.CreateThread(ctx, req)
	if err != nil {
		s.update(func() { s.creating = false })
		s.logger.Error("failed to create support thread", "topic", req.Topic, "error", err)
		return nil, err
	}

	s.update(func() {
		if s.epoch == epoch {
			s.setActiveLocked(thread)
		}
	})
	if err := s.RefreshThreads(ctx); err != nil {
		s.logger.Warn("thread created but list refresh failed", "thread_id", thread.ID, "error", err)
	}
	s.update(func() {
		s.creating = false
		if s.epoch == epoch {
			s.open = true
		}
	})
	return thread.Clone(), nil
}

// begin claims an in-flight flag.
func (s *Store) begin(flag *bool) error {
	var err error
	s.update(func() {
		if *flag {
			err = types.ErrRequestInFlight
			return
		}
		*flag = true
	})
	return err
}

// SendMessage posts to the active thread. The server's copy is appended exactly once to
// both the flat list and the thread's embedded list, then the thread list is refreshed.
func (s *Store) SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.Message, error) {
	s.mu.RLock()
	active := s.active
	epoch := s.epoch
	var threadID int64
	closed := false
	if active != nil {
		threadID = active.ID
		closed = active.IsClosed()
	}
	s.mu.RUnlock()

	if active == nil {
		return nil, ErrNoActiveThread
	}
	if closed {
		return nil, types.ErrThreadClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.begin(&s.sending); err != nil {
		return nil, err
	}
	msg, err := s.api.SendMessage(ctx, threadID, req)
	if err != nil {
		s.update(func() { s.sending = false })
		s.logger.Error("failed to send support message", "thread_id", threadID, "error", err)
		return nil, err
	}

	s.update(func() {
		if s.epoch != epoch || s.active == nil || s.active.ID != threadID {
			return
		}
		s.messages = types.AppendMessage(s.messages, *msg)
		s.active.Messages = types.AppendMessage(s.active.Messages, *msg)
		s.active.LastMessagePreview = msg.Content
		at := msg.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.active.LastMessageAt = &at
	})
	if err := s.RefreshThreads(ctx); err != nil {
		s.logger.Warn("message sent but list refresh failed", "thread_id", threadID, "error", err)
	}
	s.update(func() { s.sending = false })

	out := *msg
	return &out, nil
}

// SubmitRating posts feedback for the active thread and merges the returned rating.
func (s *Store) SubmitRating(ctx context.Context, req types.RatingRequest) (*types.Rating, error) {
	s.mu.RLock()
	var threadID int64
	if s.active != nil {
		threadID = s.active.ID
	}
	epoch := s.epoch
	s.mu.RUnlock()

	if threadID == 0 {
		return nil, ErrNoActiveThread
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rating, err := s.api.SubmitRating(ctx, threadID, req)
	if err != nil {
		s.logger.Error("failed to submit support rating", "thread_id", threadID, "error", err)
		return nil, err
	}
	s.update(func() {
		if s.epoch == epoch && s.active != nil && s.active.ID == threadID {
			r := *rating
			s.active.Rating = &r
		}
	})
	out := *rating
	return &out, nil
}

// SetEntryContext merges where the student opened the chat from.
func (s *Store) SetEntryContext(entry types.EntryContext) {
	s.update(func() { s.entry = s.entry.Merge(entry) })
}

// OpenChat opens the widget, merging entry when given. With no active thread it loads
// the most recent one, if any.
func (s *Store) OpenChat(ctx context.Context, entry *types.EntryContext) error {
	var first int64
	s.update(func() {
		if entry != nil {
			s.entry = s.entry.Merge(*entry)
		}
		s.open = true
		if s.active == nil && len(s.threads) > 0 {
			first = s.threads[0].ID
		}
	})
	if first == 0 {
		return nil
	}
	_, err := s.LoadThread(ctx, first)
	return err
}

// CloseChat hides the widget. State is kept.
func (s *Store) CloseChat() {
	s.update(func() { s.open = false })
}

// StartNew clears the active thread so the next submission creates a new one.
func (s *Store) StartNew() {
	s.update(func() {
		s.active = nil
		s.messages = nil
	})
}
