// Package inbox is the manager console state: a filtered thread list, the selected
// conversation and the claim/status/transfer actions.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// DefaultPageSize is the size of the manager list request.
const DefaultPageSize = 40

// Filters narrow the thread list.
type Filters struct {
	Status         string
	StudentKeyword string
	MineOnly       bool
}

// Metrics summarize the loaded list.
type Metrics struct {
	Total      int64
	InProgress int
	Waiting    int
	Mine       int
}

// Snapshot is an immutable copy of the inbox state.
type Snapshot struct {
	Actor         types.Actor
	Filters       Filters
	Threads       []types.Thread
	Selected      *types.Thread
	Metrics       Metrics
	HasUnread     bool
	LoadingList   bool
	LoadingThread bool
	Sending       bool
}

// Inbox holds one manager's console state.
// ARCHITECTURAL DISCOVERY: Same locking shape as the student store; observers run after
// the lock is released.
type Inbox struct {
	api      interfaces.ManagerAPI
	actor    types.Actor
	logger   *slog.Logger
	pageSize int

	mu            sync.RWMutex
	filters       Filters
	threads       []types.Thread
	total         int64
	selected      *types.Thread
	loadingList   int
	loadingThread int
	sending       bool
	mutating      bool

	observers  map[int]func(Snapshot)
	observerID int
}

// Option configures an Inbox.
type Option func(*Inbox)

func WithLogger(l *slog.Logger) Option {
	return func(i *Inbox) { i.logger = l }
}

// WithPageSize overrides the list page size.
func WithPageSize(n int) Option {
	return func(i *Inbox) {
		if n > 0 {
			i.pageSize = n
		}
	}
}

// New creates an inbox for a manager. Filters start at ALL.
func New(api interfaces.ManagerAPI, actor types.Actor, opts ...Option) *Inbox {
	i := &Inbox{
		api:       api,
		actor:     actor,
		pageSize:  DefaultPageSize,
		filters:   Filters{Status: types.StatusAll},
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logs.OrDefault(i.logger)
	return i
}

// Subscribe registers fn to run after every state change. The returned func unsubscribes.
func (i *Inbox) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	i.mu.Lock()
	id := i.observerID
	i.observerID++
	i.observers[id] = fn
	i.mu.Unlock()

	return func() {
		i.mu.Lock()
		delete(i.observers, id)
		i.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the current state.
func (i *Inbox) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.snapshotLocked()
}

func (i *Inbox) snapshotLocked() Snapshot {
	snap := Snapshot{
		Actor:         i.actor,
		Filters:       i.filters,
		Selected:      i.selected.Clone(),
		Metrics:       i.metricsLocked(),
		HasUnread:     types.HasUnreadForManager(i.threads),
		LoadingList:   i.loadingList > 0,
		LoadingThread: i.loadingThread > 0,
		Sending:       i.sending,
	}
	if i.threads != nil {
		snap.Threads = make([]types.Thread, len(i.threads))
		for n := range i.threads {
			snap.Threads[n] = *i.threads[n].Clone()
		}
	}
	return snap
}

// FUNCTIONAL DISCOVERY: Total prefers the server count; the status buckets only cover
// the loaded page.
func (i *Inbox) metricsLocked() Metrics {
	m := Metrics{Total: i.total}
	if m.Total == 0 {
		m.Total = int64(len(i.threads))
	}
	for _, t := range i.threads {
		switch t.Status {
		case types.StatusInProgress:
			m.InProgress++
		case types.StatusWaitingStudent:
			m.Waiting++
		}
		if t.Manager != nil && t.Manager.ID == i.actor.ID {
			m.Mine++
		}
	}
	return m
}

func (i *Inbox) update(fn func()) {
	i.mu.Lock()
	fn()
	snap := i.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(i.observers))
	for _, o := range i.observers {
		observers = append(observers, o)
	}
	i.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

// SetFilters replaces the list filters. The keyword is trimmed. It does not reload.
func (i *Inbox) SetFilters(f Filters) error {
	f.Status = strings.ToUpper(strings.TrimSpace(f.Status))
	if f.Status == "" {
		f.Status = types.StatusAll
	}
	if !types.IsValidFilterStatus(f.Status) {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, f.Status)
	}
	f.StudentKeyword = strings.TrimSpace(f.StudentKeyword)
	i.update(func() { i.filters = f })
	return nil
}

// LoadThreads reloads the list with the current filters. On failure the previous list is kept.
func (i *Inbox) LoadThreads(ctx context.Context) error {
	var filter types.ThreadFilter
	i.update(func() {
		i.loadingList++
		filter = types.ThreadFilter{
			Status:         i.filters.Status,
			StudentKeyword: i.filters.StudentKeyword,
			MineOnly:       i.filters.MineOnly,
			Page:           0,
			Size:           i.pageSize,
		}
	})

	page, err := i.api.ManagerListThreads(ctx, filter)
	i.update(func() {
		i.loadingList--
		if err != nil {
			return
		}
		i.threads = page.Data
		if i.threads == nil {
			i.threads = []types.Thread{}
		}
		i.total = page.Total()
	})
	if err != nil {
		i.logger.Error("failed to load manager threads", "status", filter.Status, "error", err)
		return err
	}
	return nil
}

// OpenThread loads a thread into the conversation view.
func (i *Inbox) OpenThread(ctx context.Context, threadID int64) (*types.Thread, error) {
	if threadID <= 0 {
		return nil, ErrInvalidThreadID
	}
	i.update(func() { i.loadingThread++ })
	thread, err := i.api.GetThread(ctx, threadID)
	i.update(func() {
		i.loadingThread--
		if err == nil {
			i.selected = thread.Clone()
		}
	})
	if err != nil {
		i.logger.Error("failed to load manager thread", "thread_id", threadID, "error", err)
		return nil, err
	}
	return thread.Clone(), nil
}

// selectedForMutation returns the selected thread id, refusing CLOSED threads and
// concurrent mutations.
func (i *Inbox) selectedForMutation() (int64, types.ThreadStatus, error) {
	var (
		id     int64
		status types.ThreadStatus
		err    error
	)
	i.update(func() {
		switch {
		case i.selected == nil:
			err = ErrNoSelection
		case i.selected.IsClosed():
			err = types.ErrThreadClosed
		case i.mutating:
			err = types.ErrRequestInFlight
		default:
			id, status = i.selected.ID, i.selected.Status
			i.mutating = true
		}
	})
	return id, status, err
}

func (i *Inbox) endMutation() {
	i.update(func() { i.mutating = false })
}

// Claim assigns the current manager to the selected thread. Last claim wins.
func (i *Inbox) Claim(ctx context.Context) error {
	id, _, err := i.selectedForMutation()
	if err != nil {
		return err
	}
	defer i.endMutation()

	if _, err := i.api.ClaimThread(ctx, id); err != nil {
		i.logger.Error("failed to claim thread", "thread_id", id, "error", err)
		return err
	}
	i.logger.Info("thread claimed", "thread_id", id, "manager_id", i.actor.ID)
	return i.reload(ctx, id)
}

// ChangeStatus sets the selected thread's status.
func (i *Inbox) ChangeStatus(ctx context.Context, status types.ThreadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}
	id, current, err := i.selectedForMutation()
	if err != nil {
		return err
	}
	defer i.endMutation()

	if !types.CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, current, status)
	}
	if _, err := i.api.ChangeStatus(ctx, id, status); err != nil {
		i.logger.Error("failed to change thread status", "thread_id", id, "status", status, "error", err)
		return err
	}
	i.logger.Info("thread status changed", "thread_id", id, "from", current, "to", status)
	return i.reload(ctx, id)
}

// ParseManagerID reads a manager id typed by a user.
func ParseManagerID(input string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidManagerID, input)
	}
	return id, nil
}

// Transfer hands the selected thread to the manager whose id is typed in input.
// Non-numeric input fails before any request; the server decides whether the id exists.
func (i *Inbox) Transfer(ctx context.Context, input string) error {
	newManagerID, err := ParseManagerID(input)
	if err != nil {
		return err
	}
	return i.TransferTo(ctx, newManagerID)
}

// TransferTo hands the selected thread to newManagerID.
func (i *Inbox) TransferTo(ctx context.Context, newManagerID int64) error {
	req := types.TransferRequest{NewManagerID: newManagerID}
	if err := req.Validate(); err != nil {
		return err
	}
	id, _, err := i.selectedForMutation()
	if err != nil {
		return err
	}
	defer i.endMutation()

	if _, err := i.api.TransferThread(ctx, id, newManagerID); err != nil {
		i.logger.Error("failed to transfer thread", "thread_id", id, "new_manager_id", newManagerID, "error", err)
		return err
	}
	i.logger.Info("thread transferred", "thread_id", id, "new_manager_id", newManagerID)
	return i.reload(ctx, id)
}

// reload re-fetches the thread and the list together. Neither view trusts the
// mutation response as final.
func (i *Inbox) reload(ctx context.Context, threadID int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := i.OpenThread(gctx, threadID)
		return err
	})
	g.Go(func() error {
		return i.LoadThreads(gctx)
	})
	return g.Wait()
}

// SendMessage replies on the selected thread. Content is trimmed and must not be blank.
// The server's copy is appended to the conversation, then the list is reloaded.
func (i *Inbox) SendMessage(ctx context.Context, content string) (*types.Message, error) {
	req := types.SendMessageRequest{Content: strings.TrimSpace(content)}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		id  int64
		err error
	)
	i.update(func() {
		switch {
		case i.selected == nil:
			err = ErrNoSelection
		case i.selected.IsClosed():
			err = types.ErrThreadClosed
		case i.sending:
			err = types.ErrRequestInFlight
		default:
			id = i.selected.ID
			i.sending = true
		}
	})
	if err != nil {
		return nil, err
	}

	msg, err := i.api.ManagerSendMessage(ctx, id, req)
	if err != nil {
		i.update(func() { i.sending = false })
		i.logger.Error("failed to send manager reply", "thread_id", id, "error", err)
		return nil, err
	}

	i.update(func() {
		if i.selected == nil || i.selected.ID != id {
			return
		}
		i.selected.Messages = types.AppendMessage(i.selected.Messages, *msg)
		i.selected.LastMessagePreview = msg.Content
		at := msg.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		i.selected.LastMessageAt = &at
	})
	if err := i.LoadThreads(ctx); err != nil {
		i.logger.Warn("reply sent but list refresh failed", "thread_id", id, "error", err)
	}
	i.update(func() { i.sending = false })

	out := *msg
	return &out, nil
}
