package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"supportdesk/pkg/types"
)

// DefaultAlertTTL is how long a new-thread alert stays visible.
const DefaultAlertTTL = 6 * time.Second

const (
	fallbackTitle    = "New student"
	fallbackSubtitle = "New support request"
)

// Alert is a transient "new thread" notice shown to managers.
type Alert struct {
	Key       string    `json:"key"`
	ThreadID  int64     `json:"threadId"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewAlert builds the alert text for a thread summary.
func NewAlert(summary types.ThreadSummary) Alert {
	a := Alert{
		Key:       uuid.NewString(),
		ThreadID:  summary.ID,
		Title:     fallbackTitle,
		Subtitle:  fallbackSubtitle,
		CreatedAt: time.Now(),
	}
	if summary.Student != nil && summary.Student.FullName != "" {
		a.Title = summary.Student.FullName
	}
	switch {
	case summary.CourseTitle != "":
		a.Subtitle = summary.CourseTitle
	case summary.Topic != "":
		a.Subtitle = summary.Topic
	}
	return a
}

// AlertQueue keeps alerts until their TTL expires or they are dismissed.
// TECHNICAL DISCOVERY: One time.AfterFunc per alert; keys are unique so two alerts for
// the same thread expire independently.
type AlertQueue struct {
	ttl      time.Duration
	onChange func([]Alert)

	mu     sync.Mutex
	alerts []Alert
	timers map[string]*time.Timer
	closed bool
}

// NewAlertQueue creates a queue. onChange, when non-nil, receives the visible alerts after
// every push or expiry.
func NewAlertQueue(ttl time.Duration, onChange func([]Alert)) *AlertQueue {
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	return &AlertQueue{
		ttl:      ttl,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
	}
}

// Push enqueues an alert for summary and schedules its dismissal.
func (q *AlertQueue) Push(summary types.ThreadSummary) Alert {
	alert := NewAlert(summary)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return alert
	}
	q.alerts = append(q.alerts, alert)
	q.timers[alert.Key] = time.AfterFunc(q.ttl, func() { q.Dismiss(alert.Key) })
	visible := q.listLocked()
	q.mu.Unlock()

	q.notify(visible)
	return alert
}

// Dismiss removes an alert early. It reports whether the alert was still visible.
func (q *AlertQueue) Dismiss(key string) bool {
	q.mu.Lock()
	idx := -1
	for i, a := range q.alerts {
		if a.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.alerts = append(q.alerts[:idx], q.alerts[idx+1:]...)
	if t, ok := q.timers[key]; ok {
		t.Stop()
		delete(q.timers, key)
	}
	visible := q.listLocked()
	q.mu.Unlock()

	q.notify(visible)
	return true
}

// List returns the visible alerts, oldest first.
func (q *AlertQueue) List() []Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked()
}

func (q *AlertQueue) listLocked() []Alert {
	return append([]Alert(nil), q.alerts...)
}

func (q *AlertQueue) notify(visible []Alert) {
	if q.onChange != nil {
		q.onChange(visible)
	}
}

// Clear cancels pending expiries and drops every alert. The queue stays usable.
func (q *AlertQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

// Close clears the queue and makes later pushes no-ops.
func (q *AlertQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.clearLocked()
}

func (q *AlertQueue) clearLocked() {
	for key, t := range q.timers {
		t.Stop()
		delete(q.timers, key)
	}
	q.alerts = nil
}
