package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// ThreadStatus is the lifecycle state of a support thread.
type ThreadStatus string

// ARCHITECTURAL DISCOVERY: Status values are the backend's wire strings so they can be
// sent and compared without translation.
const (
	StatusNew            ThreadStatus = "NEW"
	StatusInProgress     ThreadStatus = "IN_PROGRESS"
	StatusWaitingStudent ThreadStatus = "WAITING_STUDENT"
	StatusClosed         ThreadStatus = "CLOSED"
)

// StatusAll is the manager list filter value meaning "no status filter". It is never a thread status.
const StatusAll = "ALL"

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderStudent SenderType = "student"
	SenderManager SenderType = "manager"
	SenderSystem  SenderType = "system"
)

// Known topic tags offered by the chat widget.
const (
	TopicCourseAdvice   = "course_advice"
	TopicLessonIssue    = "lesson_issue"
	TopicPaymentIssue   = "payment_issue"
	TopicTechnicalIssue = "technical_issue"
)

// Role of an authenticated actor.
const (
	RoleStudent = "student"
	RoleManager = "manager"
)

// Participant is a reference to a student or manager.
type Participant struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
}

// Actor is an authenticated caller.
type Actor struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// Participant returns the public reference for the actor.
func (a Actor) Participant() *Participant {
	return &Participant{ID: a.ID, FullName: a.FullName}
}

// IsManager reports whether the actor works the support inbox.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager
}

// Rating is the student's post-resolution feedback.
type Rating struct {
	Rating    int        `json:"rating"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Message is a single entry in a thread. Messages are never edited or deleted.
type Message struct {
	ID          int64        `json:"id"`
	ThreadID    int64        `json:"threadId"`
	SenderType  SenderType   `json:"senderType"`
	Sender      *Participant `json:"sender,omitempty"`
	Content     string       `json:"content"`
	Attachments []string     `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Thread is one support conversation between a student and at most one manager.
// FUNCTIONAL DISCOVERY: Messages is insertion ordered, which is also chronological order.
type Thread struct {
	ID                 int64        `json:"id"`
	Status             ThreadStatus `json:"status"`
	Topic              string       `json:"topic"`
	Subject            string       `json:"subject,omitempty"`
	Origin             string       `json:"origin,omitempty"`
	Student            *Participant `json:"student,omitempty"`
	Manager            *Participant `json:"manager,omitempty"`
	CourseID           *int64       `json:"courseId,omitempty"`
	CourseTitle        string       `json:"courseTitle,omitempty"`
	LastMessagePreview string       `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time   `json:"lastMessageAt,omitempty"`
	UnreadForStudent   bool         `json:"unreadForStudent"`
	UnreadForManager   bool         `json:"unreadForManager"`
	Rating             *Rating      `json:"rating,omitempty"`
	Messages           []Message    `json:"messages,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// IsClosed reports whether the thread is read-only.
func (t *Thread) IsClosed() bool {
	return t != nil && t.Status == StatusClosed
}

// AppendMessage appends m unless a message with the same id is already in list.
// A poll can deliver a message before the POST that created it returns.
func AppendMessage(list []Message, m Message) []Message {
	if m.ID != 0 {
		for _, existing := range list {
			if existing.ID == m.ID {
				return list
			}
		}
	}
	return append(list, m)
}

// Clone returns a deep copy so callers can hold a snapshot without sharing slices.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	if t.Student != nil {
		s := *t.Student
		c.Student = &s
	}
	if t.Manager != nil {
		m := *t.Manager
		c.Manager = &m
	}
	if t.Rating != nil {
		r := *t.Rating
		c.Rating = &r
	}
	if t.Messages != nil {
		c.Messages = append([]Message(nil), t.Messages...)
	}
	return &c
}

// ThreadSummary is the body of a manager alert: a newly created thread.
type ThreadSummary struct {
	ID          int64        `json:"id"`
	Student     *Participant `json:"student,omitempty"`
	CourseTitle string       `json:"courseTitle,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
}

// Summarize builds the alert payload for a thread.
func (t *Thread) Summarize() ThreadSummary {
	return ThreadSummary{
		ID:          t.ID,
		Student:     t.Student,
		CourseTitle: t.CourseTitle,
		Topic:       t.Topic,
		CreatedAt:   &t.CreatedAt,
	}
}

// EntryContext describes where the student opened the chat from.
type EntryContext struct {
	CourseID    *int64 `json:"courseId,omitempty"`
	CourseTitle string `json:"courseTitle,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// Merge overlays non-empty fields of other onto a copy of c.
func (c EntryContext) Merge(other EntryContext) EntryContext {
	if other.CourseID != nil {
		c.CourseID = other.CourseID
	}
	if other.CourseTitle != "" {
		c.CourseTitle = other.CourseTitle
	}
	if other.Origin != "" {
		c.Origin = other.Origin
	}
	return c
}

// CreateThreadRequest opens a new thread with its first message.
type CreateThreadRequest struct {
	Topic       string   `json:"topic" validate:"required,max=64"`
	Message     string   `json:"message" validate:"required,max=4000"`
	Attachments []string `json:"attachments" validate:"max=10,dive,required"`
	CourseID    *int64   `json:"courseId,omitempty"`
	Subject     string   `json:"subject,omitempty" validate:"max=200"`
	Origin      string   `json:"origin,omitempty" validate:"max=200"`
}

// WithEntryContext fills course context fields the request leaves empty.
func (r CreateThreadRequest) WithEntryContext(entry *EntryContext) CreateThreadRequest {
	if entry == nil {
		return r
	}
	if r.CourseID == nil {
		r.CourseID = entry.CourseID
	}
	if r.Subject == "" {
		r.Subject = entry.CourseTitle
	}
	if r.Origin == "" {
		r.Origin = entry.Origin
	}
	return r
}

// SendMessageRequest appends a message to a thread.
type SendMessageRequest struct {
	Content     string   `json:"content" validate:"required,max=4000"`
	Attachments []string `json:"attachments" validate:"max=10,dive,required"`
}

// RatingRequest submits feedback for a thread.
type RatingRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=1000"`
}

// StatusRequest sets a thread's status.
type StatusRequest struct {
	Status ThreadStatus `json:"status" validate:"required"`
}

// TransferRequest hands a thread to another manager.
type TransferRequest struct {
	NewManagerID int64 `json:"newManagerId" validate:"required,gt=0"`
}

// ThreadFilter narrows the manager thread list.
type ThreadFilter struct {
	Status         string
	StudentKeyword string
	MineOnly       bool
	Page           int
	Size           int
}

// ThreadQuery is the repository form of a list request.
type ThreadQuery struct {
	StudentID int64
	ManagerID int64
	Status    ThreadStatus
	Keyword   string
	Page      int
	Size      int
}

// Upload is the response of the image upload endpoint.
type Upload struct {
	URL string `json:"url"`
}

// Page is a list envelope. The backend answers either with an envelope or a bare array.
type Page[T any] struct {
	Data          []T   `json:"data"`
	TotalElements int64 `json:"totalElements"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
}

// UnmarshalJSON accepts both the envelope and a bare JSON array.
func (p *Page[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = Page[T]{}
		return nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Data: items, TotalElements: int64(len(items)), Size: len(items)}
		return nil
	}
	type envelope Page[T]
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return err
	}
	*p = Page[T](env)
	return nil
}

// Total returns the server total, falling back to the number of items received.
func (p *Page[T]) Total() int64 {
	if p.TotalElements > 0 {
		return p.TotalElements
	}
	return int64(len(p.Data))
}
