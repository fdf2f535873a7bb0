package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Validator built once at package initialization; it caches
// struct metadata and is safe for concurrent use
var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldErrors maps a failing field to the sentinel the caller can match with errors.Is.
var fieldErrors = map[string]error{
	"Topic":        ErrTopicRequired,
	"Message":      ErrMessageRequired,
	"Content":      ErrMessageRequired,
	"Rating":       ErrInvalidRating,
	"Status":       ErrInvalidStatus,
	"NewManagerID": ErrInvalidManagerID,
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fe := verrs[0]
	switch {
	case fe.StructField() == "Attachments" && fe.Tag() == "max":
		return ErrTooManyAttachments
	case strings.HasPrefix(fe.StructField(), "Attachments"):
		return ErrInvalidAttachment
	case (fe.StructField() == "Message" || fe.StructField() == "Content") && fe.Tag() == "max":
		return ErrMessageTooLong
	}
	if sentinel, ok := fieldErrors[fe.StructField()]; ok {
		return sentinel
	}
	return fmt.Errorf("%w: %s failed on %s", ErrInvalidRequest, fe.Field(), fe.Tag())
}

// Validate checks the request before it is sent. Blank (whitespace only) text counts as empty.
func (r *CreateThreadRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return ErrTopicRequired
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrMessageRequired
	}
	return translate(validate.Struct(r))
}

// Validate checks the request before it is sent.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrMessageRequired
	}
	return translate(validate.Struct(r))
}

// Validate checks the rating score and comment length.
func (r *RatingRequest) Validate() error {
	return translate(validate.Struct(r))
}

// Validate checks that the status is a known thread status.
func (r *StatusRequest) Validate() error {
	if !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Validate checks the transfer target.
func (r *TransferRequest) Validate() error {
	return translate(validate.Struct(r))
}

// Valid reports whether s is one of the four thread statuses.
func (s ThreadStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusWaitingStudent, StatusClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s ThreadStatus) IsTerminal() bool {
	return s == StatusClosed
}

func (s ThreadStatus) rank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusInProgress:
		return 1
	case StatusWaitingStudent:
		return 2
	case StatusClosed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether a thread may move from one status to another.
// Status only moves forward along NEW → IN_PROGRESS → WAITING_STUDENT → CLOSED,
// except that WAITING_STUDENT may return to IN_PROGRESS. CLOSED is terminal.
// Setting the current status again is a no-op and allowed for open threads.
func CanTransition(from, to ThreadStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if from == StatusWaitingStudent && to == StatusInProgress {
		return true
	}
	return to.rank() >= from.rank()
}

// ParseStatus converts user input into a thread status.
func ParseStatus(s string) (ThreadStatus, error) {
	status := ThreadStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// IsValidFilterStatus accepts a thread status, ALL, or empty.
func IsValidFilterStatus(s string) bool {
	return s == "" || s == StatusAll || ThreadStatus(s).Valid()
}

// HasUnreadForStudent reports whether any thread carries unseen messages for the student.
func HasUnreadForStudent(threads []Thread) bool {
	for i := range threads {
		if threads[i].UnreadForStudent {
			return true
		}
	}
	return false
}

// HasUnreadForManager reports whether any thread carries unseen messages for the manager.
func HasUnreadForManager(threads []Thread) bool {
	for i := range threads {
		if threads[i].UnreadForManager {
			return true
		}
	}
	return false
}
