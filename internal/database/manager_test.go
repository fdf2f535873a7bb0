package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"supportdesk/pkg/database"
	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

var (
	an   = &types.Participant{ID: 1, FullName: "An"}
	binh = &types.Participant{ID: 2, FullName: "Binh"}
	minh = &types.Participant{ID: 100, FullName: "Minh"}
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, logs.Discard())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func newThread(student *types.Participant, topic string, at time.Time) (*types.Thread, *types.Message) {
	thread := &types.Thread{
		Status:             types.StatusNew,
		Topic:              topic,
		Student:            student,
		LastMessagePreview: "hello",
		LastMessageAt:      &at,
		UnreadForManager:   true,
		CreatedAt:          at,
	}
	first := &types.Message{
		SenderType: types.SenderStudent,
		Sender:     student,
		Content:    "hello",
		CreatedAt:  at,
	}
	return thread, first
}

func createThread(t *testing.T, m *Manager, student *types.Participant, topic string, at time.Time) *types.Thread {
	t.Helper()
	thread, first := newThread(student, topic, at)
	if err := m.CreateThread(context.Background(), thread, first); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	return thread
}

// Functional Validation Tests - threads

func TestManager_CreateAndGetThread(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	courseID := int64(12)
	thread, first := newThread(an, types.TopicPaymentIssue, now)
	thread.CourseID = &courseID
	thread.CourseTitle = "IELTS Foundation"
	first.Attachments = []string{"/uploads/a.png"}

	if err := m.CreateThread(ctx, thread, first); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if thread.ID == 0 || first.ID == 0 || first.ThreadID != thread.ID {
		t.Fatalf("Ids not assigned: thread=%d message=%d/%d", thread.ID, first.ID, first.ThreadID)
	}

	got, err := m.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Status != types.StatusNew || got.Topic != types.TopicPaymentIssue || got.Student.FullName != "An" {
		t.Errorf("Unexpected thread %+v", got)
	}
	if got.Manager != nil {
		t.Error("New thread should have no manager")
	}
	if got.CourseID == nil || *got.CourseID != 12 || got.CourseTitle != "IELTS Foundation" {
		t.Errorf("Course context lost: %+v", got)
	}
	if !got.UnreadForManager || got.UnreadForStudent {
		t.Error("Unread flags not persisted")
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" || len(got.Messages[0].Attachments) != 1 {
		t.Errorf("Unexpected messages %+v", got.Messages)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt mismatch: %v vs %v", got.CreatedAt, now)
	}
}

func TestManager_GetThreadNotFound(t *testing.T) {
	m := setupTestDB(t)
	if _, err := m.GetThread(context.Background(), 404); !errors.Is(err, interfaces.ErrThreadNotFound) {
		t.Errorf("Expected ErrThreadNotFound, got %v", err)
	}
}

func TestManager_AppendMessageKeepsOrder(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	thread := createThread(t, m, an, types.TopicLessonIssue, now)

	for i := 1; i <= 3; i++ {
		msg := &types.Message{
			SenderType: types.SenderManager,
			Sender:     minh,
			Content:    fmt.Sprintf("reply %d", i),
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}
		at := msg.CreatedAt
		thread.LastMessagePreview = msg.Content
		thread.LastMessageAt = &at
		thread.UnreadForStudent = true
		if err := m.AppendMessage(ctx, thread, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if msg.ID == 0 || msg.ThreadID != thread.ID {
			t.Errorf("Ids not assigned: %+v", msg)
		}
	}

	got, err := m.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(got.Messages))
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].ID <= got.Messages[i-1].ID {
			t.Error("Messages out of insertion order")
		}
	}
	if got.LastMessagePreview != "reply 3" || !got.UnreadForStudent {
		t.Errorf("Summary not updated: %+v", got)
	}
	if got.Messages[3].Sender == nil || got.Messages[3].Sender.ID != minh.ID {
		t.Error("Sender lost")
	}
	if got.Messages[3].Attachments == nil {
		t.Error("Attachments should decode as an empty list")
	}
}

func TestManager_AppendMessageUnknownThreadRollsBack(t *testing.T) {
	m := setupTestDB(t)
	ghost := &types.Thread{ID: 999, Status: types.StatusNew}
	msg := &types.Message{SenderType: types.SenderStudent, Content: "x", CreatedAt: time.Now()}

	if err := m.AppendMessage(context.Background(), ghost, msg); err == nil {
		t.Fatal("Expected an error for a missing thread")
	}
}

func TestManager_UpdateThread(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	thread := createThread(t, m, an, types.TopicLessonIssue, time.Now().UTC())

	thread.Status = types.StatusInProgress
	thread.Manager = minh
	thread.UnreadForManager = false
	if err := m.UpdateThread(ctx, thread); err != nil {
		t.Fatalf("UpdateThread failed: %v", err)
	}

	got, _ := m.GetThread(ctx, thread.ID)
	if got.Status != types.StatusInProgress || got.Manager == nil || got.Manager.ID != minh.ID || got.UnreadForManager {
		t.Errorf("Update not persisted: %+v", got)
	}

	if err := m.UpdateThread(ctx, &types.Thread{ID: 777, Status: types.StatusNew}); !errors.Is(err, interfaces.ErrThreadNotFound) {
		t.Errorf("Expected ErrThreadNotFound, got %v", err)
	}
}

func TestManager_SaveRating(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	thread := createThread(t, m, an, types.TopicLessonIssue, time.Now().UTC())

	if err := m.SaveRating(ctx, thread.ID, &types.Rating{Rating: 3}); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveRating(ctx, thread.ID, &types.Rating{Rating: 5, Comment: "thanks"}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetThread(ctx, thread.ID)
	if got.Rating == nil || got.Rating.Rating != 5 || got.Rating.Comment != "thanks" || got.Rating.CreatedAt == nil {
		t.Errorf("Expected the replaced rating, got %+v", got.Rating)
	}

	if err := m.SaveRating(ctx, 999, &types.Rating{Rating: 4}); !errors.Is(err, interfaces.ErrThreadNotFound) {
		t.Errorf("Expected ErrThreadNotFound, got %v", err)
	}
}

// Functional Validation Tests - list filters

func TestManager_ListThreads(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	t1 := createThread(t, m, an, types.TopicPaymentIssue, base)
	t2 := createThread(t, m, binh, types.TopicLessonIssue, base.Add(time.Minute))
	t3 := createThread(t, m, an, types.TopicCourseAdvice, base.Add(2*time.Minute))

	t2.Status = types.StatusInProgress
	t2.Manager = minh
	if err := m.UpdateThread(ctx, t2); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query types.ThreadQuery
		want  []int64
	}{
		{"all newest first", types.ThreadQuery{}, []int64{t3.ID, t2.ID, t1.ID}},
		{"student scope", types.ThreadQuery{StudentID: an.ID}, []int64{t3.ID, t1.ID}},
		{"status", types.ThreadQuery{Status: types.StatusInProgress}, []int64{t2.ID}},
		{"mine only", types.ThreadQuery{ManagerID: minh.ID}, []int64{t2.ID}},
		{"keyword on student", types.ThreadQuery{Keyword: "binh"}, []int64{t2.ID}},
		{"keyword on topic", types.ThreadQuery{Keyword: "PAYMENT"}, []int64{t1.ID}},
		{"page size", types.ThreadQuery{Size: 2}, []int64{t3.ID, t2.ID}},
		{"second page", types.ThreadQuery{Size: 2, Page: 1}, []int64{t1.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads, total, err := m.ListThreads(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			var got []int64
			for _, th := range threads {
				got = append(got, th.ID)
				if th.Messages != nil {
					t.Error("List entries must not carry messages")
				}
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if tt.query.Size == 0 && total != int64(len(tt.want)) {
				t.Errorf("Expected total %d, got %d", len(tt.want), total)
			}
		})
	}
}

// Functional Validation Tests - concurrency and lifecycle

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	thread := createThread(t, m, an, types.TopicLessonIssue, time.Now().UTC())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot := *thread
			msg := &types.Message{SenderType: types.SenderStudent, Sender: an, Content: fmt.Sprintf("m%d", i), CreatedAt: time.Now().UTC()}
			errs <- m.AppendMessage(ctx, &snapshot, msg)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent append failed: %v", err)
		}
	}

	got, _ := m.GetThread(ctx, thread.ID)
	if len(got.Messages) != 21 {
		t.Errorf("Expected 21 messages, got %d", len(got.Messages))
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	thread, first := newThread(an, "x", time.Now())
	if err := m.CreateThread(context.Background(), thread, first); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_InvalidConfig(t *testing.T) {
	if _, err := NewManager(&database.Config{}, nil); err == nil {
		t.Error("Expected error for empty config")
	}
}
