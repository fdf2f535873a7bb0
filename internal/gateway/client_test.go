package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// Architectural Validation Tests
func TestClient_InterfaceCompliance(t *testing.T) {
	var _ interfaces.StudentAPI = (*Client)(nil)
	var _ interfaces.ManagerAPI = (*Client)(nil)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithToken("student-token"), WithLogger(logs.Discard())}, opts...)
	return New(server.URL+"/", opts...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// Functional Validation Tests - request shape

func TestClient_ListMyThreads(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/support/threads/my" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("page") != "0" || r.URL.Query().Get("size") != "25" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer student-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if r.Header.Get(HeaderRequestID) == "" {
			t.Error("Request id header missing")
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data":          []types.Thread{{ID: 1, Status: types.StatusNew}},
			"totalElements": 1,
		})
	})

	page, err := client.ListMyThreads(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("ListMyThreads failed: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Status != types.StatusNew {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestClient_ListMyThreadsBareArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []types.Thread{{ID: 1}, {ID: 2}})
	})

	page, err := client.ListMyThreads(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("ListMyThreads failed: %v", err)
	}
	if page.Total() != 2 {
		t.Errorf("Expected 2 threads, got %d", page.Total())
	}
}

func TestClient_CreateThreadSendsEmptyAttachmentList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body["topic"] != types.TopicPaymentIssue || body["message"] != "Help with refund" {
			t.Errorf("Unexpected body %v", body)
		}
		if att, ok := body["attachments"].([]any); !ok || len(att) != 0 {
			t.Errorf("Expected empty attachments array, got %v", body["attachments"])
		}
		if _, ok := body["courseId"]; ok {
			t.Error("courseId should be omitted when unset")
		}
		writeJSON(t, w, http.StatusCreated, types.Thread{ID: 7, Status: types.StatusNew})
	})

	thread, err := client.CreateThread(context.Background(), types.CreateThreadRequest{
		Topic:   types.TopicPaymentIssue,
		Message: "Help with refund",
	})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if thread.ID != 7 {
		t.Errorf("Expected thread 7, got %d", thread.ID)
	}
}

func TestClient_SendMessageAndRating(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/support/threads/7/messages":
			writeJSON(t, w, http.StatusCreated, types.Message{ID: 3, ThreadID: 7, Content: "hello", SenderType: types.SenderStudent})
		case "/api/support/threads/7/rating":
			// Empty body: the client falls back to what it sent.
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	msg, err := client.SendMessage(ctx, 7, types.SendMessageRequest{Content: "hello"})
	if err != nil || msg.ID != 3 || msg.Content != "hello" {
		t.Fatalf("SendMessage = %+v, %v", msg, err)
	}

	rating, err := client.SubmitRating(ctx, 7, types.RatingRequest{Rating: 5, Comment: "thanks"})
	if err != nil {
		t.Fatalf("SubmitRating failed: %v", err)
	}
	if rating.Rating != 5 || rating.Comment != "thanks" {
		t.Errorf("Unexpected rating %+v", rating)
	}
}

func TestFilterQuery(t *testing.T) {
	q := FilterQuery(types.ThreadFilter{Status: types.StatusAll, StudentKeyword: "  ", Page: 0, Size: 40})
	if q.Has("status") || q.Has("studentKeyword") || q.Has("mineOnly") {
		t.Errorf("ALL, blank keyword and mineOnly=false must be omitted: %s", q.Encode())
	}
	if q.Get("size") != "40" || q.Get("page") != "0" {
		t.Errorf("Unexpected paging %s", q.Encode())
	}

	q = FilterQuery(types.ThreadFilter{Status: "NEW", StudentKeyword: " an ", MineOnly: true, Size: 40})
	if q.Get("status") != "NEW" || q.Get("studentKeyword") != "an" || q.Get("mineOnly") != "true" {
		t.Errorf("Unexpected query %s", q.Encode())
	}
}

func TestClient_ManagerEndpoints(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/support/manager/threads/5/status":
			var body types.StatusRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Status != types.StatusWaitingStudent {
				t.Errorf("Unexpected status body %+v", body)
			}
		case "/api/support/manager/threads/5/transfer":
			raw, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(raw), `"newManagerId":101`) {
				t.Errorf("Unexpected transfer body %s", raw)
			}
		case "/api/support/manager/threads/5/messages":
			writeJSON(t, w, http.StatusCreated, types.Message{ID: 9, Content: "on it"})
			return
		}
		writeJSON(t, w, http.StatusOK, types.Thread{ID: 5})
	}, WithToken("manager-token"))
	ctx := context.Background()

	if _, err := client.ClaimThread(ctx, 5); err != nil {
		t.Fatalf("ClaimThread failed: %v", err)
	}
	if _, err := client.ChangeStatus(ctx, 5, types.StatusWaitingStudent); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if _, err := client.TransferThread(ctx, 5, 101); err != nil {
		t.Fatalf("TransferThread failed: %v", err)
	}
	if msg, err := client.ManagerSendMessage(ctx, 5, types.SendMessageRequest{Content: "on it"}); err != nil || msg.ID != 9 {
		t.Fatalf("ManagerSendMessage = %+v, %v", msg, err)
	}

	want := []string{
		"POST /api/support/manager/threads/5/claim",
		"POST /api/support/manager/threads/5/status",
		"POST /api/support/manager/threads/5/transfer",
		"POST /api/support/manager/threads/5/messages",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("Calls = %v, want %v", calls, want)
	}
}

func TestClient_UploadImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "shot.png" || string(data) != "png-bytes" {
			t.Errorf("Unexpected upload %s %q", header.Filename, data)
		}
		writeJSON(t, w, http.StatusOK, types.Upload{URL: "/uploads/abc.png"})
	})

	url, err := client.UploadImage(context.Background(), "/tmp/shot.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if url != "/uploads/abc.png" {
		t.Errorf("Unexpected url %s", url)
	}
}

// Functional Validation Tests - error taxonomy

func TestClient_UnauthorizedHook(t *testing.T) {
	var fired atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	}, WithUnauthorizedHandler(func(e *APIError) {
		fired.Add(1)
		if e.Path != "/api/support/threads/my" {
			t.Errorf("Unexpected path in hook: %s", e.Path)
		}
	}))

	_, err := client.ListMyThreads(context.Background(), 0, 25)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", StatusCode(err))
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("Server message should be kept: %v", err)
	}
	if fired.Load() != 1 {
		t.Errorf("Hook fired %d times, want 1", fired.Load())
	}
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
		is     error
	}{
		{"json message", http.StatusBadRequest, `{"message":"Thread is closed"}`, "Thread is closed", nil},
		{"json error", http.StatusConflict, `{"error":"conflict"}`, "conflict", nil},
		{"plain text", http.StatusInternalServerError, "boom\n", "boom", nil},
		{"not found", http.StatusNotFound, ``, "Not Found", ErrNotFound},
		{"forbidden", http.StatusForbidden, `{"message":"managers only"}`, "managers only", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.GetThread(context.Background(), 1)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || !strings.Contains(apiErr.Error(), tt.want) {
				t.Errorf("Unexpected error %v", apiErr)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("Expected errors.Is(%v)", tt.is)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client := New(base, WithLogger(logs.Discard()))
	if _, err := client.GetThread(context.Background(), 1); err == nil {
		t.Error("Expected a transport error")
	}
}

func TestClient_TokenSwap(t *testing.T) {
	var seen atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, types.Thread{ID: 1})
	})

	client.SetToken("")
	if _, err := client.GetThread(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if seen.Load() != "" {
		t.Errorf("Anonymous request should carry no Authorization header, got %v", seen.Load())
	}

	client.SetToken("manager-token")
	if _, err := client.GetThread(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if seen.Load() != "Bearer manager-token" {
		t.Errorf("Expected swapped token, got %v", seen.Load())
	}
}

// Technical Validation Tests - tracing

func TestClient_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, types.Thread{ID: 12})
	}, WithTracerProvider(provider))

	if _, err := client.GetThread(context.Background(), 12); err != nil {
		t.Fatal(err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/support/threads/{id}" {
		t.Errorf("Span should be named by route template, got %q", spans[0].Name())
	}
}
