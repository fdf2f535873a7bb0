package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "supportdesk/pkg/database"
	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// busyRetryDelay is the pause before the single retry of a write that hit a locked database.
const busyRetryDelay = 50 * time.Millisecond

// Manager implements interfaces.ThreadRepository on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts the writer.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewEmbeddedMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logs.OrDefault(logger),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			// FUNCTIONAL DISCOVERY: Only a busy or locked database is retried, once;
			// constraint failures are final.
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", "error", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		// The loop may have finished the operation before it saw the shutdown.
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// CreateThread stores a thread with its first message and assigns both ids.
func (m *Manager) CreateThread(ctx context.Context, thread *types.Thread, first *types.Message) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO threads (status, topic, subject, origin, student_id, student_name, manager_id, manager_name,
				course_id, course_title, last_message_preview, last_message_at, unread_for_student, unread_for_manager, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, threadArgs(thread)...)
		if err != nil {
			return fmt.Errorf("failed to insert thread: %w", err)
		}
		threadID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		var messageID int64
		if first != nil {
			first.ThreadID = threadID
			if messageID, err = insertMessage(ctx, tx, first); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit thread creation: %w", err)
		}
		thread.ID = threadID
		if first != nil {
			first.ID = messageID
		}
		return nil
	})
}

func threadArgs(t *types.Thread) []any {
	var studentID int64
	var studentName string
	if t.Student != nil {
		studentID, studentName = t.Student.ID, t.Student.FullName
	}
	var managerID sql.NullInt64
	var managerName sql.NullString
	if t.Manager != nil {
		managerID = sql.NullInt64{Int64: t.Manager.ID, Valid: true}
		managerName = sql.NullString{String: t.Manager.FullName, Valid: true}
	}
	var courseID sql.NullInt64
	if t.CourseID != nil {
		courseID = sql.NullInt64{Int64: *t.CourseID, Valid: true}
	}
	var lastAt sql.NullTime
	if t.LastMessageAt != nil {
		lastAt = sql.NullTime{Time: *t.LastMessageAt, Valid: true}
	}
	return []any{
		t.Status, t.Topic, t.Subject, t.Origin, studentID, studentName, managerID, managerName,
		courseID, t.CourseTitle, t.LastMessagePreview, lastAt, t.UnreadForStudent, t.UnreadForManager, t.CreatedAt,
	}
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *types.Message) (int64, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	// TECHNICAL DISCOVERY: JSON serialization keeps the attachment list in one column
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	var senderID sql.NullInt64
	var senderName sql.NullString
	if msg.Sender != nil {
		senderID = sql.NullInt64{Int64: msg.Sender.ID, Valid: true}
		senderName = sql.NullString{String: msg.Sender.FullName, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, sender_type, sender_id, sender_name, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ThreadID, msg.SenderType, senderID, senderName, msg.Content, string(attachmentsJSON), msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

const threadColumns = `
	t.id, t.status, t.topic, t.subject, t.origin, t.student_id, t.student_name, t.manager_id, t.manager_name,
	t.course_id, t.course_title, t.last_message_preview, t.last_message_at, t.unread_for_student,
	t.unread_for_manager, t.created_at, r.rating, r.comment, r.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*types.Thread, error) {
	var (
		t           types.Thread
		studentID   int64
		studentName string
		managerID   sql.NullInt64
		managerName sql.NullString
		courseID    sql.NullInt64
		lastAt      sql.NullTime
		rating      sql.NullInt64
		comment     sql.NullString
		ratedAt     sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.Status, &t.Topic, &t.Subject, &t.Origin, &studentID, &studentName, &managerID, &managerName,
		&courseID, &t.CourseTitle, &t.LastMessagePreview, &lastAt, &t.UnreadForStudent,
		&t.UnreadForManager, &t.CreatedAt, &rating, &comment, &ratedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Student = &types.Participant{ID: studentID, FullName: studentName}
	if managerID.Valid {
		t.Manager = &types.Participant{ID: managerID.Int64, FullName: managerName.String}
	}
	if courseID.Valid {
		id := courseID.Int64
		t.CourseID = &id
	}
	if lastAt.Valid {
		at := lastAt.Time
		t.LastMessageAt = &at
	}
	if rating.Valid {
		t.Rating = &types.Rating{Rating: int(rating.Int64), Comment: comment.String}
		if ratedAt.Valid {
			at := ratedAt.Time
			t.Rating.CreatedAt = &at
		}
	}
	return &t, nil
}

// GetThread returns the thread with messages in insertion order and its rating.
func (m *Manager) GetThread(ctx context.Context, threadID int64) (*types.Thread, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+threadColumns+`
		FROM threads t LEFT JOIN ratings r ON r.thread_id = t.id
		WHERE t.id = ?`, threadID)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}

	messages, err := m.threadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	thread.Messages = messages
	return thread, nil
}

func (m *Manager) threadMessages(ctx context.Context, threadID int64) ([]types.Message, error) {
	// FUNCTIONAL DISCOVERY: id order is insertion order, which is chronological order
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_type, sender_id, sender_name, content, attachments, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.Message{}
	for rows.Next() {
		var (
			msg             types.Message
			senderID        sql.NullInt64
			senderName      sql.NullString
			attachmentsJSON string
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SenderType, &senderID, &senderName,
			&msg.Content, &attachmentsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if senderID.Valid {
			msg.Sender = &types.Participant{ID: senderID.Int64, FullName: senderName.String}
		}
		if err := json.Unmarshal([]byte(attachmentsJSON), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// ListThreads returns one page without messages, most recent activity first, and the total.
func (m *Manager) ListThreads(ctx context.Context, query types.ThreadQuery) ([]types.Thread, int64, error) {
	var (
		where []string
		args  []any
	)
	if query.StudentID > 0 {
		where = append(where, "t.student_id = ?")
		args = append(args, query.StudentID)
	}
	if query.ManagerID > 0 {
		where = append(where, "t.manager_id = ?")
		args = append(args, query.ManagerID)
	}
	if query.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, query.Status)
	}
	if kw := strings.TrimSpace(query.Keyword); kw != "" {
		like := "%" + strings.ToLower(kw) + "%"
		where = append(where, "(LOWER(t.student_name) LIKE ? OR LOWER(t.topic) LIKE ? OR LOWER(t.course_title) LIKE ? OR LOWER(t.subject) LIKE ?)")
		args = append(args, like, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads t`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	size := query.Size
	if size <= 0 {
		size = 20
	}
	page := max(query.Page, 0)

	rows, err := m.db.QueryContext(ctx, `SELECT `+threadColumns+`
		FROM threads t LEFT JOIN ratings r ON r.thread_id = t.id`+clause+`
		ORDER BY COALESCE(t.last_message_at, t.created_at) DESC, t.id DESC
		LIMIT ? OFFSET ?`, append(args, size, page*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	threads := []types.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan thread row: %w", err)
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating thread rows: %w", err)
	}
	return threads, total, nil
}

// UpdateThread persists status, manager, unread flags and summary fields.
func (m *Manager) UpdateThread(ctx context.Context, thread *types.Thread) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, updateThreadSQL, updateArgs(thread)...)
		if err != nil {
			return fmt.Errorf("failed to update thread: %w", err)
		}
		return expectOne(res)
	})
}

const updateThreadSQL = `
	UPDATE threads
	SET status = ?, manager_id = ?, manager_name = ?, last_message_preview = ?, last_message_at = ?,
		unread_for_student = ?, unread_for_manager = ?
	WHERE id = ?`

func updateArgs(t *types.Thread) []any {
	var managerID sql.NullInt64
	var managerName sql.NullString
	if t.Manager != nil {
		managerID = sql.NullInt64{Int64: t.Manager.ID, Valid: true}
		managerName = sql.NullString{String: t.Manager.FullName, Valid: true}
	}
	var lastAt sql.NullTime
	if t.LastMessageAt != nil {
		lastAt = sql.NullTime{Time: *t.LastMessageAt, Valid: true}
	}
	return []any{t.Status, managerID, managerName, t.LastMessagePreview, lastAt,
		t.UnreadForStudent, t.UnreadForManager, t.ID}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrThreadNotFound
	}
	return nil
}

// AppendMessage stores message and the thread's summary fields in one transaction.
func (m *Manager) AppendMessage(ctx context.Context, thread *types.Thread, message *types.Message) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		message.ThreadID = thread.ID
		id, err := insertMessage(ctx, tx, message)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, updateThreadSQL, updateArgs(thread)...)
		if err != nil {
			return fmt.Errorf("failed to update thread summary: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		message.ID = id
		return nil
	})
}

// SaveRating replaces the thread's rating.
func (m *Manager) SaveRating(ctx context.Context, threadID int64, rating *types.Rating) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		createdAt := time.Now().UTC()
		if rating.CreatedAt != nil {
			createdAt = *rating.CreatedAt
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO ratings (thread_id, rating, comment, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET rating = excluded.rating, comment = excluded.comment, created_at = excluded.created_at
		`, threadID, rating.Rating, rating.Comment, createdAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return fmt.Errorf("%w: %v", interfaces.ErrThreadNotFound, err)
			}
			return fmt.Errorf("failed to save rating: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM threads").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
