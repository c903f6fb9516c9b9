package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/codecli/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// the API handlers and the background dispatchers through the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// serve and mcp may share one database file, so writers wait instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// nullString maps "" to SQL NULL for optional foreign keys.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- CLI profiles ---

func (s *SQLiteStore) CreateCLIProfile(ctx context.Context, p *models.CLIProfile) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cli_profiles (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cli profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCLIProfile(ctx context.Context, id string) (*models.CLIProfile, error) {
	p := &models.CLIProfile{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM cli_profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("cli profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cli profile: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListCLIProfiles(ctx context.Context) ([]*models.CLIProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM cli_profiles ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cli profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*models.CLIProfile
	for rows.Next() {
		p := &models.CLIProfile{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cli profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) UpdateCLIProfile(ctx context.Context, p *models.CLIProfile) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE cli_profiles SET name=?, description=? WHERE id=?`,
		p.Name, p.Description, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update cli profile: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("cli profile", p.ID)
	}
	return nil
}

// DeleteCLIProfile removes a profile and detaches it from any sessions that referenced it.
func (s *SQLiteStore) DeleteCLIProfile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET cli_id = NULL WHERE cli_id = ?", id); err != nil {
		return fmt.Errorf("detach cli profile: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM cli_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete cli profile: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("cli profile", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Sessions ---

const sessionColumns = `id, title, cli_id, path, external_session_id, created_at`

func scanSession(scan func(dest ...any) error) (*models.Session, error) {
	sess := &models.Session{}
	var cliID sql.NullString
	if err := scan(&sess.ID, &sess.Title, &cliID, &sess.Path, &sess.ExternalSessionID, &sess.CreatedAt); err != nil {
		return nil, err
	}
	sess.CLIID = cliID.String
	return sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	return insertSession(ctx, s.db, sess)
}

func insertSession(ctx context.Context, q queryer, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	sess.CreatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, nullString(sess.CLIID), sess.Path, sess.ExternalSessionID, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession writes the mutable session fields: title, cli profile, path and external id.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title=?, cli_id=?, path=?, external_session_id=? WHERE id=?`,
		sess.Title, nullString(sess.CLIID), sess.Path, sess.ExternalSessionID, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("session", sess.ID)
	}
	return nil
}

// SetExternalSessionID records the engine's own session id without touching
// the other session columns.
func (s *SQLiteStore) SetExternalSessionID(ctx context.Context, sessionID, externalID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET external_session_id=? WHERE id=?`, externalID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set external session id: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("session", sessionID)
	}
	return nil
}

// DeleteSession removes a session with all of its messages and attachments.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Children first so the cascade does not depend on the foreign_keys pragma.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?)`, id); err != nil {
		return fmt.Errorf("delete session attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("session", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Messages ---

const messageColumns = `id, session_id, role, content, created_at`

func insertMessage(ctx context.Context, q queryer, m *models.Message, at time.Time) error {
	if !m.Role.Valid() {
		return fmt.Errorf("create message: invalid role %q", m.Role)
	}
	if m.ID == "" {
		m.ID = newULID()
	}
	m.CreatedAt = at

	_, err := q.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	for _, a := range m.Attachments {
		if a.ID == "" {
			a.ID = newULID()
		}
		a.MessageID = m.ID
		a.Size = int64(len(a.Data))
		a.CreatedAt = at
		if a.MimeType == "" {
			a.MimeType = "application/octet-stream"
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, file_name, mime_type, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.MessageID, a.FileName, a.MimeType, a.Size, a.Data, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create attachment %s: %w", a.FileName, err)
		}
	}
	return nil
}

// AppendMessage persists a single message and its attachments.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireSession(ctx, tx, m.SessionID); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, m, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AppendExchange writes the user message and its pending placeholder in one
// transaction, optionally creating the session first. Readers never observe the
// user turn without its placeholder.
func (s *SQLiteStore) AppendExchange(ctx context.Context, ex *Exchange) error {
	if ex.Session == nil || ex.User == nil || ex.Pending == nil {
		return fmt.Errorf("append exchange: session, user and pending message are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ex.CreateSession {
		if err := insertSession(ctx, tx, ex.Session); err != nil {
			return err
		}
	} else {
		if err := requireSession(ctx, tx, ex.Session.ID); err != nil {
			return err
		}
		var pending int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = 'ai' AND content = ?`,
			ex.Session.ID, models.PendingContent,
		).Scan(&pending)
		if err != nil {
			return fmt.Errorf("check pending: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("session %s: %w", ex.Session.ID, ErrPendingExists)
		}
	}

	now := time.Now().UTC()
	ex.User.SessionID = ex.Session.ID
	ex.User.Role = models.RoleUser
	if err := insertMessage(ctx, tx, ex.User, now); err != nil {
		return err
	}

	ex.Pending.SessionID = ex.Session.ID
	ex.Pending.Role = models.RoleAI
	ex.Pending.Content = models.PendingContent
	ex.Pending.Attachments = nil
	if err := insertMessage(ctx, tx, ex.Pending, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func requireSession(ctx context.Context, q queryer, id string) error {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return notFound("session", id)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Role = models.Role(role)
	return m, nil
}

// ListMessages returns a session's messages in creation order with attachment metadata.
// It returns ErrNotFound when the session does not exist.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if err := requireSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		messages []*models.Message
		byID     = map[string]*models.Message{}
	)
	for rows.Next() {
		m := &models.Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	if err := s.attachMetadata(ctx, sessionID, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLiteStore) attachMetadata(ctx context.Context, sessionID string, byID map[string]*models.Message) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.message_id, a.file_name, a.mime_type, a.size, a.created_at
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE m.session_id = ? ORDER BY a.seq`, sessionID)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.MimeType, &a.Size, &a.CreatedAt); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

// LatestPendingMessage returns the most recent unresolved ai placeholder of a session.
func (s *SQLiteStore) LatestPendingMessage(ctx context.Context, sessionID string) (*models.Message, error) {
	m := &models.Message{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE session_id = ? AND role = 'ai' AND content = ?
		ORDER BY created_at DESC, seq DESC LIMIT 1`,
		sessionID, models.PendingContent,
	).Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("pending message in session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending message: %w", err)
	}
	m.Role = models.Role(role)
	return m, nil
}

// ResolveMessage replaces the content of a pending placeholder in place. The
// update only matches while the row still holds the pending sentinel, so it is
// applied at most once; the returned bool reports whether this call applied it.
func (s *SQLiteStore) ResolveMessage(ctx context.Context, sessionID, messageID, content string) (bool, error) {
	if content == models.PendingContent {
		return false, fmt.Errorf("resolve message: content must differ from the pending sentinel")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?
		WHERE id = ? AND session_id = ? AND role = 'ai' AND content = ?`,
		content, messageID, sessionID, models.PendingContent,
	)
	if err != nil {
		return false, fmt.Errorf("resolve message: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- Attachments ---

// GetAttachment returns an attachment including its payload.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	a := &models.Attachment{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, file_name, mime_type, size, data, created_at FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.MessageID, &a.FileName, &a.MimeType, &a.Size, &a.Data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attachment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}
