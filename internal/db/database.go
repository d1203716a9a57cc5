package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("db: not found")

type Database struct {
	db *sqlx.DB
}

type Session struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Code        string    `db:"code" json:"code"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	SnapshotURL string    `db:"snapshot_url" json:"snapshot_url"`
	IsSaved     bool      `db:"is_saved" json:"is_saved"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Participant struct {
	SessionID    string    `db:"session_id" json:"session_id"`
	Identity     string    `db:"identity" json:"identity"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	CanDraw      bool      `db:"can_draw" json:"can_draw"`
	StrokesCount int       `db:"strokes_count" json:"strokes_count"`
	UploadsCount int       `db:"uploads_count" json:"uploads_count"`
	JoinedAt     time.Time `db:"joined_at" json:"joined_at"`
	LastActive   time.Time `db:"last_active" json:"last_active"`
}

// Snapshot is one saved raster of a session board. Data is empty when
// listed.
type Snapshot struct {
	ID        int       `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Data      []byte    `db:"data" json:"-"`
	Size      int64     `db:"size" json:"size"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Upload struct {
	ID         int       `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Name       string    `db:"name" json:"name"`
	URL        string    `db:"url" json:"url"`
	Size       int64     `db:"size" json:"size"`
	UploadedBy string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL for concurrent readers while the relay writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL UNIQUE,
		created_by TEXT NOT NULL,
		snapshot_url TEXT NOT NULL DEFAULT '',
		is_saved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS participants (
		session_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		can_draw BOOLEAN NOT NULL DEFAULT FALSE,
		strokes_count INTEGER NOT NULL DEFAULT 0,
		uploads_count INTEGER NOT NULL DEFAULT 0,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, identity),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		data BLOB NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_session_id ON snapshots(session_id, id DESC);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		uploaded_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_session_id ON uploads(session_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func notFound(err error, what string) error {
	if err == sql.ErrNoRows {
		return errors.Wrap(ErrNotFound, what)
	}
	return err
}

// Session operations

// CreateSession stores a new session and enrols its owner as a drawing
// participant.
func (d *Database) CreateSession(id, title, code, createdBy string) (*Session, error) {
	tx, err := d.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO sessions (id, title, code, created_by) VALUES (?, ?, ?, ?)",
		id, title, code, createdBy,
	); err != nil {
		return nil, errors.Wrap(err, "db: create session")
	}
	if _, err := tx.Exec(
		"INSERT INTO participants (session_id, identity, can_draw) VALUES (?, ?, TRUE)",
		id, createdBy,
	); err != nil {
		return nil, errors.Wrap(err, "db: enrol owner")
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetSession(id)
}

func (d *Database) GetSession(id string) (*Session, error) {
	var s Session
	if err := d.db.Get(&s, "SELECT * FROM sessions WHERE id = ?", id); err != nil {
		return nil, notFound(err, "session "+id)
	}
	return &s, nil
}

func (d *Database) GetSessionByCode(code string) (*Session, error) {
	var s Session
	if err := d.db.Get(&s, "SELECT * FROM sessions WHERE code = ?", code); err != nil {
		return nil, notFound(err, "session code "+code)
	}
	return &s, nil
}

func (d *Database) ListSessions(limit, offset int) ([]Session, error) {
	sessions := []Session{}
	err := d.db.Select(&sessions,
		"SELECT * FROM sessions ORDER BY updated_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	return sessions, err
}

func (d *Database) TouchSession(id string) error {
	_, err := d.db.Exec("UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

func (d *Database) DeleteSession(id string) error {
	_, err := d.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// Participant operations

// JoinParticipant enrols identity in a session, or refreshes its activity
// and display name if already enrolled.
func (d *Database) JoinParticipant(sessionID, identity, displayName string) (*Participant, error) {
	if _, err := d.GetSession(sessionID); err != nil {
		return nil, err
	}
	_, err := d.db.Exec(`
		INSERT INTO participants (session_id, identity, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, identity) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name = '' THEN display_name ELSE excluded.display_name END,
			last_active = CURRENT_TIMESTAMP
	`, sessionID, identity, displayName)
	if err != nil {
		return nil, errors.Wrap(err, "db: join participant")
	}
	return d.GetParticipant(sessionID, identity)
}

func (d *Database) GetParticipant(sessionID, identity string) (*Participant, error) {
	var p Participant
	err := d.db.Get(&p,
		"SELECT * FROM participants WHERE session_id = ? AND identity = ?",
		sessionID, identity,
	)
	if err != nil {
		return nil, notFound(err, "participant "+identity)
	}
	return &p, nil
}

func (d *Database) ListParticipants(sessionID string) ([]Participant, error) {
	participants := []Participant{}
	err := d.db.Select(&participants,
		"SELECT * FROM participants WHERE session_id = ? ORDER BY joined_at, identity",
		sessionID,
	)
	return participants, err
}

func (d *Database) SetCanDraw(sessionID, identity string, canDraw bool) error {
	res, err := d.db.Exec(
		"UPDATE participants SET can_draw = ? WHERE session_id = ? AND identity = ?",
		canDraw, sessionID, identity,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(ErrNotFound, "participant "+identity)
	}
	return nil
}

// RevokeAbsent takes draw permission from every participant other than the
// owner who is not in present, and returns whom it revoked.
func (d *Database) RevokeAbsent(sessionID string, present []string) ([]string, error) {
	session, err := d.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	query := "SELECT identity FROM participants WHERE session_id = ? AND can_draw = TRUE AND identity != ?"
	args := []interface{}{sessionID, session.CreatedBy}
	if len(present) > 0 {
		q, inArgs, err := sqlx.In(" AND identity NOT IN (?)", present)
		if err != nil {
			return nil, err
		}
		query += q
		args = append(args, inArgs...)
	}

	revoked := []string{}
	if err := d.db.Select(&revoked, d.db.Rebind(query+" ORDER BY identity"), args...); err != nil {
		return nil, err
	}
	if len(revoked) == 0 {
		return revoked, nil
	}

	update, updateArgs, err := sqlx.In(
		"UPDATE participants SET can_draw = FALSE WHERE session_id = ? AND identity IN (?)",
		sessionID, revoked,
	)
	if err != nil {
		return nil, err
	}
	if _, err := d.db.Exec(d.db.Rebind(update), updateArgs...); err != nil {
		return nil, err
	}
	return revoked, nil
}

func (d *Database) RecordStroke(sessionID, identity string) error {
	res, err := d.db.Exec(`
		UPDATE participants SET strokes_count = strokes_count + 1, last_active = CURRENT_TIMESTAMP
		WHERE session_id = ? AND identity = ?
	`, sessionID, identity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(ErrNotFound, "participant "+identity)
	}
	return d.TouchSession(sessionID)
}

// Upload operations

func (d *Database) RecordUpload(sessionID, identity, name, url string, size int64) (*Upload, error) {
	tx, err := d.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO uploads (session_id, name, url, size, uploaded_by) VALUES (?, ?, ?, ?, ?)",
		sessionID, name, url, size, identity,
	)
	if err != nil {
		return nil, errors.Wrap(err, "db: record upload")
	}
	if _, err := tx.Exec(`
		UPDATE participants SET uploads_count = uploads_count + 1, last_active = CURRENT_TIMESTAMP
		WHERE session_id = ? AND identity = ?
	`, sessionID, identity); err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var u Upload
	if err := d.db.Get(&u, "SELECT * FROM uploads WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Database) ListUploads(sessionID string) ([]Upload, error) {
	uploads := []Upload{}
	err := d.db.Select(&uploads, "SELECT * FROM uploads WHERE session_id = ? ORDER BY id", sessionID)
	return uploads, err
}

// Snapshot operations

// SaveSnapshot stores a new snapshot version and marks the session saved.
func (d *Database) SaveSnapshot(sessionID, createdBy string, data []byte, url string) (*Snapshot, error) {
	tx, err := d.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO snapshots (session_id, data, size, created_by) VALUES (?, ?, ?, ?)",
		sessionID, data, len(data), createdBy,
	)
	if err != nil {
		return nil, errors.Wrap(err, "db: save snapshot")
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET is_saved = TRUE, snapshot_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, url, sessionID); err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("Saved snapshot %d for session %s (%s)", id, sessionID, humanize.Bytes(uint64(len(data))))
	return &Snapshot{ID: int(id), SessionID: sessionID, Size: int64(len(data)), CreatedBy: createdBy, CreatedAt: time.Now()}, nil
}

func (d *Database) LatestSnapshot(sessionID string) (*Snapshot, error) {
	var s Snapshot
	err := d.db.Get(&s, "SELECT * FROM snapshots WHERE session_id = ? ORDER BY id DESC LIMIT 1", sessionID)
	if err != nil {
		return nil, notFound(err, "snapshot for "+sessionID)
	}
	return &s, nil
}

func (d *Database) GetSnapshot(id int) (*Snapshot, error) {
	var s Snapshot
	if err := d.db.Get(&s, "SELECT * FROM snapshots WHERE id = ?", id); err != nil {
		return nil, notFound(err, "snapshot")
	}
	return &s, nil
}

// ListSnapshots returns snapshot metadata, newest first.
func (d *Database) ListSnapshots(sessionID string) ([]Snapshot, error) {
	snapshots := []Snapshot{}
	err := d.db.Select(&snapshots, `
		SELECT id, session_id, size, created_by, created_at
		FROM snapshots WHERE session_id = ? ORDER BY id DESC
	`, sessionID)
	return snapshots, err
}

func (d *Database) CountSnapshots(sessionID string) (int, error) {
	var count int
	err := d.db.Get(&count, "SELECT COUNT(*) FROM snapshots WHERE session_id = ?", sessionID)
	return count, err
}

// PruneSnapshots deletes all but the keep most recent snapshots of a session.
func (d *Database) PruneSnapshots(sessionID string, keep int) (int64, error) {
	res, err := d.db.Exec(`
		DELETE FROM snapshots
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM snapshots
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, sessionID, sessionID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := d.db.Get(&sessionCount, "SELECT COUNT(*) FROM sessions"); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	var participantCount int
	if err := d.db.Get(&participantCount, "SELECT COUNT(*) FROM participants"); err != nil {
		return nil, err
	}
	stats["participant_count"] = participantCount

	var snapshotCount int
	var snapshotBytes int64
	row := d.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM snapshots")
	if err := row.Scan(&snapshotCount, &snapshotBytes); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapshotCount
	stats["snapshot_bytes"] = humanize.Bytes(uint64(snapshotBytes))

	return stats, nil
}
