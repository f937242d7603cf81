package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/edlive/livehub/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS live_sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT '',
	host_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	scheduled_for    TIMESTAMP NOT NULL,
	started_at       TIMESTAMP,
	ended_at         TIMESTAMP,
	max_participants INTEGER NOT NULL,
	settings         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_participants (
	session_id TEXT NOT NULL REFERENCES live_sessions(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	device_id  TEXT NOT NULL DEFAULT '',
	joined_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_host ON live_sessions (host_id);
CREATE INDEX IF NOT EXISTS idx_participants_user ON session_participants (user_id);
`

// SQLiteStore persists session records in a sqlite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ SessionStore = (*SQLiteStore)(nil)

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type sessionRow struct {
	ID              string     `db:"id"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Type            string     `db:"type"`
	HostID          string     `db:"host_id"`
	Status          string     `db:"status"`
	ScheduledFor    time.Time  `db:"scheduled_for"`
	StartedAt       *time.Time `db:"started_at"`
	EndedAt         *time.Time `db:"ended_at"`
	MaxParticipants int        `db:"max_participants"`
	Settings        string     `db:"settings"`
}

type participantRow struct {
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`
	Role      string    `db:"role"`
	DeviceID  string    `db:"device_id"`
	JoinedAt  time.Time `db:"joined_at"`
}

func toRow(s *domain.LiveSession) (sessionRow, error) {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encoding settings: %w", err)
	}
	return sessionRow{
		ID:              string(s.ID),
		Title:           s.Title,
		Description:     s.Description,
		Type:            s.Type,
		HostID:          string(s.HostID),
		Status:          string(s.Status),
		ScheduledFor:    s.ScheduledFor,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		MaxParticipants: s.MaxParticipants,
		Settings:        string(settings),
	}, nil
}

func (r sessionRow) toSession(participants []participantRow) (*domain.LiveSession, error) {
	s := &domain.LiveSession{
		ID:              domain.SessionID(r.ID),
		Title:           r.Title,
		Description:     r.Description,
		Type:            r.Type,
		HostID:          domain.UserID(r.HostID),
		Status:          domain.SessionStatus(r.Status),
		ScheduledFor:    r.ScheduledFor,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		MaxParticipants: r.MaxParticipants,
		Participants:    make([]domain.Participant, 0, len(participants)),
	}
	if err := json.Unmarshal([]byte(r.Settings), &s.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings for session %s: %w", r.ID, err)
	}
	for _, p := range participants {
		s.Participants = append(s.Participants, domain.Participant{
			UserID:   domain.UserID(p.UserID),
			JoinedAt: p.JoinedAt,
			Role:     domain.ParticipantRole(p.Role),
			DeviceID: domain.DeviceID(p.DeviceID),
		})
	}
	return s, nil
}

func (st *SQLiteStore) Create(ctx context.Context, s *domain.LiveSession) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	tx, err := st.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", s.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.NamedExecContext(ctx, `
		INSERT INTO live_sessions (id, title, description, type, host_id, status, scheduled_for, started_at, ended_at, max_participants, settings)
		VALUES (:id, :title, :description, :type, :host_id, :status, :scheduled_for, :started_at, :ended_at, :max_participants, :settings)`, row); err != nil {
		return fmt.Errorf("creating session %s: %w", s.ID, err)
	}
	if err = insertParticipants(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func (st *SQLiteStore) Get(ctx context.Context, id domain.SessionID) (*domain.LiveSession, error) {
	var row sessionRow
	err := st.db.GetContext(ctx, &row, `SELECT * FROM live_sessions WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	participants, err := st.loadParticipants(ctx, string(id))
	if err != nil {
		return nil, err
	}
	return row.toSession(participants)
}

func (st *SQLiteStore) Update(ctx context.Context, s *domain.LiveSession) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	tx, err := st.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", s.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE live_sessions SET title = :title, description = :description, type = :type,
			status = :status, scheduled_for = :scheduled_for, started_at = :started_at,
			ended_at = :ended_at, max_participants = :max_participants, settings = :settings
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_participants WHERE session_id = ?`, string(s.ID)); err != nil {
		return fmt.Errorf("updating participants of %s: %w", s.ID, err)
	}
	if err = insertParticipants(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func (st *SQLiteStore) ListForUser(ctx context.Context, userID domain.UserID) ([]*domain.LiveSession, error) {
	var rows []sessionRow
	err := st.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT s.* FROM live_sessions s
		LEFT JOIN session_participants p ON p.session_id = s.id
		WHERE s.host_id = ? OR p.user_id = ?
		ORDER BY s.scheduled_for`, string(userID), string(userID))
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
	}
	out := make([]*domain.LiveSession, 0, len(rows))
	for _, row := range rows {
		participants, err := st.loadParticipants(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		s, err := row.toSession(participants)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (st *SQLiteStore) Close() error { return st.db.Close() }

func (st *SQLiteStore) loadParticipants(ctx context.Context, sessionID string) ([]participantRow, error) {
	var out []participantRow
	err := st.db.SelectContext(ctx, &out, `
		SELECT * FROM session_participants WHERE session_id = ? ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading participants of %s: %w", sessionID, err)
	}
	return out, nil
}

func insertParticipants(ctx context.Context, tx *sqlx.Tx, s *domain.LiveSession) error {
	for _, p := range s.Participants {
		row := participantRow{
			SessionID: string(s.ID),
			UserID:    string(p.UserID),
			Role:      string(p.Role),
			DeviceID:  string(p.DeviceID),
			JoinedAt:  p.JoinedAt,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO session_participants (session_id, user_id, role, device_id, joined_at)
			VALUES (:session_id, :user_id, :role, :device_id, :joined_at)`, row); err != nil {
			return fmt.Errorf("inserting participant %s of %s: %w", p.UserID, s.ID, err)
		}
	}
	return nil
}
