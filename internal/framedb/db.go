// Package framedb persists completed frames and the scan sessions they belong
// to in SQLite.
package framedb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
	"github.com/banshee-data/lidarsweep/internal/protocol"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps the frame store connection.
type DB struct {
	*sql.DB
	path string
	now  func() time.Time
}

// Session is one scan session: a device identity and the time scanning began.
type Session struct {
	SessionID string              `json:"session_id"`
	SensorID  string              `json:"sensor_id"`
	Device    protocol.DeviceInfo `json:"device"`
	StartedAt time.Time           `json:"started_at"`
}

// StoredFrame is a frame as read back from the store.
type StoredFrame struct {
	frames.LabelledFrame
	SessionID  string    `json:"session_id"`
	PointCount int       `json:"point_count"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations.
func Open(path string) (*DB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, now: time.Now}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	monitoring.Logf("frame database ready at %s", path)
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// StartSession records a new scan session and returns its ID.
func (db *DB) StartSession(sensorID string, info protocol.DeviceInfo) (string, error) {
	id := uuid.NewString()
	firmware := fmt.Sprintf("%d.%d", info.FirmwareMajor, info.FirmwareMinor)
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, sensor_id, model, firmware, hardware, serial, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sensorID, info.Model, firmware, info.Hardware, info.Serial, db.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// GetSession returns the session with the given ID.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var (
		s         Session
		firmware  string
		startedAt int64
	)
	err := db.QueryRow(
		`SELECT session_id, sensor_id, model, firmware, hardware, serial, started_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.SessionID, &s.SensorID, &s.Device.Model, &firmware, &s.Device.Hardware, &s.Device.Serial, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if _, err := fmt.Sscanf(firmware, "%d.%d", &s.Device.FirmwareMajor, &s.Device.FirmwareMinor); err != nil {
		return nil, fmt.Errorf("failed to parse firmware %q: %w", firmware, err)
	}
	s.StartedAt = time.Unix(0, startedAt)
	return &s, nil
}

// ListSessions returns sessions newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := db.GetSession(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// RecordFrame stores a completed frame under sessionID.
func (db *DB) RecordFrame(sessionID string, f *frames.LabelledFrame) error {
	blob, err := encodePoints(f.Points)
	if err != nil {
		return fmt.Errorf("failed to encode points: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO frames (frame_id, session_id, sequence, start_ts, finish_ts, point_count, points, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FrameID, sessionID, f.Sequence, f.Start, f.Finish, len(f.Points), blob, f.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

const frameColumns = `f.frame_id, f.session_id, s.sensor_id, f.sequence, f.start_ts, f.finish_ts, f.point_count, f.points, f.recorded_at`

func scanFrame(row interface{ Scan(...any) error }) (*StoredFrame, error) {
	var (
		sf         StoredFrame
		blob       []byte
		recordedAt int64
	)
	if err := row.Scan(&sf.FrameID, &sf.SessionID, &sf.SensorID, &sf.Sequence, &sf.Start, &sf.Finish,
		&sf.PointCount, &blob, &recordedAt); err != nil {
		return nil, err
	}
	points, err := decodePoints(blob)
	if err != nil {
		return nil, err
	}
	sf.Points = points
	sf.RecordedAt = time.Unix(0, recordedAt)
	sf.CompletedAt = sf.RecordedAt
	return &sf, nil
}

// LatestFrame returns the most recent frame of sessionID.
func (db *DB) LatestFrame(sessionID string) (*StoredFrame, error) {
	row := db.QueryRow(
		`SELECT `+frameColumns+`
		 FROM frames f JOIN sessions s ON s.session_id = f.session_id
		 WHERE f.session_id = ? ORDER BY f.sequence DESC LIMIT 1`, sessionID)
	sf, err := scanFrame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no frames in session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest frame: %w", err)
	}
	return sf, nil
}

// ListFrames returns up to limit frames of sessionID, newest first.
func (db *DB) ListFrames(sessionID string, limit int) ([]*StoredFrame, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+frameColumns+`
		 FROM frames f JOIN sessions s ON s.session_id = f.session_id
		 WHERE f.session_id = ? ORDER BY f.sequence DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []*StoredFrame
	for rows.Next() {
		sf, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

// CountFrames returns the number of frames stored for sessionID.
func (db *DB) CountFrames(sessionID string) (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}
