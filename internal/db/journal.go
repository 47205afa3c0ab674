package db

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/layout"
)

// Session is one run of the overlay host.
type Session struct {
	ID         string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	LevelName  string    `json:"level_name"`
	ConfigJSON string    `json:"config"`
}

// AlignmentRecord is a published alignment as journaled.
type AlignmentRecord struct {
	SessionID     string    `json:"session_id"`
	Generation    uint64    `json:"generation"`
	Reason        string    `json:"reason"`
	RobotName     string    `json:"robot_name"`
	LevelName     string    `json:"level_name"`
	Transform     geom.Mat4 `json:"transform"`
	PositionError float64   `json:"position_error"`
	RotationError float64   `json:"rotation_error"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// LayoutSnapshot is the outcome of one layout cycle.
type LayoutSnapshot struct {
	ID              string              `json:"snapshot_id"`
	SessionID       string              `json:"session_id"`
	ServerTimeMs    int64               `json:"server_time_ms"`
	TrajectoryCount int                 `json:"trajectory_count"`
	ConflictCount   int                 `json:"conflict_count"`
	MaxLevel        int                 `json:"max_level"`
	Assignments     []layout.Assignment `json:"assignments"`
	RecordedAt      time.Time           `json:"recorded_at"`
}

// StartSession creates a session row and returns its id. cfg is stored as
// JSON for reference; it may be nil.
func (db *DB) StartSession(ctx context.Context, levelName string, cfg interface{}, at time.Time) (string, error) {
	cfgJSON := []byte("{}")
	if cfg != nil {
		var err error
		if cfgJSON, err = sonic.Marshal(cfg); err != nil {
			return "", fmt.Errorf("failed to encode session config: %w", err)
		}
	}
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, level_name, config_json) VALUES (?, ?, ?, ?)`,
		id, at.UnixNano(), levelName, string(cfgJSON))
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	logger.Logf("started session %s", id)
	return id, nil
}

// Sessions returns up to limit sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_at, level_name, config_json FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		if err := rows.Scan(&s.ID, &started, &s.LevelName, &s.ConfigJSON); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordAlignment appends a published alignment to the session's history.
func (db *DB) RecordAlignment(ctx context.Context, rec AlignmentRecord) error {
	transform, err := sonic.Marshal(rec.Transform)
	if err != nil {
		return fmt.Errorf("failed to encode transform: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, rec.SessionID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO alignment_events (
			session_id, generation, reason, robot_name, level_name,
			transform_json, position_error, rotation_error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, int64(rec.Generation), rec.Reason, rec.RobotName, rec.LevelName,
		string(transform), rec.PositionError, rec.RotationError, rec.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record alignment: %w", err)
	}
	return tx.Commit()
}

// RecentAlignments returns up to limit alignments for the session, newest
// first.
func (db *DB) RecentAlignments(ctx context.Context, sessionID string, limit int) ([]AlignmentRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, generation, reason, robot_name, level_name,
		       transform_json, position_error, rotation_error, recorded_at
		FROM alignment_events
		WHERE session_id = ?
		ORDER BY recorded_at DESC, event_id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alignments: %w", err)
	}
	defer rows.Close()

	var out []AlignmentRecord
	for rows.Next() {
		var (
			rec        AlignmentRecord
			generation int64
			transform  string
			recorded   int64
		)
		if err := rows.Scan(&rec.SessionID, &generation, &rec.Reason, &rec.RobotName, &rec.LevelName,
			&transform, &rec.PositionError, &rec.RotationError, &recorded); err != nil {
			return nil, err
		}
		if err := sonic.Unmarshal([]byte(transform), &rec.Transform); err != nil {
			return nil, fmt.Errorf("failed to decode transform of generation %d: %w", generation, err)
		}
		rec.Generation = uint64(generation)
		rec.RecordedAt = time.Unix(0, recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordLayout stores a layout snapshot and returns its id. ID and the
// summary counts are filled in from the assignments when left zero.
func (db *DB) RecordLayout(ctx context.Context, snap LayoutSnapshot) (string, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TrajectoryCount == 0 {
		snap.TrajectoryCount = len(snap.Assignments)
	}
	for _, a := range snap.Assignments {
		if a.HeightLevel > snap.MaxLevel {
			snap.MaxLevel = a.HeightLevel
		}
	}
	assignments, err := sonic.Marshal(snap.Assignments)
	if err != nil {
		return "", fmt.Errorf("failed to encode assignments: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, snap.SessionID); err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO layout_snapshots (
			snapshot_id, session_id, server_time_ms, trajectory_count,
			conflict_count, max_level, assignments_json, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.ServerTimeMs, snap.TrajectoryCount,
		snap.ConflictCount, snap.MaxLevel, string(assignments), snap.RecordedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to record layout: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return snap.ID, nil
}

// RecentLayouts returns up to limit snapshots for the session, newest
// first.
func (db *DB) RecentLayouts(ctx context.Context, sessionID string, limit int) ([]LayoutSnapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT snapshot_id, session_id, server_time_ms, trajectory_count,
		       conflict_count, max_level, assignments_json, recorded_at
		FROM layout_snapshots
		WHERE session_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query layouts: %w", err)
	}
	defer rows.Close()

	var out []LayoutSnapshot
	for rows.Next() {
		var (
			snap        LayoutSnapshot
			assignments string
			recorded    int64
		)
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.ServerTimeMs, &snap.TrajectoryCount,
			&snap.ConflictCount, &snap.MaxLevel, &assignments, &recorded); err != nil {
			return nil, err
		}
		if err := sonic.Unmarshal([]byte(assignments), &snap.Assignments); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", snap.ID, err)
		}
		snap.RecordedAt = time.Unix(0, recorded)
		out = append(out, snap)
	}
	return out, rows.Err()
}
