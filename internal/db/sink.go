package db

import (
	"context"
	"time"

	"github.com/banshee-data/fleet-overlay/internal/localizer"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
)

// sinkTimeout bounds a single journal write from the session.
const sinkTimeout = 2 * time.Second

// SessionJournal writes one overlay session's outputs to the journal. It
// implements overlay.PersistenceSink.
type SessionJournal struct {
	db        *DB
	sessionID string
	now       func() time.Time
}

var _ overlay.PersistenceSink = (*SessionJournal)(nil)

// NewSessionJournal journals into an already started session.
func NewSessionJournal(db *DB, sessionID string, now func() time.Time) *SessionJournal {
	if now == nil {
		now = time.Now
	}
	return &SessionJournal{db: db, sessionID: sessionID, now: now}
}

// SessionID returns the journal session id.
func (j *SessionJournal) SessionID() string { return j.sessionID }

func (j *SessionJournal) PersistAlignment(a localizer.Alignment, res localizer.Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	return j.db.RecordAlignment(ctx, AlignmentRecord{
		SessionID:     j.sessionID,
		Generation:    a.Generation,
		Reason:        string(a.Reason),
		RobotName:     a.RobotName,
		LevelName:     a.LevelName,
		Transform:     a.Transform,
		PositionError: res.PositionError,
		RotationError: res.RotationError,
		RecordedAt:    a.At,
	})
}

func (j *SessionJournal) PersistLayout(f overlay.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	_, err := j.db.RecordLayout(ctx, LayoutSnapshot{
		ID:            f.ID,
		SessionID:     j.sessionID,
		ServerTimeMs:  f.ServerTimeMs,
		ConflictCount: f.ConflictCount,
		Assignments:   f.Assignments,
		RecordedAt:    j.now(),
	})
	return err
}
