package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/layout"
	"github.com/banshee-data/fleet-overlay/internal/localizer"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
)

func TestSessionJournal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Unix(42, 0)

	sid, err := db.StartSession(ctx, "", nil, at)
	require.NoError(t, err)
	j := NewSessionJournal(db, sid, func() time.Time { return at })
	assert.Equal(t, sid, j.SessionID())

	a := localizer.Alignment{
		Transform:  geom.RotationZ(1),
		Generation: 7,
		Reason:     localizer.ReasonRelocalized,
		RobotName:  "tinyRobot1",
		LevelName:  "L1",
		At:         at,
	}
	require.NoError(t, j.PersistAlignment(a, localizer.Result{PositionError: 0.5, RotationError: 0.2}))

	recs, err := db.RecentAlignments(ctx, sid, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(7), recs[0].Generation)
	assert.Equal(t, "relocalized", recs[0].Reason)
	assert.InDelta(t, 0.2, recs[0].RotationError, 1e-12)

	f := overlay.Frame{
		ID:            "frame-1",
		ServerTimeMs:  99,
		ConflictCount: 1,
		Assignments:   []layout.Assignment{{TrajectoryID: 1, HeightLevel: 2}},
	}
	require.NoError(t, j.PersistLayout(f))

	snaps, err := db.RecentLayouts(ctx, sid, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "frame-1", snaps[0].ID)
	assert.Equal(t, 2, snaps[0].MaxLevel)
	assert.True(t, snaps[0].RecordedAt.Equal(at))
}

func TestSessionJournal_UnknownSession(t *testing.T) {
	db := openTestDB(t)
	j := NewSessionJournal(db, "missing", nil)

	assert.ErrorIs(t, j.PersistLayout(overlay.Frame{}), ErrNoSession)
}
