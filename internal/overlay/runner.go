package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
	"github.com/banshee-data/fleet-overlay/internal/timeutil"
)

// ErrNoLevel is returned by PollTrajectories before the session knows
// which map to ask for.
var ErrNoLevel = errors.New("no level: session not localized")

// RobotSource reports the current state of every robot.
type RobotSource interface {
	RobotStates(ctx context.Context) ([]rmf.RobotState, error)
}

// TrajectorySource returns a trajectory batch joined with the server time.
type TrajectorySource interface {
	Fetch(ctx context.Context, mapName string, durationMs int64, trim bool) (rmf.Batch, error)
}

// Runner polls the fleet manager and the trajectory server and feeds the
// results into a session.
type Runner struct {
	Session      *Session
	Cache        *fleet.Cache
	Robots       RobotSource
	Trajectories TrajectorySource
	Clock        timeutil.Clock
}

// Run polls until ctx is done or a poller fails fatally. Individual poll
// failures are logged and retried on the next tick. Poll intervals are
// re-read from the session tuning after every poll, so a reload changes
// the cadence from the next tick on.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		timeutil.EveryInterval(ctx, r.Clock, func() time.Duration {
			return r.Session.Tuning().GetRobotPollInterval()
		}, func(time.Time) {
			if err := r.PollRobots(ctx); err != nil && ctx.Err() == nil {
				logger.Logf("robot poll failed: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		timeutil.EveryInterval(ctx, r.Clock, func() time.Duration {
			return r.Session.Tuning().GetTrajectoryPollInterval()
		}, func(time.Time) {
			err := r.PollTrajectories(ctx)
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, ErrNoLevel):
				logger.Debugf("trajectory poll skipped: %v", err)
			default:
				logger.Logf("trajectory poll failed: %v", err)
			}
		})
		return nil
	})
	return g.Wait()
}

// PollRobots fetches robot states once and updates the cache.
func (r *Runner) PollRobots(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.Session.Tuning().GetRequestTimeout())
	defer cancel()

	states, err := r.Robots.RobotStates(ctx)
	if err != nil {
		return err
	}
	fs := make([]fleet.State, 0, len(states))
	for _, s := range states {
		fs = append(fs, s.State())
	}
	r.Cache.UpdateStates(fs)
	return nil
}

// PollTrajectories fetches one batch for the session's level, lays it out
// and applies it to the session.
func (r *Runner) PollTrajectories(ctx context.Context) error {
	level := r.Session.LevelName()
	if level == "" {
		return ErrNoLevel
	}
	tuning := r.Session.Tuning()

	ctx, cancel := context.WithTimeout(ctx, tuning.GetRequestTimeout())
	defer cancel()

	batch, err := r.Trajectories.Fetch(ctx, level, tuning.GetTrajectoryDurationMs(), tuning.GetTrajectoryTrim())
	if err != nil {
		return fmt.Errorf("failed to fetch trajectories for %s: %w", level, err)
	}
	f := r.Session.ApplyBatch(BuildCycle(batch, r.Session.RenderConfig()))
	logger.Debugf("frame %s: %d items, %d conflicts at %dms", f.ID, len(f.Items), f.ConflictCount, f.ServerTimeMs)
	return nil
}
