package service

import (
	"context"
	"errors"
	"fmt"

	"matchcore/command"
	"matchcore/logger"
	"matchcore/snapshot"
)

// ErrLogGap means the durable log no longer holds every command after the
// snapshot being restored.
var ErrLogGap = errors.New("command log does not cover snapshot")

// CommandLog is the read side of the durable command log.
type CommandLog interface {
	ReadFrom(from uint64, fn func(command.Command) error) error
	LastID() uint64
	TruncatedThrough() uint64
}

// Replayer re-applies logged commands on the writer path without logging
// them again.
type Replayer interface {
	ResetSequence(last uint64)
	Replay(c command.Command) *command.Result
}

type RecoveryReport struct {
	SnapshotID uint64
	Replayed   int
	Failed     int
	LastID     uint64
}

/*
Recover brings the engine back to where it stopped.

 1. load the newest valid full snapshot, if any
 2. restore it (validation failure is fatal)
 3. move the command id generator to the snapshot id
 4. replay every logged command with a higher id

It must run before the pipeline starts admitting.
*/
func Recover(ctx context.Context, e *Engine, store *snapshot.Store, log CommandLog, r Replayer) (RecoveryReport, error) {
	var rep RecoveryReport
	lg := e.log.WithComponent("recovery")

	snap, err := store.LoadLatest(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		lg.Info("no snapshot, starting from the command log")
	case err != nil:
		return rep, fmt.Errorf("%w: load latest: %v", snapshot.ErrInvalidSnapshot, err)
	default:
		if err := snapshot.Restore(e.mem, snap); err != nil {
			return rep, fmt.Errorf("restore snapshot %d: %w", snap.CommandID, err)
		}
		rep.SnapshotID = snap.CommandID
	}

	if through := log.TruncatedThrough(); through > rep.SnapshotID {
		return rep, fmt.Errorf("%w: snapshot %d, log truncated through %d", ErrLogGap, rep.SnapshotID, through)
	}

	r.ResetSequence(rep.SnapshotID)
	rep.LastID = rep.SnapshotID

	e.SetReplaying(true)
	defer e.SetReplaying(false)

	err = log.ReadFrom(rep.SnapshotID+1, func(c command.Command) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.LastID = c.ID
		if !c.Type().Mutating() {
			return nil
		}
		res := r.Replay(c)
		rep.Replayed++
		if res.Status == command.StatusFailed {
			rep.Failed++
			lg.WithError(res.Err).WithField("command_id", c.ID).Warn("replayed command failed")
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("replay from %d: %w", rep.SnapshotID+1, err)
	}

	if last := log.LastID(); last > rep.LastID {
		rep.LastID = last
		r.ResetSequence(last)
	}

	lg.WithFields(logger.Fields{
		"snapshot_id": rep.SnapshotID,
		"replayed":    rep.Replayed,
		"failed":      rep.Failed,
		"last_id":     rep.LastID,
	}).Info("recovered")
	return rep, nil
}
