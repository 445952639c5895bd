// Package container implements the events operation.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cerrors "ctrun/errors"
	"ctrun/linux"
	"ctrun/spec"
)

// EventStats is the JSON shape emitted once per interval by Events, naming
// the container and its cgroup stats the way `state` names the container
// and its OCI state.
type EventStats struct {
	Type  string      `json:"type"`
	ID    string      `json:"id"`
	Stats linux.Stats `json:"stats"`
}

// EventsOptions controls the events operation.
type EventsOptions struct {
	// Stats, if true, emits exactly one stats snapshot and returns instead
	// of polling forever.
	Stats bool
	// Interval between snapshots when Stats is false. Zero means 5s.
	Interval time.Duration
}

// Events polls the container's cgroup and writes one EventStats document
// per interval to stdout as newline-delimited JSON, until ctx is canceled
// or (with Stats set) after the first snapshot.
func Events(ctx context.Context, id, stateRoot string, opts *EventsOptions) error {
	if opts == nil {
		opts = &EventsOptions{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}
	c.RefreshStatus()
	if c.State.Status != spec.StatusRunning && c.State.Status != spec.StatusPaused {
		return cerrors.WrapWithContainer(nil, cerrors.ErrInvalidState, "events", id)
	}

	cgroupPath := linux.GetCgroupPath(c.ID, "")
	if c.CgroupPath != "" {
		cgroupPath = c.CgroupPath
	}
	cgroup, err := linux.NewCgroupManager(cgroupPath)
	if err != nil {
		return fmt.Errorf("open cgroup manager: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)

	emit := func() error {
		stats, err := cgroup.Stats()
		if err != nil {
			return fmt.Errorf("read stats: %w", err)
		}
		return encoder.Encode(EventStats{Type: "stats", ID: id, Stats: stats})
	}

	if opts.Stats {
		return emit()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := emit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}
