// Package container implements the pause/resume operations.
package container

import (
	"context"
	"fmt"

	cerrors "ctrun/errors"
	"ctrun/linux"
	"ctrun/spec"
)

// Pause freezes every process in the container's cgroup. Legal only from
// Running; Creating/Stopped have no init process worth freezing, and a
// container already Paused just no-ops back into the same state rather
// than erroring on a redundant request.
func Pause(ctx context.Context, id, stateRoot string) error {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}

	c.RefreshStatus()
	switch c.State.Status {
	case spec.StatusPaused:
		return nil
	case spec.StatusRunning:
	default:
		return cerrors.WrapWithContainer(nil, cerrors.ErrInvalidState, "pause", id)
	}

	cgroupPath := linux.GetCgroupPath(c.ID, "")
	if c.CgroupPath != "" {
		cgroupPath = c.CgroupPath
	}
	cgroup, err := linux.NewCgroupManager(cgroupPath)
	if err != nil {
		return fmt.Errorf("open cgroup: %w", err)
	}
	if err := cgroup.Freeze(); err != nil {
		return fmt.Errorf("freeze cgroup: %w", err)
	}

	return c.UpdateStatus(spec.StatusPaused)
}

// Resume thaws a paused container's cgroup, returning it to Running. Legal
// only from Paused.
func Resume(ctx context.Context, id, stateRoot string) error {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}

	c.RefreshStatus()
	if c.State.Status != spec.StatusPaused {
		return cerrors.WrapWithContainer(nil, cerrors.ErrInvalidState, "resume", id)
	}

	cgroupPath := linux.GetCgroupPath(c.ID, "")
	if c.CgroupPath != "" {
		cgroupPath = c.CgroupPath
	}
	cgroup, err := linux.NewCgroupManager(cgroupPath)
	if err != nil {
		return fmt.Errorf("open cgroup: %w", err)
	}
	if err := cgroup.Thaw(); err != nil {
		return fmt.Errorf("thaw cgroup: %w", err)
	}

	return c.UpdateStatus(spec.StatusRunning)
}
