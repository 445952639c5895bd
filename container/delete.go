// Package container implements the delete operation.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"ctrun/hooks"
	"ctrun/linux"
	"ctrun/spec"
)

// DeleteOptions contains options for container deletion.
type DeleteOptions struct {
	// Force kills the container if it's running.
	Force bool
}

// Delete removes a container.
func Delete(ctx context.Context, id, stateRoot string, opts *DeleteOptions) error {
	if opts == nil {
		opts = &DeleteOptions{}
	}

	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("load container: %w", err)
	}

	// Refresh status
	c.RefreshStatus()

	// Delete is only legal from Stopped; --force additionally allows
	// deleting a Running/Paused container by killing it first.
	if c.State.Status != spec.StatusStopped {
		if !opts.Force {
			return fmt.Errorf("cannot delete container in %s state, use --force to kill it first", c.State.Status)
		}

		if c.IsRunning() {
			if err := c.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("kill container: %w", err)
			}
			waitForExit(ctx, c.InitProcess, 5*time.Second)
		}
	}

	// Clean up cgroup. A systemd-managed container is stopped through its
	// transient scope unit rather than rmdir'd directly, so systemd's own
	// bookkeeping for the unit is cleaned up too.
	if c.State.SystemdManaged {
		if sysCgroup, err := linux.OpenCgroupSystemd(ctx, c.ID); err == nil {
			sysCgroup.Destroy()
		}
	} else {
		cgroupPath := linux.GetCgroupPath(c.ID, "")
		if c.CgroupPath != "" {
			cgroupPath = c.CgroupPath
		}
		cgroup, err := linux.NewCgroupManager(cgroupPath)
		if err == nil {
			cgroup.Destroy()
		}
	}

	// Remove the notify socket if it still exists
	os.Remove(c.NotifySocketPath())

	if c.Spec.Hooks != nil {
		state := &spec.State{
			Version: spec.Version,
			ID:      c.ID,
			Status:  spec.StatusStopped,
			Bundle:  c.Bundle,
		}
		if err := hooks.Run(c.Spec.Hooks, hooks.Poststop, state); err != nil {
			fmt.Printf("warning: poststop hooks: %v\n", err)
		}
	}

	// Remove state directory
	if err := os.RemoveAll(c.StateDir); err != nil {
		return fmt.Errorf("remove state dir: %w", err)
	}

	return nil
}

// waitForExit waits for a process to exit with a timeout.
func waitForExit(ctx context.Context, pid int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := syscall.Kill(pid, 0)
		if err != nil {
			return // Process exited
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Cleanup removes all state for containers that are no longer running.
func Cleanup(ctx context.Context, stateRoot string) error {
	if stateRoot == "" {
		stateRoot = DefaultStateDir
	}

	entries, err := os.ReadDir(stateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}

		c, err := Load(ctx, entry.Name(), stateRoot)
		if err != nil {
			// Remove invalid state
			os.RemoveAll(filepath.Join(stateRoot, entry.Name()))
			continue
		}

		c.RefreshStatus()
		if c.State.Status == spec.StatusStopped {
			Delete(ctx, c.ID, stateRoot, &DeleteOptions{Force: true})
		}
	}

	return nil
}
