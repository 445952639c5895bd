package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ctrun/spec"
)

func newTestContainer(t *testing.T, status spec.ContainerStatus) (*Container, string) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "ctrun-pause-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	bundleDir := filepath.Join(tmpDir, "bundle")
	if err := os.MkdirAll(filepath.Join(bundleDir, "rootfs"), 0755); err != nil {
		t.Fatalf("mkdir bundle: %v", err)
	}
	if err := spec.DefaultSpec().Save(filepath.Join(bundleDir, "config.json")); err != nil {
		t.Fatalf("write config.json: %v", err)
	}

	stateRoot := filepath.Join(tmpDir, "state")
	ctx := context.Background()
	c, err := New(ctx, "pause-test", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.State.Status = status
	if err := c.SaveState(); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	return c, stateRoot
}

func TestPauseRejectsCreating(t *testing.T) {
	_, stateRoot := newTestContainer(t, spec.StatusCreating)

	if err := Pause(context.Background(), "pause-test", stateRoot); err == nil {
		t.Error("expected Pause to reject a Creating container")
	}
}

func TestPauseRejectsStopped(t *testing.T) {
	_, stateRoot := newTestContainer(t, spec.StatusStopped)

	if err := Pause(context.Background(), "pause-test", stateRoot); err == nil {
		t.Error("expected Pause to reject a Stopped container")
	}
}

func TestPauseAlreadyPausedIsNoop(t *testing.T) {
	_, stateRoot := newTestContainer(t, spec.StatusPaused)

	if err := Pause(context.Background(), "pause-test", stateRoot); err != nil {
		t.Errorf("expected Pause on an already-Paused container to no-op, got %v", err)
	}
}

func TestResumeRejectsRunning(t *testing.T) {
	_, stateRoot := newTestContainer(t, spec.StatusRunning)

	if err := Resume(context.Background(), "pause-test", stateRoot); err == nil {
		t.Error("expected Resume to reject a Running (non-Paused) container")
	}
}

func TestResumeRejectsCreated(t *testing.T) {
	_, stateRoot := newTestContainer(t, spec.StatusCreated)

	if err := Resume(context.Background(), "pause-test", stateRoot); err == nil {
		t.Error("expected Resume to reject a Created container")
	}
}
