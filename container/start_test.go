package container

import (
	"context"
	"os"
	"testing"
	"time"

	"ctrun/ipc"
	"ctrun/spec"
)

// ============================================================================
// STATE TRANSITION TESTS
// ============================================================================

// TestStart_RequiresCreatedState tests that Start fails if container is not in created state.
func TestStart_RequiresCreatedState(t *testing.T) {
	tests := []struct {
		name   string
		status spec.ContainerStatus
	}{
		{"creating", spec.StatusCreating},
		{"running", spec.StatusRunning},
		{"stopped", spec.StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Container{
				ID: "test-container",
				State: &spec.ContainerState{
					State: spec.State{
						Status: tt.status,
					},
				},
				StateDir: t.TempDir(),
			}

			ctx := context.Background()
			err := c.Start(ctx)
			if err == nil {
				t.Error("expected error when starting container not in created state")
			}
		})
	}
}

// TestStart_ContextCancellation tests that Start respects context cancellation.
func TestStart_ContextCancellation(t *testing.T) {
	c := &Container{
		ID: "test-container",
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreated,
			},
		},
		StateDir: t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := c.Start(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ============================================================================
// NOTIFY SOCKET TESTS
// ============================================================================

// TestStart_NotifySocketNotFound tests error handling when the notify
// socket doesn't exist (init never bound it).
func TestStart_NotifySocketNotFound(t *testing.T) {
	tempDir := t.TempDir()
	// Use a real PID (our own) so RefreshStatus keeps the created state and
	// Start gets as far as dialing the notify socket.
	c := &Container{
		ID:          "test-container",
		InitProcess: os.Getpid(),
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreated,
			},
		},
		StateDir: tempDir,
	}

	ctx := context.Background()
	err := c.Start(ctx)
	if err == nil {
		t.Error("expected error when notify socket doesn't exist")
	}
}

// TestStart_SignalsNotifySocket tests that Start writes the start signal
// to the notify socket correctly.
func TestStart_SignalsNotifySocket(t *testing.T) {
	tempDir := t.TempDir()
	ns, err := ipc.BindNotifySocket(tempDir)
	if err != nil {
		t.Fatalf("failed to bind notify socket: %v", err)
	}
	defer ns.Close()

	// Use a real PID (our own) so RefreshStatus doesn't change state to stopped
	c := &Container{
		ID:          "test-container",
		InitProcess: os.Getpid(), // Use current process PID
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreated,
			},
		},
		StateDir: tempDir,
	}

	// Simulate init's WaitForStart in a goroutine.
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- ns.WaitForStart()
	}()

	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case err := <-waitDone:
		if err != nil {
			t.Errorf("WaitForStart failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for notify socket signal")
	}
}

// TestStart_UpdatesStateToRunning tests that Start updates state to running.
func TestStart_UpdatesStateToRunning(t *testing.T) {
	tempDir := t.TempDir()
	ns, err := ipc.BindNotifySocket(tempDir)
	if err != nil {
		t.Fatalf("failed to bind notify socket: %v", err)
	}
	defer ns.Close()

	// Use a real PID (our own) so RefreshStatus doesn't change state to stopped
	c := &Container{
		ID:          "test-container",
		InitProcess: os.Getpid(), // Use current process PID
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreated,
			},
		},
		StateDir: tempDir,
	}

	go ns.WaitForStart()

	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if c.State.Status != spec.StatusRunning {
		t.Errorf("state should be running, got %s", c.State.Status)
	}
}

// ============================================================================
// WAIT TESTS
// ============================================================================

// TestWait_InvalidPID tests Wait with invalid PID.
func TestWait_InvalidPID(t *testing.T) {
	c := &Container{
		ID:          "test-container",
		InitProcess: 0,
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusRunning,
			},
		},
	}

	ctx := context.Background()
	_, err := c.Wait(ctx)
	if err == nil {
		t.Error("expected error with invalid PID")
	}
}

// TestWait_NegativePID tests Wait with negative PID.
func TestWait_NegativePID(t *testing.T) {
	c := &Container{
		ID:          "test-container",
		InitProcess: -1,
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusRunning,
			},
		},
	}

	ctx := context.Background()
	_, err := c.Wait(ctx)
	if err == nil {
		t.Error("expected error with negative PID")
	}
}

// TestWait_ContextCancellation tests that Wait respects context cancellation.
func TestWait_ContextCancellation(t *testing.T) {
	c := &Container{
		ID:          "test-container",
		InitProcess: 99999999, // Non-existent PID
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusRunning,
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := c.Wait(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ============================================================================
// RUN TESTS
// ============================================================================

// TestRun_RequiresValidBundle tests that Run requires a valid bundle.
func TestRun_RequiresValidBundle(t *testing.T) {
	tempDir := t.TempDir()
	c := &Container{
		ID:       "test-container",
		Bundle:   "/nonexistent/bundle",
		StateDir: tempDir,
		Spec:     &spec.Spec{}, // Provide non-nil Spec
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreating,
			},
		},
	}

	ctx := context.Background()
	err := c.Run(ctx, nil)
	if err == nil {
		t.Error("expected error with invalid bundle")
	}
}

// ============================================================================
// CONCURRENT ACCESS TESTS
// ============================================================================

// TestStart_ConcurrentAccess tests that Start is safe for concurrent access.
func TestStart_ConcurrentAccess(t *testing.T) {
	tempDir := t.TempDir()
	ns, err := ipc.BindNotifySocket(tempDir)
	if err != nil {
		t.Fatalf("failed to bind notify socket: %v", err)
	}
	defer ns.Close()

	// Use a real PID (our own) so RefreshStatus doesn't change state to stopped
	c := &Container{
		ID:          "test-container",
		InitProcess: os.Getpid(), // Use current process PID
		State: &spec.ContainerState{
			State: spec.State{
				Status: spec.StatusCreated,
			},
		},
		StateDir: tempDir,
	}

	// Accept multiple connections in a goroutine for concurrent access.
	go func() {
		for i := 0; i < 3; i++ {
			ns.WaitForStart()
		}
	}()

	time.Sleep(50 * time.Millisecond)

	// Try concurrent Start calls
	done := make(chan error, 3)
	for i := range 3 {
		go func(idx int) {
			ctx := context.Background()
			done <- c.Start(ctx)
		}(i)
	}

	// Collect results - the key is that no panics occur
	var successCount, errorCount int
	for range 3 {
		if err := <-done; err == nil {
			successCount++
		} else {
			errorCount++
		}
	}

	if successCount == 0 && errorCount == 0 {
		t.Error("expected at least some results from concurrent starts")
	}
}

// ============================================================================
// NOTIFY SOCKET CREATION TESTS (in start_test.go)
// ============================================================================

// TestBindNotifySocket creates the notify socket on a fresh state directory.
func TestBindNotifySocket(t *testing.T) {
	tempDir := t.TempDir()

	ns, err := ipc.BindNotifySocket(tempDir)
	if err != nil {
		t.Fatalf("BindNotifySocket failed: %v", err)
	}
	defer ns.Close()

	fi, err := os.Stat(ns.Path())
	if err != nil {
		t.Fatalf("notify socket not created: %v", err)
	}

	if fi.Mode()&os.ModeSocket == 0 {
		t.Error("created file is not a socket")
	}
}

// TestBindNotifySocket_AlreadyExists tests that binding fails when the
// socket path is already occupied by a stale file.
func TestBindNotifySocket_AlreadyExists(t *testing.T) {
	tempDir := t.TempDir()

	ns, err := ipc.BindNotifySocket(tempDir)
	if err != nil {
		t.Fatalf("first BindNotifySocket failed: %v", err)
	}
	defer ns.Close()

	// Try to bind again at the same directory - should fail since the
	// socket file already exists.
	_, err = ipc.BindNotifySocket(tempDir)
	if err == nil {
		t.Error("expected error when notify socket already exists")
	}
}
