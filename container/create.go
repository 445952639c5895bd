// Package container implements the create operation.
package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/opencontainers/selinux/go-selinux"

	"ctrun/hooks"
	"ctrun/ipc"
	"ctrun/linux"
	"ctrun/spec"
	"ctrun/utils"
)

// CreateOptions contains options for container creation.
type CreateOptions struct {
	// ConsoleSocket is the path to a unix socket for the console.
	ConsoleSocket string

	// PidFile is the path to write the container PID.
	PidFile string

	// NoPivot disables pivot_root (use chroot instead).
	NoPivot bool

	// NoNewKeyring disables creating a new session keyring.
	NoNewKeyring bool

	// SystemdCgroup delegates cgroup management to a transient systemd
	// scope instead of writing cgroupfs directly.
	SystemdCgroup bool
}

// Create creates a container but doesn't start the user process.
// The container will be in "created" state, waiting for Start().
func (c *Container) Create(ctx context.Context, opts *CreateOptions) error {
	// Check context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if opts == nil {
		opts = &CreateOptions{}
	}

	// Cleanup function to call on any error after this point.
	var cgroup linux.CgroupManager
	var initChannel *ipc.Channel
	cleanup := func() {
		// Remove a partially-bound notify socket, if init got that far.
		os.Remove(c.NotifySocketPath())
		if initChannel != nil {
			initChannel.Close()
		}
		if cgroup != nil {
			cgroup.Destroy()
		}
	}

	// Setup cgroup. The systemd driver delegates the whole hierarchy to a
	// transient scope unit (started once the init pid exists, in
	// AddProcess below) instead of writing cgroupfs directly.
	var err error
	if opts.SystemdCgroup {
		cgroup, err = linux.NewCgroupSystemd(ctx, c.ID)
		if err != nil {
			cleanup()
			return fmt.Errorf("create systemd scope: %w", err)
		}
		c.State.SystemdManaged = true
	} else {
		cgroupPath := linux.GetCgroupPath(c.ID, "")
		if c.Spec.Linux != nil && c.Spec.Linux.CgroupsPath != "" {
			cgroupPath = c.Spec.Linux.CgroupsPath
		}
		c.CgroupPath = cgroupPath

		// Enable parent controllers
		linux.EnsureParentControllers(cgroupPath)

		// Create cgroup, dispatching on the host's detected v1/v2 layout
		cgroup, err = linux.NewCgroupManager(cgroupPath)
		if err != nil {
			cleanup()
			return fmt.Errorf("create cgroup: %w", err)
		}
	}

	// Apply resource limits
	if c.Spec.Linux != nil && c.Spec.Linux.Resources != nil {
		if err := cgroup.ApplyResources(c.Spec.Linux.Resources); err != nil {
			cleanup()
			return fmt.Errorf("apply resources: %w", err)
		}
	}

	// Get path to our own executable
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable: %w", err)
	}

	// Build command for init process
	// We re-exec ourselves with "init" command
	cmd := exec.Command(self, "init")
	cmd.Dir = c.Bundle

	// Setup namespace flags
	sysProcAttr, err := linux.BuildSysProcAttr(c.Spec)
	if err != nil {
		return fmt.Errorf("build sysprocattr: %w", err)
	}
	cmd.SysProcAttr = sysProcAttr

	// Setup-status channel: init reports "ready" (blocked on the notify
	// socket) or "error" (fatal setup failure) over this pair before Create
	// returns, so the caller never reports "created" for an init that died
	// during namespace/rootfs/capability/seccomp setup.
	parentCh, childCh, err := ipc.NewPair()
	if err != nil {
		cleanup()
		return fmt.Errorf("create init channel: %w", err)
	}
	initChannel = parentCh
	cmd.ExtraFiles = []*os.File{childCh.File()}
	const initChannelFd = 3 // stdin/stdout/stderr occupy 0-2 in the child

	// Setup environment for init
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("_RUNC_GO_INIT_BUNDLE=%s", c.Bundle),
		fmt.Sprintf("_RUNC_GO_NOTIFY_SOCKET=%s", c.NotifySocketPath()),
		fmt.Sprintf("_RUNC_GO_INIT_ID=%s", c.ID),
		fmt.Sprintf("_RUNC_GO_STATE_DIR=%s", c.StateDir),
		fmt.Sprintf("_RUNC_GO_INIT_CHANNEL_FD=%d", initChannelFd),
	)

	// Setup stdin/stdout/stderr
	var console *utils.Console
	var consoleSlave *os.File
	if c.Spec.Process != nil && c.Spec.Process.Terminal && opts.ConsoleSocket != "" {
		// Console socket mode: create PTY and send master to socket
		var err error
		console, err = utils.NewConsole()
		if err != nil {
			return fmt.Errorf("create console: %w", err)
		}
		// Open slave PTY in parent and pass to child via inheritance
		consoleSlave, err = console.OpenSlave()
		if err != nil {
			console.Close()
			return fmt.Errorf("open console slave: %w", err)
		}
		// Connect child's stdio to slave PTY
		cmd.Stdin = consoleSlave
		cmd.Stdout = consoleSlave
		cmd.Stderr = consoleSlave
		// Note: Don't set Setctty here - it interferes with namespace creation
		// The controlling terminal is set up in InitContainer instead
	} else if c.Spec.Process != nil && c.Spec.Process.Terminal {
		// Direct terminal mode: inherit from parent
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		// Non-terminal mode
		cmd.Stdin = nil
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	// Start the init process
	if err := cmd.Start(); err != nil {
		if console != nil {
			console.Close()
		}
		cleanup()
		return fmt.Errorf("start init: %w", err)
	}

	// The child now has its own copy of the channel fd; the parent's copy
	// of the child end would otherwise keep that end of the pair alive
	// even after init exits.
	childCh.Close()

	// Send PTY master to console socket (must be after cmd.Start)
	if console != nil {
		if err := utils.SendConsoleToSocket(opts.ConsoleSocket, console.Master()); err != nil {
			cmd.Process.Kill()
			console.Close()
			if consoleSlave != nil {
				consoleSlave.Close()
			}
			cleanup()
			return fmt.Errorf("send console to socket: %w", err)
		}
		console.Close() // Parent doesn't need master anymore
		if consoleSlave != nil {
			consoleSlave.Close() // Parent doesn't need slave anymore
		}
	}

	c.InitProcess = cmd.Process.Pid
	c.State.Pid = c.InitProcess

	// Block until init reports it is alive and blocked on the notify
	// socket, or reports a fatal setup error. This is what lets create
	// fail (and fully clean up) instead of reporting "created" for a
	// container whose init died during namespace/rootfs/seccomp setup.
	var initMsg ipc.Message
	if _, err := parentCh.Recv(&initMsg); err != nil {
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("wait for init: %w", err)
	}
	switch initMsg.Type {
	case ipc.MsgInitReady:
		// init has bound the notify socket and is blocked in Accept.
	case ipc.MsgError:
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("init setup failed: %s", initMsg.Error)
	default:
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("unexpected init message %q", initMsg.Type)
	}

	// Add process to cgroup. For the systemd driver this is what actually
	// starts the transient scope (it needs a pid to seed it), so the
	// delegated cgroupfs path is only known afterward.
	if err := cgroup.AddProcess(c.InitProcess); err != nil {
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("add to cgroup: %w", err)
	}
	if sysCgroup, ok := cgroup.(*linux.CgroupSystemd); ok {
		c.CgroupPath = sysCgroup.Path()
	}

	// Write PID file if requested
	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(fmt.Sprintf("%d", c.InitProcess)), 0644); err != nil {
			cmd.Process.Kill()
			cleanup()
			return fmt.Errorf("write pid file: %w", err)
		}
	}

	// Update state to created
	c.State.Status = spec.StatusCreated
	if err := c.SaveState(); err != nil {
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}

	// No further setup messages are expected from init; it is now blocked
	// on the notify socket waiting for Start() to be called.
	parentCh.Close()

	return nil
}

// InitContainer is called inside the container namespace to complete setup.
// This is executed by the re-exec'd process.
func InitContainer() (err error) {
	// Get init parameters from environment
	bundle := os.Getenv("_RUNC_GO_INIT_BUNDLE")
	notifySocketPath := os.Getenv("_RUNC_GO_NOTIFY_SOCKET")
	containerID := os.Getenv("_RUNC_GO_INIT_ID")
	stateDir := os.Getenv("_RUNC_GO_STATE_DIR")
	channelFdStr := os.Getenv("_RUNC_GO_INIT_CHANNEL_FD")

	if bundle == "" || notifySocketPath == "" || stateDir == "" || channelFdStr == "" {
		return fmt.Errorf("missing init environment")
	}
	channelFd, err := strconv.Atoi(channelFdStr)
	if err != nil {
		return fmt.Errorf("invalid init channel fd %q: %w", channelFdStr, err)
	}

	// Report any fatal setup error that happens before init reaches the
	// notify-socket wait back to the parent over the setup channel; once
	// past that point, failures surface through the process exit code
	// instead (the parent is no longer listening on the channel).
	ch := ipc.FromFd(uintptr(channelFd), "init")
	reportedReady := false
	defer func() {
		if err != nil && !reportedReady {
			ch.Send(ipc.Message{Type: ipc.MsgError, Error: err.Error()})
		}
		ch.Close()
	}()

	// Load spec
	specPath := filepath.Join(bundle, "config.json")
	s, err := spec.LoadSpec(specPath)
	if err != nil {
		return fmt.Errorf("load spec: %w", err)
	}

	hookState := &spec.State{
		Version: spec.Version,
		ID:      containerID,
		Status:  spec.StatusCreating,
		Pid:     os.Getpid(),
		Bundle:  bundle,
	}

	// Join namespaces if paths specified
	if s.Linux != nil {
		if err := linux.SetNamespaces(s.Linux.Namespaces); err != nil {
			return fmt.Errorf("set namespaces: %w", err)
		}
	}

	if s.Hooks != nil {
		if err := hooks.Run(s.Hooks, hooks.CreateRuntime, hookState); err != nil {
			return fmt.Errorf("createRuntime hooks: %w", err)
		}
	}

	// Set hostname
	if s.Hostname != "" {
		if err := linux.SetHostname(s.Hostname); err != nil {
			return fmt.Errorf("set hostname: %w", err)
		}
	}

	// Set domainname
	if s.Domainname != "" {
		if err := linux.SetDomainname(s.Domainname); err != nil {
			return fmt.Errorf("set domainname: %w", err)
		}
	}

	// IMPORTANT: bind the notify socket BEFORE pivot_root - its path is
	// inside the (host-visible) container state directory, which stops
	// being reachable once the rootfs is pivoted into place.
	notifySocket, err := ipc.BindNotifySocket(stateDir)
	if err != nil {
		return fmt.Errorf("bind notify socket: %w", err)
	}

	// Setup rootfs (pivot_root, mounts, etc.)
	if err := linux.SetupRootfs(s, bundle); err != nil {
		return fmt.Errorf("setup rootfs: %w", err)
	}

	// Setup devices
	if s.Linux != nil && len(s.Linux.Devices) > 0 {
		if err := linux.CreateDevices(s.Linux.Devices); err != nil {
			fmt.Printf("[init] warning: create devices: %v\n", err)
		}
	}

	// Setup default devices
	linux.SetupDefaultDevices()
	linux.SetupDevSymlinks()
	linux.SetupDevPts()

	if s.Hooks != nil {
		if err := hooks.Run(s.Hooks, hooks.CreateContainer, hookState); err != nil {
			return fmt.Errorf("createContainer hooks: %w", err)
		}
	}

	// Change to working directory
	if s.Process != nil && s.Process.Cwd != "" {
		if err := os.Chdir(s.Process.Cwd); err != nil {
			return fmt.Errorf("chdir %s: %w", s.Process.Cwd, err)
		}
	}

	// Setup is complete: report readiness to the parent so create() can
	// return, then block on the notify socket until start() dials in.
	if sendErr := ch.Send(ipc.Message{Type: ipc.MsgInitReady}); sendErr != nil {
		return fmt.Errorf("report init ready: %w", sendErr)
	}
	reportedReady = true

	if err := notifySocket.WaitForStart(); err != nil {
		return fmt.Errorf("wait for start: %w", err)
	}
	notifySocket.Close()

	hookState.Status = spec.StatusRunning
	if s.Hooks != nil {
		if err := hooks.Run(s.Hooks, hooks.StartContainer, hookState); err != nil {
			return fmt.Errorf("startContainer hooks: %w", err)
		}
	}

	// Create /dev/console if stdin is a PTY (character device)
	// Go's Setctty flag handles setsid() and TIOCSCTTY automatically
	var stat syscall.Stat_t
	if err := syscall.Fstat(0, &stat); err == nil {
		if stat.Mode&syscall.S_IFCHR != 0 {
			os.Remove("/dev/console")
			if err := syscall.Mknod("/dev/console", syscall.S_IFCHR|0600, int(stat.Rdev)); err != nil {
				fmt.Printf("[init] warning: failed to create /dev/console: %v\n", err)
			}
		}
	}

	// Apply capabilities
	if s.Process != nil && s.Process.Capabilities != nil {
		if err := linux.ApplyCapabilities(s.Process.Capabilities); err != nil {
			return fmt.Errorf("apply capabilities: %w", err)
		}
	}

	// Apply no-new-privileges when the process spec asks for it.
	if s.Process != nil && s.Process.NoNewPrivileges {
		if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, linux.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
			return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %v", errno)
		}
	}

	// Apply seccomp after capabilities. The user switch and environment
	// setup below, and the user program's execve, run under the filter.
	seccompNotifyFd := -1
	if s.Linux != nil && s.Linux.Seccomp != nil {
		fd, err := linux.SetupSeccomp(s.Linux.Seccomp)
		if err != nil {
			return fmt.Errorf("setup seccomp: %w", err)
		}
		seccompNotifyFd = fd
	}
	if seccompNotifyFd >= 0 {
		if receiver := s.Annotations["run.oci.seccomp.receiver"]; receiver != "" {
			sendErr := ipc.SendSeccompFd(receiver, containerID, seccompNotifyFd)
			syscall.Close(seccompNotifyFd)
			if sendErr != nil {
				return fmt.Errorf("relay seccomp notify fd: %w", sendErr)
			}
		} else {
			syscall.Close(seccompNotifyFd)
		}
	}

	// Set user
	if s.Process != nil {
		if err := setUser(s.Process.User); err != nil {
			return fmt.Errorf("set user: %w", err)
		}
	}

	// Setup environment
	if s.Process != nil {
		for _, env := range s.Process.Env {
			parts := splitEnv(env)
			if len(parts) == 2 {
				os.Setenv(parts[0], parts[1])
			}
		}
	}

	// Exec the user process
	if s.Process == nil || len(s.Process.Args) == 0 {
		return fmt.Errorf("no process args specified")
	}

	// If stdin is a TTY, ensure it's the controlling terminal
	// This is needed because Go's Setctty doesn't work reliably with Cloneflags
	if s.Process.Terminal {
		// Try to become session leader (may already be one, which is fine)
		syscall.Setsid()
		// Set stdin as controlling terminal
		utils.SetControllingTerminal(os.Stdin)
		// Enable signal generation and set foreground process group
		utils.SetupTerminalSignals(os.Stdin)
	}

	args := s.Process.Args
	path, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("lookup %s: %w", args[0], err)
	}

	// Instead of exec'ing directly (which would make user command PID 1),
	// fork/exec and forward signals. PID 1 in Linux ignores signals without handlers.
	cmd := exec.Command(path, args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if s.Process.SelinuxLabel != "" && selinux.GetEnabled() {
		if err := selinux.SetExecLabel(s.Process.SelinuxLabel); err != nil {
			return fmt.Errorf("set exec label: %w", err)
		}
		defer selinux.SetExecLabel("") //nolint:errcheck
	}

	// Start the user process
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start user process: %w", err)
	}

	if s.Hooks != nil {
		if err := hooks.Run(s.Hooks, hooks.Poststart, hookState); err != nil {
			fmt.Printf("[init] warning: poststart hooks: %v\n", err)
		}
	}

	// Forward signals to the child process
	// PID 1 in Linux ignores signals without handlers, so we must catch and forward them
	sigChan := make(chan os.Signal, 10)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	// Signal forwarding goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range sigChan {
			// Ignore errors - process may have exited
			_ = cmd.Process.Signal(sig)
		}
	}()

	// Wait for child to exit and propagate its exit code
	waitErr := cmd.Wait()

	// Stop signal forwarding and clean up
	signal.Stop(sigChan)
	close(sigChan)
	<-done // Wait for goroutine to finish

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return waitErr
	}
	os.Exit(0)
	return nil // unreachable
}

// splitEnv splits an environment variable string into key and value.
func splitEnv(env string) []string {
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			return []string{env[:i], env[i+1:]}
		}
	}
	return []string{env}
}

// setUser sets the user ID and group ID.
func setUser(user spec.User) error {
	// Set supplementary groups
	if len(user.AdditionalGids) > 0 {
		gids := make([]int, len(user.AdditionalGids))
		for i, g := range user.AdditionalGids {
			gids[i] = int(g)
		}
		// setgroups might fail in user namespaces, log warning but don't fail
		if err := setGroups(gids); err != nil {
			fmt.Printf("[init] warning: setgroups failed (expected in user namespaces): %v\n", err)
		}
	}

	// Set GID first (must be before UID)
	if user.GID != 0 {
		if err := setGid(int(user.GID)); err != nil {
			return fmt.Errorf("setgid: %w", err)
		}
	}

	// Set UID
	if user.UID != 0 {
		if err := setUid(int(user.UID)); err != nil {
			return fmt.Errorf("setuid: %w", err)
		}
	}

	// Set umask
	if user.Umask != nil {
		oldMask := setUmask(int(*user.Umask))
		_ = oldMask // Ignore old mask
	}

	return nil
}
