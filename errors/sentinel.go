// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Container lifecycle errors.
var (
	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = &ContainerError{
		Kind:   ErrNotFound,
		Detail: "container not found",
	}

	// ErrContainerExists indicates the container already exists.
	ErrContainerExists = &ContainerError{
		Kind:   ErrAlreadyExists,
		Detail: "container already exists",
	}

	// ErrContainerNotRunning indicates the container is not in running state.
	ErrContainerNotRunning = &ContainerError{
		Kind:   ErrInvalidState,
		Detail: "container is not running",
	}

	// ErrContainerNotStopped indicates the container is not in stopped state.
	ErrContainerNotStopped = &ContainerError{
		Kind:   ErrInvalidState,
		Detail: "container is not stopped",
	}

	// ErrContainerNotCreated indicates the container is not in created state.
	ErrContainerNotCreated = &ContainerError{
		Kind:   ErrInvalidState,
		Detail: "container is not in created state",
	}

	// ErrInvalidContainerID indicates the container ID is invalid.
	ErrInvalidContainerID = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid container ID",
	}

	// ErrEmptyContainerID indicates the container ID is empty.
	ErrEmptyContainerID = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "container ID cannot be empty",
	}

	// ErrNoInitProcess indicates there is no init process.
	ErrNoInitProcess = &ContainerError{
		Kind:   ErrInvalidState,
		Detail: "no init process",
	}
)

// Configuration and validation errors.
var (
	// ErrInvalidBundlePath indicates the bundle path is invalid.
	ErrInvalidBundlePath = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid bundle path",
	}

	// ErrMissingSpec indicates the config.json is missing.
	ErrMissingSpec = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "config.json not found",
	}

	// ErrInvalidSpec indicates the spec is invalid.
	ErrInvalidSpec = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid OCI spec",
	}

	// ErrMissingRootfs indicates the rootfs is missing.
	ErrMissingRootfs = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "rootfs not found",
	}

	// ErrNoProcessArgs indicates no process arguments were specified.
	ErrNoProcessArgs = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "no process arguments specified",
	}
)

// Security-related errors.
var (
	// ErrPathTraversal indicates a path traversal attempt was detected.
	ErrPathTraversal = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "path traversal detected",
	}

	// ErrSeccompFilter indicates a seccomp filter error.
	ErrSeccompFilter = &ContainerError{
		Kind:   ErrSeccomp,
		Detail: "failed to apply seccomp filter",
	}

	// ErrCapabilityDrop indicates a capability drop error.
	ErrCapabilityDrop = &ContainerError{
		Kind:   ErrCapability,
		Detail: "failed to drop capabilities",
	}

	// ErrCapabilityUnknown indicates an unknown capability was specified.
	ErrCapabilityUnknown = &ContainerError{
		Kind:   ErrCapability,
		Detail: "unknown capability",
	}
)

// Namespace errors.
var (
	// ErrNamespaceSetup indicates a namespace setup error.
	ErrNamespaceSetup = &ContainerError{
		Kind:   ErrNamespace,
		Detail: "failed to setup namespace",
	}

	// ErrNamespaceJoin indicates a namespace join error.
	ErrNamespaceJoin = &ContainerError{
		Kind:   ErrNamespace,
		Detail: "failed to join namespace",
	}
)

// Cgroup errors.
var (
	// ErrCgroupSetup indicates a cgroup setup error.
	ErrCgroupSetup = &ContainerError{
		Kind:   ErrCgroup,
		Detail: "failed to setup cgroup",
	}

	// ErrCgroupNotFound indicates the cgroup was not found.
	ErrCgroupNotFound = &ContainerError{
		Kind:   ErrCgroup,
		Detail: "cgroup not found",
	}

	// ErrCgroupResource indicates a cgroup resource limit error.
	ErrCgroupResource = &ContainerError{
		Kind:   ErrCgroup,
		Detail: "failed to apply resource limits",
	}
)

// Device errors.
var (
	// ErrDeviceCreate indicates a device creation error.
	ErrDeviceCreate = &ContainerError{
		Kind:   ErrDevice,
		Detail: "failed to create device",
	}

	// ErrDeviceNotAllowed indicates a device is not in the whitelist.
	ErrDeviceNotAllowed = &ContainerError{
		Kind:   ErrDevice,
		Detail: "device not allowed",
	}

	// ErrInvalidDevicePath indicates an invalid device path.
	ErrInvalidDevicePath = &ContainerError{
		Kind:   ErrDevice,
		Detail: "invalid device path",
	}
)

// Rootfs errors.
var (
	// ErrRootfsSetup indicates a rootfs setup error.
	ErrRootfsSetup = &ContainerError{
		Kind:   ErrRootfs,
		Detail: "failed to setup rootfs",
	}

	// ErrPivotRoot indicates a pivot_root error.
	ErrPivotRoot = &ContainerError{
		Kind:   ErrRootfs,
		Detail: "failed to pivot_root",
	}

	// ErrMountFailed indicates a mount error.
	ErrMountFailed = &ContainerError{
		Kind:   ErrRootfs,
		Detail: "failed to mount",
	}
)

// Console/PTY errors.
var (
	// ErrConsoleSetup indicates a console setup error.
	ErrConsoleSetup = &ContainerError{
		Kind:   ErrResource,
		Detail: "failed to setup console",
	}

	// ErrInvalidSocketPath indicates an invalid socket path.
	ErrInvalidSocketPath = &ContainerError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid socket path",
	}
)

// Process errors.
var (
	// ErrProcessStart indicates a process start error.
	ErrProcessStart = &ContainerError{
		Kind:   ErrInternal,
		Detail: "failed to start process",
	}

	// ErrProcessNotFound indicates the process was not found.
	ErrProcessNotFound = &ContainerError{
		Kind:   ErrNotFound,
		Detail: "process not found",
	}

	// ErrSignalFailed indicates a signal delivery error.
	ErrSignalFailed = &ContainerError{
		Kind:   ErrInternal,
		Detail: "failed to send signal",
	}
)

// Lifecycle-legality errors (§7 taxonomy).
var (
	// ErrIllegalKill indicates kill was attempted on a Creating or Stopped
	// container.
	ErrIllegalKill = &ContainerError{
		Kind:   ErrIncorrectStatus,
		Detail: "kill is not valid on a creating or stopped container",
	}

	// ErrIllegalDelete indicates delete was attempted outside Stopped.
	ErrIllegalDelete = &ContainerError{
		Kind:   ErrIncorrectStatus,
		Detail: "delete is only valid on a stopped container",
	}

	// ErrIllegalStart indicates start was attempted outside Created.
	ErrIllegalStart = &ContainerError{
		Kind:   ErrIncorrectStatus,
		Detail: "start is only valid on a created container",
	}

	// ErrIllegalPause indicates pause/resume was attempted in the wrong state.
	ErrIllegalPause = &ContainerError{
		Kind:   ErrIncorrectStatus,
		Detail: "pause is only valid on a running container",
	}

	// ErrIllegalResume indicates resume was attempted on a non-paused container.
	ErrIllegalResume = &ContainerError{
		Kind:   ErrIncorrectStatus,
		Detail: "resume is only valid on a paused container",
	}
)

// Hook errors.
var (
	// ErrHookTimeout indicates a hook exceeded its timeout.
	ErrHookTimeout = &ContainerError{
		Kind:   ErrHookFailure,
		Detail: "hook timed out",
	}

	// ErrHookExited indicates a hook exited with a non-zero status.
	ErrHookExited = &ContainerError{
		Kind:   ErrHookFailure,
		Detail: "hook exited with non-zero status",
	}
)

// Cgroup requirement errors.
var (
	// ErrCgroupRequiredMissing indicates a resource limit was requested
	// but no cgroup controller could be set up to enforce it.
	ErrCgroupRequiredMissing = &ContainerError{
		Kind:   ErrCGroupRequired,
		Detail: "resource limit requested but no cgroup controller available",
	}
)

// State store errors.
var (
	// ErrStateCorrupt indicates state.json could not be parsed.
	ErrStateCorrupt = &ContainerError{
		Kind:   ErrStateIO,
		Detail: "state.json is corrupt or unreadable",
	}

	// ErrStateWrite indicates state.json could not be written.
	ErrStateWrite = &ContainerError{
		Kind:   ErrStateIO,
		Detail: "failed to write state.json",
	}
)

// IPC errors.
var (
	// ErrIPCClosed indicates the IPC channel closed unexpectedly.
	ErrIPCClosed = &ContainerError{
		Kind:   ErrIPC,
		Detail: "ipc channel closed unexpectedly",
	}

	// ErrIPCProtocol indicates a malformed IPC message.
	ErrIPCProtocol = &ContainerError{
		Kind:   ErrIPC,
		Detail: "malformed ipc message",
	}
)

// NotSupported errors.
var (
	// ErrFeatureNotSupported indicates a requested feature is unavailable
	// on this host (missing controller, missing kernel support, ...).
	ErrFeatureNotSupported = &ContainerError{
		Kind:   ErrNotSupported,
		Detail: "feature not supported on this host",
	}
)

// HookError carries the phase and index of a failed lifecycle hook, so
// callers can report exactly which hook in which phase failed.
type HookError struct {
	*ContainerError
	Phase string
	Index int
}

// NewHookError wraps err with the hook phase and index that produced it.
func NewHookError(phase string, index int, err error) *HookError {
	return &HookError{
		ContainerError: &ContainerError{
			Op:     "hook",
			Err:    err,
			Kind:   ErrHookFailure,
			Detail: phase,
		},
		Phase: phase,
		Index: index,
	}
}
