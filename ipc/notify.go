package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// NotifySocket is the socket init binds and listens on, before pivot_root,
// so that a later and entirely separate `start` invocation has a stable
// path to dial. Init blocks in WaitForStart until that dial arrives; there
// is no supervising daemon holding the listener open across the two
// invocations, only the long-lived init process itself.
type NotifySocket struct {
	listener *net.UnixListener
	path     string
}

// socketFileName is fixed so callers only need to know the container's
// state directory, not the exact socket path.
const socketFileName = "notify.sock"

// startSignal is the literal payload `start` writes to release init.
const startSignal = "start container"

// BindNotifySocket creates and binds the notify socket inside dir, to be
// Accepted on later via WaitForStart. dir must already exist; the socket
// file itself must not (a stale socket from a previous container run is
// never silently reused).
func BindNotifySocket(dir string) (*NotifySocket, error) {
	path := filepath.Join(dir, socketFileName)
	if err := validateSocketPath(path); err != nil {
		return nil, err
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolve notify socket addr: %w", err)
	}

	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: bind notify socket: %w", err)
	}

	return &NotifySocket{listener: l, path: path}, nil
}

// validateSocketPath rejects paths that would collide with an existing
// file, mirroring the ABSTRACT/PATH validation the original notify socket
// enforces to prevent a stale socket from a previous container run being
// silently reused.
func validateSocketPath(path string) error {
	if strings.HasPrefix(path, "@") {
		return fmt.Errorf("ipc: abstract notify socket paths are not supported: %s", path)
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("ipc: notify socket path already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("ipc: stat notify socket path: %w", err)
	}
	return nil
}

// Path returns the socket's filesystem path.
func (n *NotifySocket) Path() string { return n.path }

// WaitForStart blocks until the `start` command dials in and writes its
// signal, establishing happens-before between start issuance and whatever
// init does next (normally: execve the user program).
func (n *NotifySocket) WaitForStart() error {
	conn, err := n.listener.AcceptUnix()
	if err != nil {
		return fmt.Errorf("ipc: accept start connection: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, len(startSignal))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("ipc: read start signal: %w", err)
	}
	return nil
}

// Close closes the listener and removes the socket file.
func (n *NotifySocket) Close() error {
	err := n.listener.Close()
	os.Remove(n.path)
	return err
}

// seccompFdMeta is the small JSON frame sent alongside the seccomp
// notification fd, giving the receiver enough to identify which
// container's policy the fd belongs to.
type seccompFdMeta struct {
	ContainerID string `json:"containerId"`
}

// SendSeccompFd relays a seccomp user-notification fd to the receiver
// socket named by the bundle's run.oci.seccomp.receiver annotation - the
// convention this runtime follows instead of inventing a new one. The fd
// travels as ancillary SCM_RIGHTS data alongside a small JSON metadata
// frame; the caller closes notifyFd once this returns.
func SendSeccompFd(socketPath, containerID string, notifyFd int) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("ipc: dial seccomp receiver socket: %w", err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("ipc: seccomp receiver socket is not a unix socket")
	}
	f, err := uc.File()
	if err != nil {
		return fmt.Errorf("ipc: duplicate seccomp receiver conn: %w", err)
	}
	defer f.Close()

	meta, err := json.Marshal(seccompFdMeta{ContainerID: containerID})
	if err != nil {
		return fmt.Errorf("ipc: marshal seccomp fd metadata: %w", err)
	}

	n, oobn, err := sendmsg(int(f.Fd()), meta, unix.UnixRights(notifyFd))
	if err != nil {
		return fmt.Errorf("ipc: send seccomp fd: %w", err)
	}
	if n != len(meta) {
		return fmt.Errorf("ipc: short seccomp fd metadata write: wrote %d of %d bytes", n, len(meta))
	}
	if oobn == 0 {
		return fmt.Errorf("ipc: seccomp fd ancillary data not sent")
	}
	return nil
}

// SendStart dials the notify socket at path and writes the start signal.
// Used by the `start` command, which is a client entirely independent of
// the process that originally bound the socket.
func SendStart(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: dial notify socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(startSignal)); err != nil {
		return fmt.Errorf("ipc: write start signal: %w", err)
	}
	return nil
}
