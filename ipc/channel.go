// Package ipc implements the length-prefixed JSON setup channel between the
// runtime's create() call and the re-exec'd init process, plus the notify
// socket init blocks on before exec'ing the container's user process.
// Includes SCM_RIGHTS fd passing for the console master.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Channel is one end of a socketpair-based IPC connection. Messages are a
// 8-byte big-endian length prefix followed by a JSON payload; a message may
// optionally carry one SCM_RIGHTS control message with file descriptors.
type Channel struct {
	f    *os.File
	fd   int
	name string
}

// NewPair creates a connected pair of channels (parent end, child end)
// backed by a unix domain socketpair, generalizing the plain pipe the
// teacher used into something that can carry fds across fork+exec.
func NewPair() (parent, child *Channel, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	parent = &Channel{f: os.NewFile(uintptr(fds[0]), "ipc-parent"), fd: fds[0], name: "parent"}
	child = &Channel{f: os.NewFile(uintptr(fds[1]), "ipc-child"), fd: fds[1], name: "child"}
	return parent, child, nil
}

// File returns the underlying *os.File, for passing across fork/exec via
// ExtraFiles or for closing the unused end after fork.
func (c *Channel) File() *os.File { return c.f }

// FromFd wraps an already-open file descriptor as a Channel endpoint. Used
// by the init process to recover the child end of the pair it inherited
// across exec via ExtraFiles, since the fd number (not a *Channel) is all
// that survives a re-exec.
func FromFd(fd uintptr, name string) *Channel {
	f := os.NewFile(fd, name)
	return &Channel{f: f, fd: int(fd), name: name}
}

// Fd returns the raw file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Close closes the channel.
func (c *Channel) Close() error {
	if c.f == nil {
		return nil
	}
	return c.f.Close()
}

// Send writes v as length-prefixed JSON, optionally attaching fds as a
// single SCM_RIGHTS control message. The length is a 64-bit value sent in
// the same iovec as the payload, so length and body land in one packet.
func (c *Channel) Send(v any, fds ...int) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal: %w", err)
	}

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	// sendmsg the header+payload in one call so length and body can't be
	// observed split by a concurrent short read.
	buf := append(header[:], payload...)
	n, oobn, err := sendmsg(c.fd, buf, oob)
	if err != nil {
		return fmt.Errorf("ipc: sendmsg: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("ipc: short write: wrote %d of %d bytes", n, len(buf))
	}
	if len(oob) > 0 && oobn != len(oob) {
		return fmt.Errorf("ipc: short oob write: wrote %d of %d bytes", oobn, len(oob))
	}
	return nil
}

func sendmsg(fd int, p, oob []byte) (n, oobn int, err error) {
	return unix.SendmsgN(fd, p, oob, nil, 0)
}

// Recv reads one length-prefixed JSON message into v, returning any fds
// carried in an SCM_RIGHTS control message. If one received message carries
// more than one SCM_RIGHTS control message, only the first is honored; fds
// in the others are closed and discarded, per the double-fork protocol (the
// console/notify fd is only ever sent once).
func (c *Channel) Recv(v any) (fds []int, err error) {
	lenBuf := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(4*4)) // room for a handful of fds

	n, oobn, _, _, err := unix.Recvmsg(c.fd, lenBuf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("ipc: recvmsg header: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	if n != 8 {
		return nil, fmt.Errorf("ipc: short header read: %d bytes", n)
	}

	msgLen := binary.BigEndian.Uint64(lenBuf)
	payload := make([]byte, msgLen)
	if msgLen > 0 {
		if _, err := io.ReadFull(c.f, payload); err != nil {
			return nil, fmt.Errorf("ipc: read payload: %w", err)
		}
	}

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, cmsg := range cmsgs {
				gotFds, err := unix.ParseUnixRights(&cmsg)
				if err != nil {
					continue
				}
				if fds == nil {
					fds = gotFds
				} else {
					// already have fds from an earlier control message in
					// this read; close stragglers rather than leak them.
					for _, f := range gotFds {
						unix.Close(f)
					}
				}
			}
		}
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fds, fmt.Errorf("ipc: unmarshal: %w", err)
	}
	return fds, nil
}

// MessageType identifies a frame on the channel (mirrors the phases the
// parent/intermediate/init processes hand off to each other).
type MessageType string

const (
	// MsgInitReady signals that init has completed namespace/rootfs/
	// capability/seccomp setup and is blocked on the notify socket.
	MsgInitReady MessageType = "init_ready"
	// MsgConsoleFd carries the PTY master fd via SCM_RIGHTS.
	MsgConsoleFd MessageType = "console_fd"
	// MsgError carries a fatal setup error from the child side.
	MsgError MessageType = "error"
)

// Message is the envelope exchanged over a Channel.
type Message struct {
	Type  MessageType `json:"type"`
	Pid   int         `json:"pid,omitempty"`
	Error string      `json:"error,omitempty"`
}
