// Package sysfacade collects the raw syscalls the namespace/rootfs/process
// packages need behind a small set of functions, so that the low-level
// Linux surface area call sites aren't scattered across every package and
// can be swapped for a test double.
package sysfacade

import (
	"golang.org/x/sys/unix"
)

// Mount wraps mount(2).
func Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

// Unmount wraps umount2(2).
func Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// PivotRoot wraps pivot_root(2).
func PivotRoot(newRoot, putOld string) error {
	return unix.PivotRoot(newRoot, putOld)
}

// Unshare wraps unshare(2).
func Unshare(flags int) error {
	return unix.Unshare(flags)
}

// Setns wraps setns(2).
func Setns(fd int, flags int) error {
	return unix.Setns(fd, flags)
}

// Chroot wraps chroot(2).
func Chroot(path string) error {
	return unix.Chroot(path)
}

// Mknod wraps mknod(2).
func Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}

// Statfs wraps statfs(2).
func Statfs(path string, buf *unix.Statfs_t) error {
	return unix.Statfs(path, buf)
}

// Prctl wraps prctl(2).
func Prctl(option int, arg2, arg3, arg4, arg5 uintptr) error {
	return unix.Prctl(option, arg2, arg3, arg4, arg5)
}

// CloseRange wraps close_range(2), used to close all inherited fds above a
// watermark in the init process before exec'ing the user program.
func CloseRange(first, last uint, flags uint) error {
	return unix.CloseRange(first, last, flags)
}

// Sethostname wraps sethostname(2).
func Sethostname(name string) error {
	return unix.Sethostname([]byte(name))
}

// Setdomainname wraps setdomainname(2).
func Setdomainname(name string) error {
	return unix.Setdomainname([]byte(name))
}
