// Package spec defines the OCI Runtime Specification structures used to
// load config.json and to persist state.json.
//
// The schema types themselves are aliases over the upstream
// github.com/opencontainers/runtime-spec/specs-go package rather than a
// hand-rolled mirror of it: the OCI config/state schema is an external
// contract, and the rest of this codebase's ecosystem (moby/moby) depends
// on the real package for exactly that reason.
package spec

import (
	"encoding/json"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Version is the OCI Runtime Specification version this implementation targets.
const Version = specs.Version

type (
	Spec                   = specs.Spec
	Process                = specs.Process
	Box                    = specs.Box
	User                   = specs.User
	LinuxCapabilities      = specs.LinuxCapabilities
	POSIXRlimit            = specs.POSIXRlimit
	Root                   = specs.Root
	Mount                  = specs.Mount
	Hook                   = specs.Hook
	Hooks                  = specs.Hooks
	Linux                  = specs.Linux
	LinuxIDMapping         = specs.LinuxIDMapping
	LinuxNamespace         = specs.LinuxNamespace
	LinuxNamespaceType     = specs.LinuxNamespaceType
	LinuxDevice            = specs.LinuxDevice
	LinuxResources         = specs.LinuxResources
	LinuxDeviceCgroup      = specs.LinuxDeviceCgroup
	LinuxMemory            = specs.LinuxMemory
	LinuxCPU               = specs.LinuxCPU
	LinuxPids              = specs.LinuxPids
	LinuxBlockIO           = specs.LinuxBlockIO
	LinuxWeightDevice      = specs.LinuxWeightDevice
	LinuxThrottleDevice    = specs.LinuxThrottleDevice
	LinuxHugepageLimit     = specs.LinuxHugepageLimit
	LinuxNetwork           = specs.LinuxNetwork
	LinuxInterfacePriority = specs.LinuxInterfacePriority
	LinuxRdma              = specs.LinuxRdma
	LinuxSeccomp           = specs.LinuxSeccomp
	LinuxSeccompAction     = specs.LinuxSeccompAction
	LinuxSeccompFlag       = specs.LinuxSeccompFlag
	LinuxSyscall           = specs.LinuxSyscall
	LinuxSeccompArg        = specs.LinuxSeccompArg
	LinuxSeccompOperator   = specs.LinuxSeccompOperator
	Arch                   = specs.Arch
	LinuxIntelRdt          = specs.LinuxIntelRdt
	LinuxPersonality       = specs.LinuxPersonality
	LinuxPersonalityDomain = specs.LinuxPersonalityDomain
	LinuxPersonalityFlag   = specs.LinuxPersonalityFlag
)

const (
	PIDNamespace     = specs.PIDNamespace
	NetworkNamespace = specs.NetworkNamespace
	MountNamespace   = specs.MountNamespace
	IPCNamespace     = specs.IPCNamespace
	UTSNamespace     = specs.UTSNamespace
	UserNamespace    = specs.UserNamespace
	CgroupNamespace  = specs.CgroupNamespace
	TimeNamespace    = specs.TimeNamespace
)

const (
	ActKill        = specs.ActKill
	ActKillProcess = specs.ActKillProcess
	ActKillThread  = specs.ActKillThread
	ActTrap        = specs.ActTrap
	ActErrno       = specs.ActErrno
	ActTrace       = specs.ActTrace
	ActAllow       = specs.ActAllow
	ActLog         = specs.ActLog
	ActNotify      = specs.ActNotify
)

const (
	ArchX86         = specs.ArchX86
	ArchX86_64      = specs.ArchX86_64
	ArchX32         = specs.ArchX32
	ArchARM         = specs.ArchARM
	ArchAARCH64     = specs.ArchAARCH64
	ArchMIPS        = specs.ArchMIPS
	ArchMIPS64      = specs.ArchMIPS64
	ArchMIPS64N32   = specs.ArchMIPS64N32
	ArchMIPSEL      = specs.ArchMIPSEL
	ArchMIPSEL64    = specs.ArchMIPSEL64
	ArchMIPSEL64N32 = specs.ArchMIPSEL64N32
	ArchPPC         = specs.ArchPPC
	ArchPPC64       = specs.ArchPPC64
	ArchPPC64LE     = specs.ArchPPC64LE
	ArchS390        = specs.ArchS390
	ArchS390X       = specs.ArchS390X
)

const (
	OpNotEqual     = specs.OpNotEqual
	OpLessThan     = specs.OpLessThan
	OpLessEqual    = specs.OpLessEqual
	OpEqualTo      = specs.OpEqualTo
	OpGreaterEqual = specs.OpGreaterEqual
	OpGreaterThan  = specs.OpGreaterThan
	OpMaskedEqual  = specs.OpMaskedEqual
)

// LoadSpec loads an OCI spec from a config.json file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSpec writes an OCI spec to a config.json file.
func SaveSpec(s *Spec, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func intPtr(i int64) *int64 { return &i }

// DefaultSpec returns a minimal default OCI spec suitable for most containers.
func DefaultSpec() *Spec {
	return &Spec{
		Version: Version,
		Root: &Root{
			Path:     "rootfs",
			Readonly: false,
		},
		Process: &Process{
			Terminal: true,
			User: User{
				UID: 0,
				GID: 0,
			},
			Args: []string{"/bin/sh"},
			Env: []string{
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
				"TERM=xterm",
			},
			Cwd:             "/",
			NoNewPrivileges: true,
			Capabilities: &LinuxCapabilities{
				Bounding:    defaultCapabilities(),
				Effective:   defaultCapabilities(),
				Permitted:   defaultCapabilities(),
				Inheritable: defaultCapabilities(),
			},
			Rlimits: []POSIXRlimit{
				{Type: "RLIMIT_NOFILE", Hard: 1024, Soft: 1024},
			},
		},
		Hostname: "container",
		Mounts: []Mount{
			{Destination: "/proc", Type: "proc", Source: "proc", Options: []string{"nosuid", "noexec", "nodev"}},
			{Destination: "/dev", Type: "tmpfs", Source: "tmpfs", Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
			{Destination: "/dev/pts", Type: "devpts", Source: "devpts", Options: []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620"}},
			{Destination: "/dev/shm", Type: "tmpfs", Source: "shm", Options: []string{"nosuid", "noexec", "nodev", "mode=1777", "size=65536k"}},
			{Destination: "/dev/mqueue", Type: "mqueue", Source: "mqueue", Options: []string{"nosuid", "noexec", "nodev"}},
			{Destination: "/sys", Type: "sysfs", Source: "sysfs", Options: []string{"nosuid", "noexec", "nodev", "ro"}},
			{Destination: "/sys/fs/cgroup", Type: "cgroup", Source: "cgroup", Options: []string{"nosuid", "noexec", "nodev", "relatime", "ro"}},
		},
		Linux: &Linux{
			Resources: &LinuxResources{
				Devices: []LinuxDeviceCgroup{
					{Allow: false, Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(1), Minor: intPtr(3), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(1), Minor: intPtr(5), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(1), Minor: intPtr(7), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(1), Minor: intPtr(8), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(1), Minor: intPtr(9), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(5), Minor: intPtr(0), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(5), Minor: intPtr(1), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(5), Minor: intPtr(2), Access: "rwm"},
					{Allow: true, Type: "c", Major: intPtr(136), Minor: nil, Access: "rwm"},
				},
			},
			Namespaces: []LinuxNamespace{
				{Type: PIDNamespace},
				{Type: NetworkNamespace},
				{Type: IPCNamespace},
				{Type: UTSNamespace},
				{Type: MountNamespace},
			},
			MaskedPaths: []string{
				"/proc/acpi", "/proc/asound", "/proc/kcore", "/proc/keys",
				"/proc/latency_stats", "/proc/timer_list", "/proc/timer_stats",
				"/proc/sched_debug", "/proc/scsi", "/sys/firmware",
			},
			ReadonlyPaths: []string{
				"/proc/bus", "/proc/fs", "/proc/irq", "/proc/sys", "/proc/sysrq-trigger",
			},
		},
	}
}

func defaultCapabilities() []string {
	return []string{
		"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER", "CAP_MKNOD",
		"CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID", "CAP_SETFCAP", "CAP_SETPCAP",
		"CAP_NET_BIND_SERVICE", "CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE",
	}
}
