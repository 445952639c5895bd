package linux

import "ctrun/spec"

// CgroupManager is the common surface NewCgroup (v2) and NewCgroupV1
// implement, letting callers stay agnostic of which hierarchy layout the
// host actually runs.
type CgroupManager interface {
	AddProcess(pid int) error
	ApplyResources(resources *spec.LinuxResources) error
	Freeze() error
	Thaw() error
	Stats() (Stats, error)
	Destroy() error
}

var (
	_ CgroupManager = (*Cgroup)(nil)
	_ CgroupManager = (*CgroupV1)(nil)
)

// NewCgroupManager creates the right cgroup manager for the host's detected
// setup. Hybrid hosts use the unified hierarchy for resource control, the
// same as a pure v2 host, since systemd mounts cgroup2 alongside the legacy
// controllers specifically so unified-hierarchy writers keep working.
func NewCgroupManager(cgroupPath string) (CgroupManager, error) {
	setup, err := DetectCgroupSetup()
	if err != nil {
		return nil, err
	}
	if setup == CgroupLegacy {
		return NewCgroupV1(cgroupPath)
	}
	return NewCgroup(cgroupPath)
}
