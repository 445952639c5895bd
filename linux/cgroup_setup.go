package linux

import (
	"fmt"
	"sync"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"ctrun/sysfacade"
)

// CgroupSetup identifies which cgroup hierarchy layout the host kernel is
// running, since the controller file names and write semantics differ
// between them.
type CgroupSetup int

const (
	// CgroupLegacy is a pure cgroup v1 host: every controller is mounted as
	// its own "cgroup" filesystem under /sys/fs/cgroup/<controller>.
	CgroupLegacy CgroupSetup = iota
	// CgroupHybrid mounts the v2 unified hierarchy alongside v1 controller
	// hierarchies (the systemd default for a long transitional period).
	CgroupHybrid
	// CgroupUnified is a pure cgroup v2 host: a single "cgroup2" filesystem
	// at /sys/fs/cgroup carries every controller.
	CgroupUnified
)

func (s CgroupSetup) String() string {
	switch s {
	case CgroupLegacy:
		return "legacy"
	case CgroupHybrid:
		return "hybrid"
	case CgroupUnified:
		return "unified"
	default:
		return "unknown"
	}
}

// tmpfsMagic/cgroup2SuperMagic are the statfs f_type values for a plain
// tmpfs mount and the cgroup2 filesystem, respectively.
const (
	tmpfsMagic       = 0x01021994
	cgroup2SuperMagic = 0x63677270
)

var (
	setupOnce  sync.Once
	setupValue CgroupSetup
	setupErr   error
)

// DetectCgroupSetup inspects /sys/fs/cgroup's filesystem type, and for a
// tmpfs root, whether a cgroup2 mount is also present, to classify the
// host as legacy, hybrid, or unified. The result is cached for the
// process's lifetime since the host's cgroup mode cannot change at runtime.
func DetectCgroupSetup() (CgroupSetup, error) {
	setupOnce.Do(func() {
		setupValue, setupErr = detectCgroupSetup()
	})
	return setupValue, setupErr
}

func detectCgroupSetup() (CgroupSetup, error) {
	var st unix.Statfs_t
	if err := sysfacade.Statfs(cgroupRoot, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", cgroupRoot, err)
	}

	if int64(st.Type) == cgroup2SuperMagic {
		return CgroupUnified, nil
	}
	if int64(st.Type) != tmpfsMagic {
		return 0, fmt.Errorf("unrecognized cgroup root filesystem type %#x", st.Type)
	}

	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup2"))
	if err != nil {
		return 0, fmt.Errorf("scan mounts for cgroup2: %w", err)
	}
	if len(mounts) > 0 {
		return CgroupHybrid, nil
	}
	return CgroupLegacy, nil
}

// V1SubsystemMounts returns the set of mounted cgroup v1 controller names
// (e.g. "cpu", "memory", "pids") by reading /proc/self/mountinfo, which is
// how a legacy or hybrid host tells us which controllers it actually
// exposes rather than assuming the full textbook set is present.
func V1SubsystemMounts() (map[string]string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup"))
	if err != nil {
		return nil, fmt.Errorf("scan mounts for cgroup v1 controllers: %w", err)
	}

	subsystems := make(map[string]string)
	for _, m := range mounts {
		for _, opt := range splitCommaOpts(m.VFSOptions) {
			if isV1ControllerName(opt) {
				subsystems[opt] = m.Mountpoint
			}
		}
	}
	return subsystems, nil
}

func splitCommaOpts(opts string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(opts); i++ {
		if i == len(opts) || opts[i] == ',' {
			if i > start {
				out = append(out, opts[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// v1Controllers is the full set of documented cgroup v1 controller names;
// VFSOptions for a v1 mount also carries non-controller flags (rw, relatime,
// release_agent=...) that this filters out.
var v1Controllers = map[string]bool{
	"cpu": true, "cpuacct": true, "cpuset": true, "memory": true,
	"pids": true, "blkio": true, "hugetlb": true, "devices": true,
	"freezer": true, "net_cls": true, "net_prio": true, "perf_event": true,
	"rdma": true, "misc": true,
}

func isV1ControllerName(opt string) bool {
	return v1Controllers[opt]
}
