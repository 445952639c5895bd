// Package linux provides cgroup v2 resource management.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ctrun/fsutil"
	"ctrun/spec"
)

// validCgroupKey matches valid cgroup v2 controller file names.
// Valid keys are like: cpu.max, memory.max, pids.max, io.bfq.weight
var validCgroupKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*(\.[a-zA-Z][a-zA-Z0-9]*)*$`)

const cgroupRoot = "/sys/fs/cgroup"

// Cgroup represents a cgroup v2 control group.
type Cgroup struct {
	path string
}

// NewCgroup creates or opens a cgroup at the given path.
// Path should be relative to /sys/fs/cgroup (e.g., "ctrun/container-id").
func NewCgroup(cgroupPath string) (*Cgroup, error) {
	// Handle absolute paths or OCI-style paths
	var fullPath string
	if strings.HasPrefix(cgroupPath, "/") {
		fullPath = filepath.Join(cgroupRoot, cgroupPath)
	} else {
		fullPath = filepath.Join(cgroupRoot, cgroupPath)
	}

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return nil, fmt.Errorf("create cgroup directory: %w", err)
	}

	return &Cgroup{path: fullPath}, nil
}

// Path returns the filesystem path of the cgroup.
func (c *Cgroup) Path() string {
	return c.path
}

// AddProcess adds a process to this cgroup.
func (c *Cgroup) AddProcess(pid int) error {
	procsPath := filepath.Join(c.path, "cgroup.procs")
	return fsutil.WriteString(procsPath, strconv.Itoa(pid))
}

// GetAllPids returns every pid currently in the cgroup, read from
// cgroup.procs (the unified hierarchy has no per-controller split, so one
// read is enough, unlike v1 where each controller has its own cgroup.procs).
func (c *Cgroup) GetAllPids() ([]int, error) {
	return readPidsFile(filepath.Join(c.path, "cgroup.procs"))
}

func readPidsFile(path string) ([]int, error) {
	data, err := fsutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// ApplyResources applies OCI resource limits to the cgroup.
func (c *Cgroup) ApplyResources(resources *spec.LinuxResources) error {
	if resources == nil {
		return nil
	}

	if err := c.applyMemory(resources.Memory); err != nil {
		return err
	}

	if err := c.applyCPU(resources.CPU); err != nil {
		return err
	}

	if err := c.applyPids(resources.Pids); err != nil {
		return err
	}

	// The default device rules must always be applied, even when
	// config.json specifies none, so this runs unconditionally.
	if err := ApplyDeviceRulesEBPF(c.path, mergeDeviceRules(resources.Devices)); err != nil {
		return fmt.Errorf("apply device rules: %w", err)
	}

	if err := c.applyIO(resources.BlockIO); err != nil {
		return err
	}

	if err := c.applyHugepages(resources.HugepageLimits); err != nil {
		return err
	}

	// Apply unified cgroup v2 settings directly
	for key, value := range resources.Unified {
		// SECURITY: Validate cgroup key to prevent path traversal
		if err := validateCgroupKey(key); err != nil {
			return fmt.Errorf("invalid cgroup key %q: %w", key, err)
		}

		path := filepath.Join(c.path, key)
		if err := fsutil.WriteString(path, value); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}

	return nil
}

// applyMemory applies memory limits.
func (c *Cgroup) applyMemory(memory *spec.LinuxMemory) error {
	if memory == nil {
		return nil
	}

	// memory.max - hard limit. -1 means unlimited, written as "max".
	if memory.Limit != nil {
		if err := writeMaxOrValue(filepath.Join(c.path, "memory.max"), *memory.Limit); err != nil {
			return fmt.Errorf("set memory.max: %w", err)
		}
	}

	// memory.low - soft limit / reservation
	if memory.Reservation != nil && *memory.Reservation > 0 {
		path := filepath.Join(c.path, "memory.low")
		if err := fsutil.WriteString(path, strconv.FormatInt(*memory.Reservation, 10)); err != nil {
			return fmt.Errorf("set memory.low: %w", err)
		}
	}

	// memory.swap.max - v2 swap is independent of the memory limit, unlike
	// v1's combined memory+swap accounting, so the OCI "swap" field (which
	// always means memory+swap) must be converted by subtracting the
	// memory limit before it is written.
	if memory.Swap != nil {
		swap := *memory.Swap
		if swap > 0 {
			if memory.Limit == nil {
				return fmt.Errorf("set memory.swap.max: swap specified without a memory limit")
			}
			limit := *memory.Limit
			if limit > 0 {
				if swap < limit {
					return fmt.Errorf("set memory.swap.max: swap %d is less than memory limit %d", swap, limit)
				}
				swap -= limit
			}
		}
		path := filepath.Join(c.path, "memory.swap.max")
		if err := writeMaxOrValue(path, swap); err != nil {
			return fmt.Errorf("set memory.swap.max: %w", err)
		}
	}

	return nil
}

// writeMaxOrValue writes the cgroup v2 unlimited sentinel "max" for a -1
// value, otherwise the decimal value itself.
func writeMaxOrValue(path string, value int64) error {
	if value == -1 {
		return fsutil.WriteString(path, "max")
	}
	return fsutil.WriteString(path, strconv.FormatInt(value, 10))
}

// applyCPU applies CPU limits.
func (c *Cgroup) applyCPU(cpu *spec.LinuxCPU) error {
	if cpu == nil {
		return nil
	}

	// cpu.max - "<quota|max> <period>". Either half may be omitted from the
	// spec; the unspecified half must be read back from the existing file
	// rather than defaulted, since a default would silently override
	// whatever the other half was previously set to.
	if cpu.Quota != nil || cpu.Period != nil {
		path := filepath.Join(c.path, "cpu.max")
		curQuota, curPeriod := "max", uint64(100000)
		if existing, err := fsutil.ReadFile(path); err == nil {
			fields := strings.Fields(string(existing))
			if len(fields) == 2 {
				curQuota = fields[0]
				if p, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					curPeriod = p
				}
			}
		}

		quota := curQuota
		if cpu.Quota != nil {
			if *cpu.Quota > 0 {
				quota = strconv.FormatInt(*cpu.Quota, 10)
			} else {
				quota = "max"
			}
		}
		period := curPeriod
		if cpu.Period != nil && *cpu.Period > 0 {
			period = *cpu.Period
		}
		value := fmt.Sprintf("%s %d", quota, period)
		if err := fsutil.WriteString(path, value); err != nil {
			return fmt.Errorf("set cpu.max: %w", err)
		}
	}

	// cpu.weight (replaces cpu.shares)
	if cpu.Shares != nil && *cpu.Shares > 0 {
		weight := rescaleSharesToWeight(*cpu.Shares)
		path := filepath.Join(c.path, "cpu.weight")
		if err := fsutil.WriteString(path, strconv.FormatUint(weight, 10)); err != nil {
			return fmt.Errorf("set cpu.weight: %w", err)
		}
	}

	// cpuset.cpus
	if cpu.Cpus != "" {
		path := filepath.Join(c.path, "cpuset.cpus")
		if err := fsutil.WriteString(path, cpu.Cpus); err != nil {
			return fmt.Errorf("set cpuset.cpus: %w", err)
		}
	}

	// cpuset.mems
	if cpu.Mems != "" {
		path := filepath.Join(c.path, "cpuset.mems")
		if err := fsutil.WriteString(path, cpu.Mems); err != nil {
			return fmt.Errorf("set cpuset.mems: %w", err)
		}
	}

	return nil
}

// applyIO writes io.max, the v2 equivalent of v1's blkio.throttle.*
// files: one line per throttled device, "major:minor rbps=N wbps=N
// riops=N wiops=N", with an unset limit written as "max".
func (c *Cgroup) applyIO(blkio *spec.LinuxBlockIO) error {
	if blkio == nil {
		return nil
	}

	if blkio.Weight != nil {
		path := filepath.Join(c.path, "io.bfq.weight")
		if err := fsutil.WriteString(path, strconv.FormatUint(uint64(*blkio.Weight), 10)); err != nil {
			fmt.Printf("[cgroup/v2] warning: set io.bfq.weight: %v\n", err)
		}
	}

	type limits struct {
		rbps, wbps, riops, wiops uint64
	}
	byDevice := make(map[[2]int64]*limits)
	get := func(major, minor int64) *limits {
		key := [2]int64{major, minor}
		l, ok := byDevice[key]
		if !ok {
			l = &limits{}
			byDevice[key] = l
		}
		return l
	}
	for _, dev := range blkio.ThrottleReadBpsDevice {
		get(dev.Major, dev.Minor).rbps = dev.Rate
	}
	for _, dev := range blkio.ThrottleWriteBpsDevice {
		get(dev.Major, dev.Minor).wbps = dev.Rate
	}
	for _, dev := range blkio.ThrottleReadIOPSDevice {
		get(dev.Major, dev.Minor).riops = dev.Rate
	}
	for _, dev := range blkio.ThrottleWriteIOPSDevice {
		get(dev.Major, dev.Minor).wiops = dev.Rate
	}

	field := func(name string, v uint64) string {
		if v == 0 {
			return name + "=max"
		}
		return fmt.Sprintf("%s=%d", name, v)
	}
	for key, l := range byDevice {
		line := fmt.Sprintf("%d:%d %s %s %s %s", key[0], key[1],
			field("rbps", l.rbps), field("wbps", l.wbps),
			field("riops", l.riops), field("wiops", l.wiops))
		if err := fsutil.WriteString(filepath.Join(c.path, "io.max"), line); err != nil {
			fmt.Printf("[cgroup/v2] warning: set io.max for %d:%d: %v\n", key[0], key[1], err)
		}
	}

	return nil
}

// applyHugepages writes hugetlb.<size>.max, mirroring the limit to the
// .rsvd. variant when the kernel exposes it, the v2 names for the same
// controller v1 exposes as hugetlb.<size>.limit_in_bytes.
func (c *Cgroup) applyHugepages(limits []spec.LinuxHugepageLimit) error {
	for _, l := range limits {
		if err := validateHugepageSize(l.Pagesize); err != nil {
			return fmt.Errorf("hugetlb %s: %w", l.Pagesize, err)
		}
		path := filepath.Join(c.path, fmt.Sprintf("hugetlb.%s.max", l.Pagesize))
		if err := fsutil.WriteString(path, strconv.FormatUint(l.Limit, 10)); err != nil {
			fmt.Printf("[cgroup/v2] warning: set hugetlb.%s.max: %v\n", l.Pagesize, err)
		}
		rsvdPath := filepath.Join(c.path, fmt.Sprintf("hugetlb.%s.rsvd.max", l.Pagesize))
		if _, err := os.Stat(rsvdPath); err == nil {
			if err := fsutil.WriteString(rsvdPath, strconv.FormatUint(l.Limit, 10)); err != nil {
				fmt.Printf("[cgroup/v2] warning: set hugetlb.%s.rsvd.max: %v\n", l.Pagesize, err)
			}
		}
	}
	return nil
}

// applyPids applies process count limits.
func (c *Cgroup) applyPids(pids *spec.LinuxPids) error {
	if pids == nil {
		return nil
	}

	if pids.Limit > 0 {
		path := filepath.Join(c.path, "pids.max")
		if err := fsutil.WriteString(path, strconv.FormatInt(pids.Limit, 10)); err != nil {
			return fmt.Errorf("set pids.max: %w", err)
		}
	}

	return nil
}

// rescaleSharesToWeight converts a v1 cpu.shares value (valid range
// [2, 262144]) onto the v2 cpu.weight range ([1, 10000]) with the formula
// weight = 1 + (shares-2) * 9999 / 262142.
func rescaleSharesToWeight(shares uint64) uint64 {
	if shares <= 2 {
		return 1
	}
	weight := 1 + (shares-2)*9999/262142
	if weight > 10000 {
		weight = 10000
	}
	return weight
}

// Destroy implements the remove() operation: kill every process still in
// the leaf cgroup, then delete the directory. cgroup.kill (when present)
// kills the whole subtree atomically from the kernel side; falling back to
// walking cgroup.procs and SIGKILLing each pid covers kernels without it.
func (c *Cgroup) Destroy() error {
	killPath := filepath.Join(c.path, "cgroup.kill")
	if err := fsutil.WriteString(killPath, "1"); err != nil {
		pids, _ := c.GetAllPids()
		for _, pid := range pids {
			syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return fsutil.DeleteWithRetry(c.path)
}

// GetMemoryCurrent returns current memory usage.
func (c *Cgroup) GetMemoryCurrent() (int64, error) {
	data, err := fsutil.ReadFile(filepath.Join(c.path, "memory.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// GetPidsCurrent returns current number of processes.
func (c *Cgroup) GetPidsCurrent() (int64, error) {
	data, err := fsutil.ReadFile(filepath.Join(c.path, "pids.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// freezePollInterval/freezePollMaxAttempts bound how long Freeze waits for
// cgroup.events to report the transition, matching the freezer v1 poll loop
// (§4.3): kernel freeze is asynchronous, so a bare write is not enough to
// observe the new state.
const (
	freezePollInterval    = 10 * time.Millisecond
	freezePollMaxAttempts = 1000
)

// Freeze freezes all processes in the cgroup and blocks until cgroup.events
// reports "frozen 1".
func (c *Cgroup) Freeze() error {
	path := filepath.Join(c.path, "cgroup.freeze")
	if err := fsutil.WriteString(path, "1"); err != nil {
		return fmt.Errorf("write cgroup.freeze: %w", err)
	}
	for i := 0; i < freezePollMaxAttempts; i++ {
		if frozen, err := c.readFrozenEvent(); err == nil && frozen {
			return nil
		}
		time.Sleep(freezePollInterval)
	}
	return fmt.Errorf("timed out waiting for cgroup.events to report frozen")
}

// Thaw unfreezes all processes in the cgroup. Unlike Freeze, a successful
// write is taken as success without polling back a "frozen 0" transition —
// resuming runnable processes has no equivalent stuck-state hazard.
func (c *Cgroup) Thaw() error {
	path := filepath.Join(c.path, "cgroup.freeze")
	return fsutil.WriteString(path, "0")
}

func (c *Cgroup) readFrozenEvent() (bool, error) {
	data, err := fsutil.ReadFile(filepath.Join(c.path, "cgroup.events"))
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "frozen" {
			return fields[1] == "1", nil
		}
	}
	return false, nil
}

// EnsureParentControllers enables controllers on parent cgroups.
func EnsureParentControllers(cgroupPath string) error {
	// Walk up from cgroupPath and enable controllers at each level
	parts := strings.Split(strings.Trim(cgroupPath, "/"), "/")
	current := cgroupRoot

	controllers := "+cpu +memory +pids +cpuset"

	for _, part := range parts[:len(parts)] {
		controlFile := filepath.Join(current, "cgroup.subtree_control")
		if err := fsutil.WriteString(controlFile, controllers); err != nil {
			// Best effort - some controllers might not be available
		}
		current = filepath.Join(current, part)
	}

	return nil
}

// GetCgroupPath returns the default cgroup path for a container.
func GetCgroupPath(containerID string, specPath string) string {
	if specPath != "" {
		return specPath
	}
	return filepath.Join("ctrun", containerID)
}

// validateCgroupKey validates a cgroup controller file key.
// This prevents path traversal attacks via crafted unified keys.
func validateCgroupKey(key string) error {
	// Empty key is invalid
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}

	// Must not contain path separators
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("key contains path separator")
	}

	// Must not be . or ..
	if key == "." || key == ".." {
		return fmt.Errorf("key is relative path component")
	}

	// Must not start with .
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("key starts with dot")
	}

	// Must match valid cgroup key pattern (e.g., cpu.max, memory.swap.max)
	if !validCgroupKey.MatchString(key) {
		return fmt.Errorf("key does not match valid cgroup key pattern")
	}

	return nil
}
