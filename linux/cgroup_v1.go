package linux

import (
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ctrun/fsutil"
	"ctrun/spec"
)

// CgroupV1 manages a container's slice of a legacy (or hybrid) host's
// per-controller cgroup v1 hierarchies. Unlike v2's single unified
// directory, each controller lives under its own mount point
// (/sys/fs/cgroup/<controller>/<path>), discovered via V1SubsystemMounts
// rather than assumed, since a given host may not mount every controller.
type CgroupV1 struct {
	path        string
	subsystems  map[string]string // controller name -> mount point
}

// NewCgroupV1 creates (or opens) the container's directory under every
// mounted v1 controller.
func NewCgroupV1(cgroupPath string) (*CgroupV1, error) {
	subsystems, err := V1SubsystemMounts()
	if err != nil {
		return nil, fmt.Errorf("discover v1 subsystems: %w", err)
	}
	if len(subsystems) == 0 {
		return nil, fmt.Errorf("no cgroup v1 controllers mounted")
	}

	for _, mountPoint := range subsystems {
		dir := filepath.Join(mountPoint, cgroupPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cgroup dir %s: %w", dir, err)
		}
	}

	return &CgroupV1{path: cgroupPath, subsystems: subsystems}, nil
}

// controllerPath returns the container's directory under a controller's
// mount point, or "" if that controller isn't mounted on this host.
func (c *CgroupV1) controllerPath(controller string) string {
	mountPoint, ok := c.subsystems[controller]
	if !ok {
		return ""
	}
	return filepath.Join(mountPoint, c.path)
}

func (c *CgroupV1) writeFile(controller, file, value string) error {
	dir := c.controllerPath(controller)
	if dir == "" {
		return nil // controller not mounted on this host, skip
	}
	return fsutil.WriteString(filepath.Join(dir, file), value)
}

func (c *CgroupV1) readFile(controller, file string) (string, error) {
	dir := c.controllerPath(controller)
	if dir == "" {
		return "", fmt.Errorf("controller %s not mounted", controller)
	}
	data, err := fsutil.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// AddProcess adds a process to every mounted controller's cgroup.
func (c *CgroupV1) AddProcess(pid int) error {
	pidStr := strconv.Itoa(pid)
	for controller := range c.subsystems {
		if err := c.writeFile(controller, "cgroup.procs", pidStr); err != nil {
			return fmt.Errorf("add pid to %s: %w", controller, err)
		}
	}
	return nil
}

// GetAllPids unions cgroup.procs across every mounted controller, since a
// v1 host has one cgroup.procs per controller hierarchy rather than one
// shared file.
func (c *CgroupV1) GetAllPids() ([]int, error) {
	seen := make(map[int]bool)
	var pids []int
	for controller, mountPoint := range c.subsystems {
		data, err := fsutil.ReadFile(filepath.Join(mountPoint, c.path, "cgroup.procs"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s cgroup.procs: %w", controller, err)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			pid, err := strconv.Atoi(line)
			if err != nil || seen[pid] {
				continue
			}
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// ApplyResources applies OCI resource limits across the per-controller v1
// hierarchies, grounded on the same controller/field mapping as the v2
// manager's applyMemory/applyCPU/applyPids but against v1 file names.
func (c *CgroupV1) ApplyResources(resources *spec.LinuxResources) error {
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
	if err := c.applyBlockIO(resources.BlockIO); err != nil {
		return err
	}
	if err := c.applyHugepages(resources.HugepageLimits); err != nil {
		return err
	}
	if err := c.applyDevices(resources.Devices); err != nil {
		return err
	}
	if err := c.applyNetwork(resources.Network); err != nil {
		return err
	}
	return nil
}

// applyNetwork writes net_cls.classid (for tc filtering on egress traffic)
// and net_prio.ifpriomap (one "<interface> <priority>" line per entry).
func (c *CgroupV1) applyNetwork(network *spec.LinuxNetwork) error {
	if network == nil {
		return nil
	}
	if network.ClassID != nil {
		if err := c.writeFile("net_cls", "net_cls.classid", strconv.FormatUint(uint64(*network.ClassID), 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set net_cls.classid: %v\n", err)
		}
	}
	for _, prio := range network.Priorities {
		line := fmt.Sprintf("%s %d", prio.Name, prio.Priority)
		if err := c.writeFile("net_prio", "net_prio.ifpriomap", line); err != nil {
			fmt.Printf("[cgroup/v1] warning: set net_prio.ifpriomap %q: %v\n", line, err)
		}
	}
	return nil
}

// applyDevices writes the devices controller's whitelist files directly,
// since v1 has no eBPF path: each rule is written to devices.deny or
// devices.allow in order, the same order the OCI config lists them in. The
// default device rules are merged in unconditionally, since they must
// always be applied regardless of what config.json's devices list contains.
func (c *CgroupV1) applyDevices(devices []spec.LinuxDeviceCgroup) error {
	for _, dev := range mergeDeviceRules(devices) {
		var devType string
		switch dev.Type {
		case "a", "c", "b":
			devType = dev.Type
		default:
			continue
		}

		major := "*"
		if dev.Major != nil {
			major = strconv.FormatInt(*dev.Major, 10)
		}
		minor := "*"
		if dev.Minor != nil {
			minor = strconv.FormatInt(*dev.Minor, 10)
		}
		access := dev.Access
		if access == "" {
			access = "rwm"
		}
		rule := fmt.Sprintf("%s %s:%s %s", devType, major, minor, access)

		file := "devices.deny"
		if dev.Allow {
			file = "devices.allow"
		}
		if err := c.writeFile("devices", file, rule); err != nil {
			return fmt.Errorf("write %s %q: %w", file, rule, err)
		}
	}
	return nil
}

func (c *CgroupV1) applyMemory(memory *spec.LinuxMemory) error {
	if memory == nil {
		return nil
	}
	if memory.Limit != nil {
		if err := c.writeFile("memory", "memory.limit_in_bytes", strconv.FormatInt(*memory.Limit, 10)); err != nil {
			return fmt.Errorf("set memory.limit_in_bytes: %w", err)
		}
	}
	if memory.Reservation != nil {
		if err := c.writeFile("memory", "memory.soft_limit_in_bytes", strconv.FormatInt(*memory.Reservation, 10)); err != nil {
			return fmt.Errorf("set memory.soft_limit_in_bytes: %w", err)
		}
	}
	if memory.Swap != nil {
		// v1 expects memory+swap combined, unlike v2's swap-only value.
		if err := c.writeFile("memory", "memory.memsw.limit_in_bytes", strconv.FormatInt(*memory.Swap, 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set memory.memsw.limit_in_bytes: %v\n", err)
		}
	}
	if memory.Swappiness != nil {
		if *memory.Swappiness > 100 {
			return fmt.Errorf("memory.swappiness %d out of range [0, 100]", *memory.Swappiness)
		}
		if err := c.writeFile("memory", "memory.swappiness", strconv.FormatUint(*memory.Swappiness, 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set memory.swappiness: %v\n", err)
		}
	}
	if memory.Kernel != nil {
		if err := c.writeFile("memory", "memory.kmem.limit_in_bytes", strconv.FormatInt(*memory.Kernel, 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set memory.kmem.limit_in_bytes: %v\n", err)
		}
	}
	if memory.KernelTCP != nil {
		if err := c.writeFile("memory", "memory.kmem.tcp.limit_in_bytes", strconv.FormatInt(*memory.KernelTCP, 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set memory.kmem.tcp.limit_in_bytes: %v\n", err)
		}
	}
	if memory.DisableOOMKiller != nil && *memory.DisableOOMKiller {
		if err := c.writeFile("memory", "memory.oom_control", "1"); err != nil {
			fmt.Printf("[cgroup/v1] warning: set memory.oom_control: %v\n", err)
		}
	}
	return nil
}

func (c *CgroupV1) applyCPU(cpu *spec.LinuxCPU) error {
	if cpu == nil {
		return nil
	}
	if cpu.Shares != nil && *cpu.Shares > 0 {
		if err := c.writeFile("cpu", "cpu.shares", strconv.FormatUint(*cpu.Shares, 10)); err != nil {
			return fmt.Errorf("set cpu.shares: %w", err)
		}
	}
	if cpu.Quota != nil {
		if err := c.writeFile("cpu", "cpu.cfs_quota_us", strconv.FormatInt(*cpu.Quota, 10)); err != nil {
			return fmt.Errorf("set cpu.cfs_quota_us: %w", err)
		}
	}
	if cpu.Period != nil {
		if err := c.writeFile("cpu", "cpu.cfs_period_us", strconv.FormatUint(*cpu.Period, 10)); err != nil {
			return fmt.Errorf("set cpu.cfs_period_us: %w", err)
		}
	}
	if cpu.Cpus != "" {
		if err := c.writeFile("cpuset", "cpuset.cpus", cpu.Cpus); err != nil {
			return fmt.Errorf("set cpuset.cpus: %w", err)
		}
	}
	if cpu.Mems != "" {
		if err := c.writeFile("cpuset", "cpuset.mems", cpu.Mems); err != nil {
			return fmt.Errorf("set cpuset.mems: %w", err)
		}
	}
	return nil
}

func (c *CgroupV1) applyPids(pids *spec.LinuxPids) error {
	if pids == nil {
		return nil
	}
	value := "max"
	if pids.Limit > 0 {
		value = strconv.FormatInt(pids.Limit, 10)
	}
	if err := c.writeFile("pids", "pids.max", value); err != nil {
		return fmt.Errorf("set pids.max: %w", err)
	}
	return nil
}

func (c *CgroupV1) applyBlockIO(blkio *spec.LinuxBlockIO) error {
	if blkio == nil {
		return nil
	}
	if blkio.Weight != nil {
		if err := c.writeFile("blkio", "blkio.weight", strconv.FormatUint(uint64(*blkio.Weight), 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set blkio.weight: %v\n", err)
		}
	}
	for _, dev := range blkio.WeightDevice {
		if dev.Weight == nil {
			continue
		}
		value := fmt.Sprintf("%d:%d %d", dev.Major, dev.Minor, *dev.Weight)
		if err := c.writeFile("blkio", "blkio.weight_device", value); err != nil {
			fmt.Printf("[cgroup/v1] warning: set blkio.weight_device: %v\n", err)
		}
	}
	for _, dev := range blkio.ThrottleReadBpsDevice {
		value := fmt.Sprintf("%d:%d %d", dev.Major, dev.Minor, dev.Rate)
		if err := c.writeFile("blkio", "blkio.throttle.read_bps_device", value); err != nil {
			fmt.Printf("[cgroup/v1] warning: set blkio.throttle.read_bps_device: %v\n", err)
		}
	}
	for _, dev := range blkio.ThrottleWriteBpsDevice {
		value := fmt.Sprintf("%d:%d %d", dev.Major, dev.Minor, dev.Rate)
		if err := c.writeFile("blkio", "blkio.throttle.write_bps_device", value); err != nil {
			fmt.Printf("[cgroup/v1] warning: set blkio.throttle.write_bps_device: %v\n", err)
		}
	}
	return nil
}

// applyHugepages requires a power-of-two page size (the only shapes huge
// pages actually come in) and mirrors the limit to the .rsvd. variant when
// the kernel exposes it, matching the non-reservation file's semantics for
// hosts that track reserved and non-reserved huge pages separately.
func (c *CgroupV1) applyHugepages(limits []spec.LinuxHugepageLimit) error {
	for _, l := range limits {
		if err := validateHugepageSize(l.Pagesize); err != nil {
			return fmt.Errorf("hugetlb %s: %w", l.Pagesize, err)
		}
		file := fmt.Sprintf("hugetlb.%s.limit_in_bytes", l.Pagesize)
		if err := c.writeFile("hugetlb", file, strconv.FormatUint(l.Limit, 10)); err != nil {
			fmt.Printf("[cgroup/v1] warning: set %s: %v\n", file, err)
		}
		rsvdFile := fmt.Sprintf("hugetlb.%s.rsvd.limit_in_bytes", l.Pagesize)
		if dir := c.controllerPath("hugetlb"); dir != "" {
			if _, err := os.Stat(filepath.Join(dir, rsvdFile)); err == nil {
				if err := c.writeFile("hugetlb", rsvdFile, strconv.FormatUint(l.Limit, 10)); err != nil {
					fmt.Printf("[cgroup/v1] warning: set %s: %v\n", rsvdFile, err)
				}
			}
		}
	}
	return nil
}

// validateHugepageSize parses a page size string like "2MB" or "1GB" and
// rejects anything whose numeric component is not a power of two.
func validateHugepageSize(pagesize string) error {
	i := 0
	for i < len(pagesize) && pagesize[i] >= '0' && pagesize[i] <= '9' {
		i++
	}
	if i == 0 {
		return fmt.Errorf("page size %q has no numeric component", pagesize)
	}
	n, err := strconv.ParseUint(pagesize[:i], 10, 64)
	if err != nil || n == 0 || bits.OnesCount64(n) != 1 {
		return fmt.Errorf("page size %q is not a power of two", pagesize)
	}
	return nil
}

// freezerPollInterval/freezerPollMaxAttempts bound the wait for the
// freezer.state file to settle, since a write to FROZEN transiently reads
// back FREEZING until the kernel finishes stopping every task.
const (
	freezerPollInterval    = 10 * time.Millisecond
	freezerPollMaxAttempts = 1000
)

// Freeze writes FROZEN to the freezer controller's state file, then polls
// it until the kernel reports FROZEN rather than the transient FREEZING
// state. On failure (including a poll timeout) it attempts to thaw back out
// rather than leaving the cgroup stuck in FREEZING.
func (c *CgroupV1) Freeze() error {
	if err := c.writeFile("freezer", "freezer.state", "FROZEN"); err != nil {
		return fmt.Errorf("write freezer.state: %w", err)
	}
	for i := 0; i < freezerPollMaxAttempts; i++ {
		state, err := c.readFile("freezer", "freezer.state")
		if err == nil {
			switch state {
			case "FROZEN":
				return nil
			case "FREEZING":
				// transient, keep polling
			default:
				c.writeFile("freezer", "freezer.state", "THAWED")
				return fmt.Errorf("freezer.state reported unexpected value %q", state)
			}
		}
		time.Sleep(freezerPollInterval)
	}
	c.writeFile("freezer", "freezer.state", "THAWED")
	return fmt.Errorf("timed out waiting for freezer.state to reach FROZEN")
}

func (c *CgroupV1) Thaw() error {
	return c.writeFile("freezer", "freezer.state", "THAWED")
}

// Stats aggregates memory, pids, and cpu controller stats the same way the
// v2 manager does, reading each from its own mounted controller directory
// rather than a single unified path.
func (c *CgroupV1) Stats() (Stats, error) {
	var s Stats

	if dir := c.controllerPath("memory"); dir != "" {
		usage, err := c.readFile("memory", "memory.usage_in_bytes")
		if err != nil {
			return s, fmt.Errorf("read memory.usage_in_bytes: %w", err)
		}
		if s.Memory.Usage, err = strconv.ParseInt(usage, 10, 64); err != nil {
			return s, fmt.Errorf("parse memory.usage_in_bytes: %w", err)
		}

		limit, err := c.readFile("memory", "memory.limit_in_bytes")
		if err != nil {
			return s, fmt.Errorf("read memory.limit_in_bytes: %w", err)
		}
		if s.Memory.Limit, err = strconv.ParseInt(limit, 10, 64); err != nil {
			return s, fmt.Errorf("parse memory.limit_in_bytes: %w", err)
		}

		if memsw, err := c.readFile("memory", "memory.memsw.limit_in_bytes"); err == nil {
			if s.Memory.Swap, err = strconv.ParseInt(memsw, 10, 64); err != nil {
				return s, fmt.Errorf("parse memory.memsw.limit_in_bytes: %w", err)
			}
		}
	}

	if dir := c.controllerPath("pids"); dir != "" {
		current, err := c.readFile("pids", "pids.current")
		if err != nil {
			return s, fmt.Errorf("read pids.current: %w", err)
		}
		if s.Pids.Current, err = strconv.ParseInt(current, 10, 64); err != nil {
			return s, fmt.Errorf("parse pids.current: %w", err)
		}

		max, err := c.readFile("pids", "pids.max")
		if err != nil {
			return s, fmt.Errorf("read pids.max: %w", err)
		}
		if s.Pids.Limit, err = parseMaxOrInt(max); err != nil {
			return s, fmt.Errorf("parse pids.max: %w", err)
		}
	} else {
		s.Pids.Limit = -1
	}

	if dir := c.controllerPath("cpu"); dir != "" {
		cpuStats, err := parseCPUStat(filepath.Join(dir, "cpu.stat"))
		if err != nil {
			return s, err
		}
		s.CPU = cpuStats
	}

	return s, nil
}

// Destroy implements the remove() operation for v1: SIGKILL every pid still
// in the cgroup (read from each mounted controller's cgroup.procs), then
// remove the directory from every mounted controller with retry, since the
// kernel's reclaim of the last task out of a cgroup directory can lag a
// successful kill by a few scheduler ticks.
func (c *CgroupV1) Destroy() error {
	pids, _ := c.GetAllPids()
	for _, pid := range pids {
		syscall.Kill(pid, syscall.SIGKILL)
	}

	var firstErr error
	for _, mountPoint := range c.subsystems {
		dir := filepath.Join(mountPoint, c.path)
		if err := fsutil.DeleteWithRetry(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
