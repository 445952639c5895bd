package linux

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	systemdDbus "github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"ctrun/spec"
)

// cpusetDelegationMinVersion is the systemd version that first accepted
// AllowedCPUs/AllowedMemoryNodes on a transient unit; hosts older than this
// silently ignore the property, so it must not be sent.
const cpusetDelegationMinVersion = 244

// CgroupSystemd delegates cgroup creation to systemd by starting a
// transient scope unit over D-Bus, rather than writing directly under
// /sys/fs/cgroup. This is required when systemd owns the cgroup tree (the
// common case on distributions that boot with systemd as PID 1): writing
// cgroupfs files directly races systemd's own bookkeeping and can be
// silently reverted.
//
// The scope itself can only be started once a pid exists to seed it, so
// construction is split in two: NewCgroupSystemd opens the D-Bus
// connection and stages resources, and AddProcess (the manager's "attach
// a task" entry point, same as Apply(pid) in the per-subsystem managers)
// actually starts the transient unit.
type CgroupSystemd struct {
	conn        *systemdDbus.Conn
	unitName    string
	containerID string
	// fsPath is the resulting cgroupfs path once systemd has created the
	// scope, used by the v1/v2 managers to apply resources the way they
	// always do once the directory exists.
	fsPath  string
	started bool
	pending *spec.LinuxResources
}

// NewCgroupSystemd opens a D-Bus connection and names the transient scope
// for a container, without starting it yet — systemd requires at least one
// pid to seed a scope, which isn't known until the init process forks.
func NewCgroupSystemd(ctx context.Context, containerID string) (*CgroupSystemd, error) {
	conn, err := systemdDbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return &CgroupSystemd{conn: conn, unitName: scopeUnitName(containerID), containerID: containerID}, nil
}

// OpenCgroupSystemd re-enters an already-running scope for the given
// container, for operations (delete, pause/resume, events) that run in a
// later process invocation than the one that created it.
func OpenCgroupSystemd(ctx context.Context, containerID string) (*CgroupSystemd, error) {
	conn, err := systemdDbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	unitName := scopeUnitName(containerID)

	setup, err := DetectCgroupSetup()
	if err != nil {
		conn.Close()
		return nil, err
	}
	fsPath, err := scopeCgroupPath(setup, unitName)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &CgroupSystemd{conn: conn, unitName: unitName, containerID: containerID, fsPath: fsPath, started: true}, nil
}

// scopeUnitName derives the systemd unit name for a container, sanitizing
// the ID the way systemd unit names require (no "/" or "-" ambiguity with
// its own slice escaping).
func scopeUnitName(containerID string) string {
	safe := strings.ReplaceAll(containerID, "/", "_")
	return fmt.Sprintf("ctrun-%s.scope", safe)
}

// scopeCgroupPath returns the cgroupfs path systemd places a scope's
// controllers under, which is always <slice>/<unit>.scope under the system
// slice: relative to /sys/fs/cgroup on a unified or hybrid host, or
// relative to each controller's mount on a legacy host.
func scopeCgroupPath(setup CgroupSetup, unitName string) (string, error) {
	switch setup {
	case CgroupUnified, CgroupHybrid:
		return fmt.Sprintf("system.slice/%s", unitName), nil
	case CgroupLegacy:
		return fmt.Sprintf("system.slice/%s", unitName), nil
	default:
		return "", fmt.Errorf("unknown cgroup setup")
	}
}

// newProperty wraps a systemd unit property whose value has no dedicated
// systemdDbus.Prop* helper (e.g. Delegate, DefaultDependencies).
func newProperty(name string, value interface{}) systemdDbus.Property {
	return systemdDbus.Property{
		Name:  name,
		Value: godbus.MakeVariant(value),
	}
}

// systemdVersion queries the manager's Version property ("v249.11-...") and
// returns its leading numeric component, or -1 if it cannot be determined —
// callers treat -1 the same as "too old" and skip version-gated properties.
func systemdVersion(conn *systemdDbus.Conn) int {
	raw, err := conn.GetManagerProperty("Version")
	if err != nil {
		return -1
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimPrefix(raw, "v")
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i == 0 {
		return -1
	}
	v, err := strconv.Atoi(raw[:i])
	if err != nil {
		return -1
	}
	return v
}

// cpusToBitmask packs a cpuset list like "0-3,5" into the little-endian
// byte array form systemd's AllowedCPUs/AllowedMemoryNodes properties take
// over D-Bus (type "ay"), per the same v2-cpuset-over-D-Bus conversion the
// per-controller cpuset contract describes.
func cpusToBitmask(cpus string) ([]byte, error) {
	var maxBit int
	var bits []int
	for _, part := range strings.Split(cpus, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, fmt.Errorf("invalid cpuset range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid cpuset range %q: %w", part, err)
			}
			for n := lo; n <= hi; n++ {
				bits = append(bits, n)
				if n > maxBit {
					maxBit = n
				}
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid cpuset entry %q: %w", part, err)
			}
			bits = append(bits, n)
			if n > maxBit {
				maxBit = n
			}
		}
	}
	out := make([]byte, maxBit/8+1)
	for _, n := range bits {
		out[n/8] |= 1 << uint(n%8)
	}
	return out, nil
}

// unitProperties translates the OCI resources understood by systemd's own
// unit property schema (§4.4's explicit MemoryMax/CPUWeight/AllowedCPUs/
// IOWeight/TasksMax set) into D-Bus properties. Fields with no systemd
// property (swap, hugepages, device rules, block-device throttles, the
// unified pass-through) are left for the caller to apply directly against
// the resulting cgroupfs path once the scope exists.
func unitProperties(r *spec.LinuxResources, sdVersion int) []systemdDbus.Property {
	var props []systemdDbus.Property
	if r == nil {
		return props
	}

	if r.Memory != nil && r.Memory.Limit != nil && *r.Memory.Limit > 0 {
		props = append(props, newProperty("MemoryMax", uint64(*r.Memory.Limit)))
	}

	if r.CPU != nil {
		if r.CPU.Shares != nil && *r.CPU.Shares > 0 {
			props = append(props, newProperty("CPUWeight", rescaleSharesToWeight(*r.CPU.Shares)))
		}
		if r.CPU.Cpus != "" {
			if sdVersion >= cpusetDelegationMinVersion {
				if mask, err := cpusToBitmask(r.CPU.Cpus); err == nil {
					props = append(props, newProperty("AllowedCPUs", mask))
				}
			}
		}
		if r.CPU.Mems != "" {
			if sdVersion >= cpusetDelegationMinVersion {
				if mask, err := cpusToBitmask(r.CPU.Mems); err == nil {
					props = append(props, newProperty("AllowedMemoryNodes", mask))
				}
			}
		}
	}

	if r.BlockIO != nil && r.BlockIO.Weight != nil {
		props = append(props, newProperty("IOWeight", uint64(*r.BlockIO.Weight)))
	}

	if r.Pids != nil && r.Pids.Limit > 0 {
		props = append(props, newProperty("TasksAccounting", true), newProperty("TasksMax", uint64(r.Pids.Limit)))
	}

	return props
}

// Path returns the cgroupfs-relative path of the scope, suitable for
// passing to NewCgroup/NewCgroupV1 so resource application reuses the same
// controller-file logic as the non-systemd-managed path. Empty until the
// scope has actually been started.
func (c *CgroupSystemd) Path() string { return c.fsPath }

// fsManager opens the plain cgroupfs-based manager for the scope's
// delegated subtree, once systemd has created it — Delegate=true hands
// the whole subtree to us for anything systemd's own unit properties don't
// cover.
func (c *CgroupSystemd) fsManager() (CgroupManager, error) {
	if !c.started {
		return nil, fmt.Errorf("systemd scope %s not started yet", c.unitName)
	}
	return NewCgroupManager(c.fsPath)
}

// ApplyResources stages resources until the scope exists (AddProcess is
// what actually starts it, translating the staged resources into unit
// properties), or applies them immediately — both as a live D-Bus property
// update and via direct cgroupfs writes for fields systemd's property
// schema doesn't cover — once it does.
func (c *CgroupSystemd) ApplyResources(resources *spec.LinuxResources) error {
	if !c.started {
		c.pending = resources
		return nil
	}

	props := unitProperties(resources, systemdVersion(c.conn))
	if len(props) > 0 {
		if err := c.conn.SetUnitProperties(c.unitName, true, props...); err != nil {
			return fmt.Errorf("update scope %s properties: %w", c.unitName, err)
		}
	}

	fsMgr, err := c.fsManager()
	if err != nil {
		return err
	}
	return fsMgr.ApplyResources(resources)
}

// AddProcess starts the transient scope (if this is the first pid seeding
// it, translating any staged resources into unit properties atomically at
// creation) or, for a scope already running, joins an additional pid (e.g.
// an exec'd process) directly into the delegated cgroupfs subtree.
func (c *CgroupSystemd) AddProcess(pid int) error {
	if c.started {
		fsMgr, err := c.fsManager()
		if err != nil {
			return err
		}
		return fsMgr.AddProcess(pid)
	}

	sdVersion := systemdVersion(c.conn)
	properties := []systemdDbus.Property{
		systemdDbus.PropDescription(fmt.Sprintf("ctrun container %s", c.containerID)),
		systemdDbus.PropPids(uint32(pid)),
		newProperty("Delegate", true),
		newProperty("DefaultDependencies", false),
		newProperty("MemoryAccounting", true),
		newProperty("CPUAccounting", true),
		newProperty("TasksAccounting", true),
	}
	properties = append(properties, unitProperties(c.pending, sdVersion)...)

	ctx := context.Background()
	statusChan := make(chan string, 1)
	if _, err := c.conn.StartTransientUnitContext(ctx, c.unitName, "replace", properties, statusChan); err != nil {
		return fmt.Errorf("start transient scope %s: %w", c.unitName, err)
	}
	if status := <-statusChan; status != "done" {
		return fmt.Errorf("systemd job for %s finished with status %q", c.unitName, status)
	}

	setup, err := DetectCgroupSetup()
	if err != nil {
		return err
	}
	fsPath, err := scopeCgroupPath(setup, c.unitName)
	if err != nil {
		return err
	}
	c.fsPath = fsPath
	c.started = true

	if c.pending != nil {
		fsMgr, err := c.fsManager()
		if err != nil {
			return err
		}
		if err := fsMgr.ApplyResources(c.pending); err != nil {
			return fmt.Errorf("apply remaining resources after scope start: %w", err)
		}
	}
	return nil
}

// Freeze delegates to the freezer controller of the scope's delegated
// cgroupfs subtree.
func (c *CgroupSystemd) Freeze() error {
	fsMgr, err := c.fsManager()
	if err != nil {
		return err
	}
	return fsMgr.Freeze()
}

// Thaw delegates to the freezer controller of the scope's delegated
// cgroupfs subtree.
func (c *CgroupSystemd) Thaw() error {
	fsMgr, err := c.fsManager()
	if err != nil {
		return err
	}
	return fsMgr.Thaw()
}

// Stats delegates to the scope's delegated cgroupfs subtree, same as any
// other manager once systemd has handed the subtree over.
func (c *CgroupSystemd) Stats() (Stats, error) {
	fsMgr, err := c.fsManager()
	if err != nil {
		return Stats{}, err
	}
	return fsMgr.Stats()
}

// Destroy stops the transient scope, which systemd will translate into
// removing the cgroup once its last process has exited.
func (c *CgroupSystemd) Destroy() error {
	defer c.conn.Close()
	statusChan := make(chan string, 1)
	if _, err := c.conn.StopUnitContext(context.Background(), c.unitName, "replace", statusChan); err != nil {
		return fmt.Errorf("stop scope %s: %w", c.unitName, err)
	}
	<-statusChan
	return nil
}

var _ CgroupManager = (*CgroupSystemd)(nil)
