package linux

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"ctrun/fsutil"
)

// CPUStats mirrors cpu.stat, the one stats file whose key set is identical
// across v1 and v2 (only the source file path differs).
type CPUStats struct {
	NrPeriods     uint64
	NrThrottled   uint64
	ThrottledTime uint64
}

// MemoryStats reports current usage and the limit the kernel is actually
// enforcing, which may differ from what was requested if the controller
// isn't mounted.
type MemoryStats struct {
	Usage int64
	Limit int64
	Swap  int64
}

// PidsStats reports the live process count and the configured ceiling; a
// Limit of -1 means no ceiling is set (the kernel's "max" sentinel).
type PidsStats struct {
	Current int64
	Limit   int64
}

// Stats is the composite record aggregating every controller's own stats
// into one value, the way the manager's stats() call does regardless of
// which hierarchy layout backs it.
type Stats struct {
	CPU    CPUStats
	Memory MemoryStats
	Pids   PidsStats
}

// parseFlatKeyedStats parses a "key value\n"-per-line stats file (cpu.stat,
// memory.stat, pids.current's siblings) into a map, the flat-keyed shape
// named for the stats() contract.
func parseFlatKeyedStats(data []byte) map[string]uint64 {
	out := make(map[string]uint64)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[fields[0]] = v
	}
	return out
}

func requireKey(m map[string]uint64, key string) (uint64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing expected key %q", key)
	}
	return v, nil
}

// parseCPUStat reads cpu.stat at the given path and extracts the three
// throttling counters every caller of stats() needs, regardless of
// hierarchy version: the file's shape is identical between v1 and v2.
func parseCPUStat(path string) (CPUStats, error) {
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return CPUStats{}, err
	}
	fields := parseFlatKeyedStats(data)
	nrPeriods, err := requireKey(fields, "nr_periods")
	if err != nil {
		return CPUStats{}, fmt.Errorf("parse %s: %w", path, err)
	}
	nrThrottled, err := requireKey(fields, "nr_throttled")
	if err != nil {
		return CPUStats{}, fmt.Errorf("parse %s: %w", path, err)
	}
	throttledTime, err := requireKey(fields, "throttled_time")
	if err != nil {
		return CPUStats{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return CPUStats{NrPeriods: nrPeriods, NrThrottled: nrThrottled, ThrottledTime: throttledTime}, nil
}

// parseMaxOrInt parses the cgroup v2 "max" sentinel as -1, otherwise as a
// plain decimal, the same convention writeMaxOrValue uses in reverse.
func parseMaxOrInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "max" || raw == "" {
		return -1, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Stats reads memory.current, memory.max, memory.swap.max, pids.current,
// pids.max, and cpu.stat to build the composite record for the unified
// hierarchy.
func (c *Cgroup) Stats() (Stats, error) {
	var s Stats

	usage, err := fsutil.ReadFile(filepath.Join(c.path, "memory.current"))
	if err != nil {
		return s, fmt.Errorf("read memory.current: %w", err)
	}
	s.Memory.Usage, err = strconv.ParseInt(strings.TrimSpace(string(usage)), 10, 64)
	if err != nil {
		return s, fmt.Errorf("parse memory.current: %w", err)
	}

	limit, err := fsutil.ReadFile(filepath.Join(c.path, "memory.max"))
	if err != nil {
		return s, fmt.Errorf("read memory.max: %w", err)
	}
	s.Memory.Limit, err = parseMaxOrInt(string(limit))
	if err != nil {
		return s, fmt.Errorf("parse memory.max: %w", err)
	}

	if swap, err := fsutil.ReadFile(filepath.Join(c.path, "memory.swap.max")); err == nil {
		s.Memory.Swap, err = parseMaxOrInt(string(swap))
		if err != nil {
			return s, fmt.Errorf("parse memory.swap.max: %w", err)
		}
	}

	pidsCurrent, err := fsutil.ReadFile(filepath.Join(c.path, "pids.current"))
	if err != nil {
		return s, fmt.Errorf("read pids.current: %w", err)
	}
	s.Pids.Current, err = strconv.ParseInt(strings.TrimSpace(string(pidsCurrent)), 10, 64)
	if err != nil {
		return s, fmt.Errorf("parse pids.current: %w", err)
	}

	if pidsMax, err := fsutil.ReadFile(filepath.Join(c.path, "pids.max")); err == nil {
		s.Pids.Limit, err = parseMaxOrInt(string(pidsMax))
		if err != nil {
			return s, fmt.Errorf("parse pids.max: %w", err)
		}
	} else {
		s.Pids.Limit = -1
	}

	s.CPU, err = parseCPUStat(filepath.Join(c.path, "cpu.stat"))
	if err != nil {
		return s, err
	}

	return s, nil
}
