package linux

import "ctrun/spec"

// i64 returns a pointer to v, for building the literal rules below.
func i64(v int64) *int64 { return &v }

// defaultDeviceRules returns the OCI baseline device rules that apply to
// every container regardless of what its config.json asks for: a deny-all
// base, the handful of devices every runtime guarantees (null, zero, full,
// tty, urandom, random), and the mknod/console/pts/ptmx/tun exceptions a
// container needs to set up its own terminal and networking devices.
func defaultDeviceRules() []spec.LinuxDeviceCgroup {
	return []spec.LinuxDeviceCgroup{
		// Baseline: nothing is allowed until a rule below carves out an
		// exception. Written first so it can never clobber an explicit
		// allow added after it.
		{Allow: false, Type: "a", Access: "rwm"},

		// /dev/null, /dev/zero, /dev/full, /dev/tty, /dev/urandom, /dev/random
		{Allow: true, Type: "c", Major: i64(1), Minor: i64(3), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(1), Minor: i64(5), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(1), Minor: i64(7), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(5), Minor: i64(0), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(1), Minor: i64(9), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(1), Minor: i64(8), Access: "rwm"},

		// mknod on any char/block device, /dev/console, /dev/pts/*,
		// /dev/ptmx, and the tun/tap device.
		{Allow: true, Type: "c", Access: "m"},
		{Allow: true, Type: "b", Access: "m"},
		{Allow: true, Type: "c", Major: i64(5), Minor: i64(1), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(136), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(5), Minor: i64(2), Access: "rwm"},
		{Allow: true, Type: "c", Major: i64(10), Minor: i64(200), Access: "rwm"},
	}
}

// mergeDeviceRules prepends the deny-all baseline, keeps the container's
// explicit rules in the order config.json lists them, and appends the
// default allow list last. This always runs, even when explicit is empty,
// because the default device rules must always be applied.
func mergeDeviceRules(explicit []spec.LinuxDeviceCgroup) []spec.LinuxDeviceCgroup {
	defaults := defaultDeviceRules()
	rules := make([]spec.LinuxDeviceCgroup, 0, 1+len(explicit)+len(defaults)-1)
	rules = append(rules, defaults[0]) // deny-all base
	rules = append(rules, explicit...)
	rules = append(rules, defaults[1:]...)
	return rules
}
