// Package linux provides Linux capability management.
package linux

import (
	"fmt"
	"sort"
	"strings"

	"github.com/moby/sys/capability"

	"ctrun/spec"
)

// capabilityMap maps OCI capability names to moby/sys/capability's Cap
// values, which share linux/capability.h's naming.
var capabilityMap = map[string]capability.Cap{
	"CAP_CHOWN":              capability.CAP_CHOWN,
	"CAP_DAC_OVERRIDE":       capability.CAP_DAC_OVERRIDE,
	"CAP_DAC_READ_SEARCH":    capability.CAP_DAC_READ_SEARCH,
	"CAP_FOWNER":             capability.CAP_FOWNER,
	"CAP_FSETID":             capability.CAP_FSETID,
	"CAP_KILL":               capability.CAP_KILL,
	"CAP_SETGID":             capability.CAP_SETGID,
	"CAP_SETUID":             capability.CAP_SETUID,
	"CAP_SETPCAP":            capability.CAP_SETPCAP,
	"CAP_LINUX_IMMUTABLE":    capability.CAP_LINUX_IMMUTABLE,
	"CAP_NET_BIND_SERVICE":   capability.CAP_NET_BIND_SERVICE,
	"CAP_NET_BROADCAST":      capability.CAP_NET_BROADCAST,
	"CAP_NET_ADMIN":          capability.CAP_NET_ADMIN,
	"CAP_NET_RAW":            capability.CAP_NET_RAW,
	"CAP_IPC_LOCK":           capability.CAP_IPC_LOCK,
	"CAP_IPC_OWNER":          capability.CAP_IPC_OWNER,
	"CAP_SYS_MODULE":         capability.CAP_SYS_MODULE,
	"CAP_SYS_RAWIO":          capability.CAP_SYS_RAWIO,
	"CAP_SYS_CHROOT":         capability.CAP_SYS_CHROOT,
	"CAP_SYS_PTRACE":         capability.CAP_SYS_PTRACE,
	"CAP_SYS_PACCT":          capability.CAP_SYS_PACCT,
	"CAP_SYS_ADMIN":          capability.CAP_SYS_ADMIN,
	"CAP_SYS_BOOT":           capability.CAP_SYS_BOOT,
	"CAP_SYS_NICE":           capability.CAP_SYS_NICE,
	"CAP_SYS_RESOURCE":       capability.CAP_SYS_RESOURCE,
	"CAP_SYS_TIME":           capability.CAP_SYS_TIME,
	"CAP_SYS_TTY_CONFIG":     capability.CAP_SYS_TTY_CONFIG,
	"CAP_MKNOD":              capability.CAP_MKNOD,
	"CAP_LEASE":              capability.CAP_LEASE,
	"CAP_AUDIT_WRITE":        capability.CAP_AUDIT_WRITE,
	"CAP_AUDIT_CONTROL":      capability.CAP_AUDIT_CONTROL,
	"CAP_SETFCAP":            capability.CAP_SETFCAP,
	"CAP_MAC_OVERRIDE":       capability.CAP_MAC_OVERRIDE,
	"CAP_MAC_ADMIN":          capability.CAP_MAC_ADMIN,
	"CAP_SYSLOG":             capability.CAP_SYSLOG,
	"CAP_WAKE_ALARM":         capability.CAP_WAKE_ALARM,
	"CAP_BLOCK_SUSPEND":      capability.CAP_BLOCK_SUSPEND,
	"CAP_AUDIT_READ":         capability.CAP_AUDIT_READ,
	"CAP_PERFMON":            capability.CAP_PERFMON,
	"CAP_BPF":                capability.CAP_BPF,
	"CAP_CHECKPOINT_RESTORE": capability.CAP_CHECKPOINT_RESTORE,
}

// KnownCapabilityNames returns every capability name this runtime knows how
// to translate, for the `features` command to advertise.
func KnownCapabilityNames() []string {
	names := make([]string, 0, len(capabilityMap))
	for name := range capabilityMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyCapabilities applies OCI capability configuration to the calling
// process, in bounding -> effective/permitted/inheritable -> ambient order
// so that ambient capabilities (which require their bit already present in
// both permitted and inheritable) are always raised last.
func ApplyCapabilities(caps *spec.LinuxCapabilities) error {
	if caps == nil {
		return nil
	}

	c, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("load process capabilities: %w", err)
	}
	if err := c.Load(); err != nil {
		return fmt.Errorf("load process capabilities: %w", err)
	}

	c.Clear(capability.CAPS | capability.BOUNDING | capability.AMBIENT)

	if err := setCaps(c, capability.BOUNDING, caps.Bounding); err != nil {
		return fmt.Errorf("apply bounding: %w", err)
	}
	if err := setCaps(c, capability.EFFECTIVE, caps.Effective); err != nil {
		return fmt.Errorf("apply effective: %w", err)
	}
	if err := setCaps(c, capability.PERMITTED, caps.Permitted); err != nil {
		return fmt.Errorf("apply permitted: %w", err)
	}
	if err := setCaps(c, capability.INHERITABLE, caps.Inheritable); err != nil {
		return fmt.Errorf("apply inheritable: %w", err)
	}

	if err := c.Apply(capability.CAPS | capability.BOUNDING); err != nil {
		return fmt.Errorf("apply capability sets: %w", err)
	}

	// Ambient capabilities must be raised in a second pass, after the
	// permitted/inheritable sets they depend on are already in the kernel.
	if err := setCaps(c, capability.AMBIENT, caps.Ambient); err != nil {
		return fmt.Errorf("apply ambient: %w", err)
	}
	if err := c.Apply(capability.AMBIENT); err != nil {
		return fmt.Errorf("apply ambient capability set: %w", err)
	}

	return nil
}

// setCaps resolves OCI capability names against capabilityMap and sets
// them on the given capability set, warning (not failing) on unknown names
// so a newer config.json naming a capability this kernel predates does not
// abort the whole container.
func setCaps(c capability.Capabilities, which capability.CapType, names []string) error {
	resolved := make([]capability.Cap, 0, len(names))
	for _, name := range names {
		cap, ok := capabilityMap[strings.ToUpper(name)]
		if !ok {
			fmt.Printf("[capabilities] warning: unknown capability %q\n", name)
			continue
		}
		resolved = append(resolved, cap)
	}
	c.Set(which, resolved...)
	return nil
}

// CapabilityToName converts a capability name back from its canonical form,
// mostly useful for diagnostics.
func CapabilityToName(cap capability.Cap) string {
	for name, c := range capabilityMap {
		if c == cap {
			return name
		}
	}
	return cap.String()
}

// NameToCapability converts a capability name to its moby/sys/capability value.
func NameToCapability(name string) (capability.Cap, bool) {
	cap, ok := capabilityMap[strings.ToUpper(name)]
	return cap, ok
}

// AllCapabilities returns all known capability names.
func AllCapabilities() []string {
	names := make([]string, 0, len(capabilityMap))
	for name := range capabilityMap {
		names = append(names, name)
	}
	return names
}
