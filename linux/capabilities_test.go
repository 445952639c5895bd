package linux

import (
	"testing"

	"github.com/moby/sys/capability"

	"ctrun/spec"
)

func TestCapabilityMap_Complete(t *testing.T) {
	expectedCaps := []struct {
		name string
		cap  capability.Cap
	}{
		{"CAP_CHOWN", capability.CAP_CHOWN},
		{"CAP_DAC_OVERRIDE", capability.CAP_DAC_OVERRIDE},
		{"CAP_DAC_READ_SEARCH", capability.CAP_DAC_READ_SEARCH},
		{"CAP_FOWNER", capability.CAP_FOWNER},
		{"CAP_FSETID", capability.CAP_FSETID},
		{"CAP_KILL", capability.CAP_KILL},
		{"CAP_SETGID", capability.CAP_SETGID},
		{"CAP_SETUID", capability.CAP_SETUID},
		{"CAP_SETPCAP", capability.CAP_SETPCAP},
		{"CAP_NET_BIND_SERVICE", capability.CAP_NET_BIND_SERVICE},
		{"CAP_NET_ADMIN", capability.CAP_NET_ADMIN},
		{"CAP_NET_RAW", capability.CAP_NET_RAW},
		{"CAP_SYS_MODULE", capability.CAP_SYS_MODULE},
		{"CAP_SYS_CHROOT", capability.CAP_SYS_CHROOT},
		{"CAP_SYS_PTRACE", capability.CAP_SYS_PTRACE},
		{"CAP_SYS_ADMIN", capability.CAP_SYS_ADMIN},
		{"CAP_MKNOD", capability.CAP_MKNOD},
		{"CAP_AUDIT_WRITE", capability.CAP_AUDIT_WRITE},
		{"CAP_SYSLOG", capability.CAP_SYSLOG},
	}

	for _, tt := range expectedCaps {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := capabilityMap[tt.name]
			if !ok {
				t.Errorf("Capability %s not found in capabilityMap", tt.name)
				return
			}
			if got != tt.cap {
				t.Errorf("capabilityMap[%s] = %v, want %v", tt.name, got, tt.cap)
			}
		})
	}
}

func TestCapabilityToName(t *testing.T) {
	tests := []struct {
		cap  capability.Cap
		want string
	}{
		{capability.CAP_CHOWN, "CAP_CHOWN"},
		{capability.CAP_DAC_OVERRIDE, "CAP_DAC_OVERRIDE"},
		{capability.CAP_SETUID, "CAP_SETUID"},
		{capability.CAP_SETGID, "CAP_SETGID"},
		{capability.CAP_SYS_ADMIN, "CAP_SYS_ADMIN"},
		{capability.CAP_NET_ADMIN, "CAP_NET_ADMIN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := CapabilityToName(tt.cap); got != tt.want {
				t.Errorf("CapabilityToName(%v) = %q, want %q", tt.cap, got, tt.want)
			}
		})
	}
}

func TestNameToCapability(t *testing.T) {
	tests := []struct {
		name   string
		want   capability.Cap
		wantOk bool
	}{
		{"CAP_CHOWN", capability.CAP_CHOWN, true},
		{"CAP_SYS_ADMIN", capability.CAP_SYS_ADMIN, true},
		{"CAP_NET_ADMIN", capability.CAP_NET_ADMIN, true},
		{"INVALID_CAP", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NameToCapability(tt.name)
			if ok != tt.wantOk {
				t.Errorf("NameToCapability(%q) ok = %v, wantOk %v", tt.name, ok, tt.wantOk)
				return
			}
			if tt.wantOk && got != tt.want {
				t.Errorf("NameToCapability(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestAllCapabilities(t *testing.T) {
	caps := AllCapabilities()

	if len(caps) < 40 {
		t.Errorf("AllCapabilities() returned %d caps, expected at least 40", len(caps))
	}

	expectedCaps := []string{
		"CAP_CHOWN",
		"CAP_DAC_OVERRIDE",
		"CAP_SETUID",
		"CAP_SETGID",
		"CAP_SYS_ADMIN",
		"CAP_NET_ADMIN",
	}

	for _, expected := range expectedCaps {
		found := false
		for _, cap := range caps {
			if cap == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("AllCapabilities() missing capability %s", expected)
		}
	}
}

func TestLinuxCapabilitiesSpec(t *testing.T) {
	caps := &spec.LinuxCapabilities{
		Bounding:    []string{"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_KILL"},
		Effective:   []string{"CAP_CHOWN"},
		Permitted:   []string{"CAP_CHOWN", "CAP_DAC_OVERRIDE"},
		Inheritable: []string{},
		Ambient:     []string{},
	}

	for _, name := range caps.Bounding {
		if _, ok := NameToCapability(name); !ok {
			t.Errorf("bounding capability %s did not resolve", name)
		}
	}
	for _, name := range caps.Permitted {
		if _, ok := NameToCapability(name); !ok {
			t.Errorf("permitted capability %s did not resolve", name)
		}
	}
}

func TestDangerousCapabilities(t *testing.T) {
	dangerousCaps := []string{
		"CAP_SYS_ADMIN",
		"CAP_SYS_MODULE",
		"CAP_SYS_RAWIO",
		"CAP_SYS_PTRACE",
		"CAP_NET_ADMIN",
		"CAP_SYS_BOOT",
		"CAP_MAC_ADMIN",
		"CAP_MAC_OVERRIDE",
	}

	for _, capName := range dangerousCaps {
		t.Run(capName, func(t *testing.T) {
			if _, ok := NameToCapability(capName); !ok {
				t.Errorf("dangerous capability %s not found", capName)
			}
		})
	}
}

func TestUnknownCapabilityIgnoredNotFatal(t *testing.T) {
	if _, ok := NameToCapability("CAP_DOES_NOT_EXIST"); ok {
		t.Error("expected unknown capability name to not resolve")
	}
}
