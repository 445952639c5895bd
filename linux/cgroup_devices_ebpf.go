package linux

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"

	"ctrun/spec"
)

// Bits of the access_type field in struct bpf_cgroup_dev_ctx: the low 16
// bits carry the access mode, the high 16 carry the device type char.
const (
	devAccessRead  = 1 << 0
	devAccessWrite = 1 << 1
	devAccessMknod = 1 << 2

	devTypeBlock = 'b' << 16
	devTypeChar  = 'c' << 16
)

// accessBits converts an OCI access string ("rwm") into the bitmask the
// kernel's device filter program compares against.
func accessBits(access string) uint32 {
	var bits uint32
	for _, c := range access {
		switch c {
		case 'r':
			bits |= devAccessRead
		case 'w':
			bits |= devAccessWrite
		case 'm':
			bits |= devAccessMknod
		}
	}
	return bits
}

// ApplyDeviceRulesEBPF compiles the OCI device cgroup rules into a classic
// cgroup-device eBPF program and attaches it to the container's cgroup v2
// directory, replacing any program from a previous Apply with
// BPF_F_ALLOW_MULTI semantics (cilium/ebpf's link.AttachCgroup handles the
// attach-replace itself). v1 hosts use the devices controller's text-file
// rules instead (see CgroupV1.applyDevices); this path is v2-only because
// the devices controller has no cgroup v2 file-based equivalent.
func ApplyDeviceRulesEBPF(cgroupPath string, rules []spec.LinuxDeviceCgroup) error {
	prog, err := compileDeviceProgram(rules)
	if err != nil {
		return fmt.Errorf("compile device program: %w", err)
	}
	defer prog.Close()

	lnk, err := link.AttachCgroup(link.CgroupOptions{
		Path:    cgroupPath,
		Attach:  ebpf.AttachCGroupDevice,
		Program: prog,
	})
	if err != nil {
		return fmt.Errorf("attach device program to %s: %w", cgroupPath, err)
	}
	// The program stays attached to the cgroup after the fd is closed; we
	// only need the link to perform the attach, not to keep it pinned.
	defer lnk.Close()

	return nil
}

// compileDeviceProgram assembles a BPF_PROG_TYPE_CGROUP_DEVICE program that
// evaluates OCI device rules in order (later rules win, matching the OCI
// spec's "process the whitelist in order, default deny" semantics), and
// returns 1 (allow) or 0 (deny) in R0.
//
// Context layout (struct bpf_cgroup_dev_ctx), all loaded via the context
// pointer in R1:
//
//	+0  u32 access_type (low 16 = rwm bits, high 16 = device type char)
//	+4  u32 major
//	+8  u32 minor
func compileDeviceProgram(rules []spec.LinuxDeviceCgroup) (*ebpf.Program, error) {
	const (
		labelAllow = "allow"
		labelDeny  = "deny"
	)

	var insns asm.Instructions

	// R2 = access_type, R3 = major, R4 = minor; loaded once and reused by
	// every rule comparison below.
	insns = append(insns,
		asm.LoadMem(asm.R2, asm.R1, 0, asm.Word),
		asm.LoadMem(asm.R3, asm.R1, 4, asm.Word),
		asm.LoadMem(asm.R4, asm.R1, 8, asm.Word),
	)

	// Rules are emitted last-to-first so that the first match in the
	// program is the last matching rule in the list.
	for i := len(rules) - 1; i >= 0; i-- {
		rule := rules[i]
		devType := uint32(0)
		switch rule.Type {
		case "c", "u":
			devType = devTypeChar
		case "b":
			devType = devTypeBlock
		case "a":
			devType = 0 // wildcard: matches both, checked separately below
		default:
			continue
		}
		access := rule.Access
		if access == "" {
			access = "rwm"
		}
		bits := accessBits(access)
		next := fmt.Sprintf("next_%d", i)

		if rule.Type != "a" {
			insns = append(insns, asm.JNE.Imm(asm.R2, int32(devType|bits), next))
		} else {
			// Wildcard type: only the access bits must match.
			insns = append(insns,
				asm.Mov.Reg(asm.R5, asm.R2),
				asm.And.Imm(asm.R5, 0xffff),
				asm.JNE.Imm(asm.R5, int32(bits), next),
			)
		}
		if rule.Major != nil {
			insns = append(insns, asm.JNE.Imm(asm.R3, int32(*rule.Major), next))
		}
		if rule.Minor != nil {
			insns = append(insns, asm.JNE.Imm(asm.R4, int32(*rule.Minor), next))
		}

		// All comparisons passed: this rule decides the verdict outright.
		if rule.Allow {
			insns = append(insns, asm.Ja.Label(labelAllow))
		} else {
			insns = append(insns, asm.Ja.Label(labelDeny))
		}

		// Anchor this rule's "next" label on the first instruction of the
		// following rule (or the default-deny fallthrough for the last one).
		insns = append(insns, asm.Mov.Imm(asm.R5, 0).Sym(next))
	}

	// Default: deny if no rule matched.
	insns = append(insns, asm.Mov.Imm(asm.R0, 0).Sym(labelDeny))
	insns = append(insns, asm.Return())

	insns = append(insns, asm.Mov.Imm(asm.R0, 1).Sym(labelAllow))
	insns = append(insns, asm.Return())

	progSpec := &ebpf.ProgramSpec{
		Type:         ebpf.CGroupDevice,
		License:      "GPL",
		Instructions: insns,
	}

	prog, err := ebpf.NewProgram(progSpec)
	if err != nil {
		return nil, err
	}
	return prog, nil
}
