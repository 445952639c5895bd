package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ctrun/linux"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Print the features supported by this runtime",
	Long:  `Print a JSON document advertising supported namespaces, capabilities, and cgroup versions.`,
	Args:  cobra.NoArgs,
	RunE:  runFeatures,
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}

// featuresDoc is a minimal rendering of the OCI runtime "features" struct:
// just enough for callers to discover what this core actually wires up,
// not a full schema implementation (the OCI features schema itself is out
// of scope here, same as the rest of the config/state types).
type featuresDoc struct {
	OCIVersionMin string   `json:"ociVersionMin"`
	OCIVersionMax string   `json:"ociVersionMax"`
	Namespaces    []string `json:"namespaces"`
	Capabilities  []string `json:"capabilities"`
	Cgroup        struct {
		V1       bool   `json:"v1"`
		V2       bool   `json:"v2"`
		Systemd  bool   `json:"systemd"`
		Detected string `json:"detected"`
	} `json:"cgroup"`
	Seccomp struct {
		Enabled   bool     `json:"enabled"`
		Actions   []string `json:"actions"`
		Operators []string `json:"operators"`
	} `json:"seccomp"`
}

func runFeatures(cmd *cobra.Command, args []string) error {
	doc := featuresDoc{
		OCIVersionMin: "1.0.0",
		OCIVersionMax: "1.2.0",
		Namespaces:    []string{"pid", "network", "mount", "ipc", "uts", "user", "cgroup"},
		Capabilities:  linux.KnownCapabilityNames(),
	}
	doc.Cgroup.V1 = true
	doc.Cgroup.V2 = true
	doc.Cgroup.Systemd = true
	if setup, err := linux.DetectCgroupSetup(); err == nil {
		doc.Cgroup.Detected = setup.String()
	} else {
		doc.Cgroup.Detected = "unknown"
	}
	doc.Seccomp.Enabled = true
	doc.Seccomp.Actions = []string{"SCMP_ACT_KILL", "SCMP_ACT_TRAP", "SCMP_ACT_ERRNO", "SCMP_ACT_TRACE", "SCMP_ACT_ALLOW", "SCMP_ACT_LOG", "SCMP_ACT_NOTIFY", "SCMP_ACT_KILL_PROCESS", "SCMP_ACT_KILL_THREAD"}
	doc.Seccomp.Operators = []string{"SCMP_CMP_NE", "SCMP_CMP_LT", "SCMP_CMP_LE", "SCMP_CMP_EQ", "SCMP_CMP_GE", "SCMP_CMP_GT", "SCMP_CMP_MASKED_EQ"}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
