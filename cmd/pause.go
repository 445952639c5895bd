package cmd

import (
	"github.com/spf13/cobra"

	"ctrun/container"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <container-id>",
	Short: "Pause a running container",
	Long:  `Freeze all processes in the container via the cgroup freezer.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <container-id>",
	Short: "Resume a paused container",
	Long:  `Thaw all processes in a previously paused container.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runPause(cmd *cobra.Command, args []string) error {
	return container.Pause(GetContext(), args[0], GetStateRoot())
}

func runResume(cmd *cobra.Command, args []string) error {
	return container.Resume(GetContext(), args[0], GetStateRoot())
}
