package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"ctrun/container"
)

var (
	eventsStatsOnly bool
	eventsInterval  time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events <container-id>",
	Short: "Display container resource statistics",
	Long:  `Poll the container's cgroup and emit stats as newline-delimited JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsStatsOnly, "stats", false, "display a single stats snapshot and exit")
	eventsCmd.Flags().DurationVar(&eventsInterval, "interval", 5*time.Second, "interval between stats snapshots")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	return container.Events(GetContext(), args[0], GetStateRoot(), &container.EventsOptions{
		Stats:    eventsStatsOnly,
		Interval: eventsInterval,
	})
}
