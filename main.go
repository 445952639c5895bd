// Command ctrun is an OCI-compliant container runtime.
//
// It implements the create/start/kill/delete/state lifecycle on top of
// Linux namespaces, cgroups v1/v2/systemd, and seccomp. See the cmd
// package for the command surface.
package main

import (
	"fmt"
	"os"

	"ctrun/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
