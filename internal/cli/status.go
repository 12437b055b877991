// Package cli — status.go implements the "jenkins-up status" command.
//
// The status command takes a read-only snapshot of every managed
// resource: the bridge network, the built image, both containers, and
// the required host ports. It never mutates anything and always exits 0
// when the daemon is reachable, regardless of what it finds.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/jenkins-up/internal/config"
	"github.com/mmr-tortoise/jenkins-up/internal/docker"
	"github.com/mmr-tortoise/jenkins-up/internal/model"
	"github.com/mmr-tortoise/jenkins-up/internal/provision"
)

// NewStatusCommand creates the "status" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the Jenkins stack",
		Long: `Show the state of every managed resource: the bridge network, the built
controller image, both containers, and which of the required host ports
currently have a listener.

Examples:
  jenkins-up status
  jenkins-up status --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

// runStatus is the main logic function for the status command.
func runStatus(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	engine := docker.NewEngine(cli, nil)
	p := provision.New(cfg, engine)

	status, err := p.Status(ctx)
	if err != nil {
		return err
	}

	printStatusResult(status, cfg)
	return nil
}

// printStatusResult outputs the snapshot in text or JSON format,
// depending on the global --json flag.
func printStatusResult(status *model.StackStatus, cfg *config.Config) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Network  %-28s %s\n", status.NetworkName, presence(status.NetworkExists))
	fmt.Printf("Image    %-28s %s\n", status.ImageTag, presence(status.ImageExists))
	for _, c := range status.Containers {
		fmt.Printf("Container %-27s %s\n", c.Name, c.State)
	}
	fmt.Printf("Ports in use: %s\n", FormatPortsList(status.PortsInUse))

	if status.Running() {
		fmt.Printf("\nJenkins is running at http://localhost:%d\n", cfg.WebPort)
	}
}

// presence renders a resource existence check for the text table.
func presence(exists bool) string {
	if exists {
		return "present"
	}
	return "absent"
}

// FormatPortsList converts a slice of port numbers into a comma-separated
// string. Returns "-" if the slice is empty.
//
// This function is exported for testing purposes (tested in status_test.go).
func FormatPortsList(ports []int) string {
	if len(ports) == 0 {
		return "-"
	}

	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}
