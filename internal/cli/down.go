// Package cli — down.go implements the "jenkins-up down" command.
//
// The down command removes the provisioned stack: both containers
// (force-removed, running or not), the bridge network, and optionally
// the named volumes. Resources that are already absent are skipped
// silently, so down is safe to run after a partially failed up.
//
// By default, the command prompts for confirmation before proceeding.
// The global --yes flag skips the prompt. Volumes are kept unless
// --volumes is given, because the data volume holds the Jenkins home.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/jenkins-up/internal/config"
	"github.com/mmr-tortoise/jenkins-up/internal/docker"
	"github.com/mmr-tortoise/jenkins-up/internal/model"
	"github.com/mmr-tortoise/jenkins-up/internal/provision"
)

// downFlags holds the flag values for the down command.
type downFlags struct {
	// removeVolumes also removes the named volumes, destroying the
	// Jenkins home and all job data.
	removeVolumes bool
}

// NewDownCommand creates the "down" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewDownCommand() *cobra.Command {
	flags := &downFlags{}

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the Jenkins stack",
		Long: `Remove the provisioned Jenkins stack: both containers and the bridge
network. Named volumes are kept unless --volumes is given, so the
Jenkins home survives a plain down and the next up resumes with the
same jobs and credentials.

Unless --yes is specified, the command prompts for confirmation.

Examples:
  jenkins-up down
  jenkins-up down --volumes
  jenkins-up down --yes`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDown(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.removeVolumes, "volumes", false, "Also remove the named volumes (destroys Jenkins data)")

	return cmd
}

// runDown is the main logic function for the down command.
// It loads configuration, asks for confirmation up front, and delegates
// the removal to the provisioner.
func runDown(ctx context.Context, flags *downFlags) error {
	// Step 1: Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Step 2: Confirm up front unless --yes is set. Unlike up, where each
	// conflict is confirmed individually mid-procedure, down is a single
	// destructive action and gets a single prompt.
	if !assumeYes {
		question := fmt.Sprintf("Remove containers %q and %q and network %q?",
			cfg.DinDContainer, cfg.JenkinsContainer, cfg.Network)
		if flags.removeVolumes {
			question = fmt.Sprintf("Remove containers %q and %q, network %q and volumes %q and %q? All Jenkins data will be lost.",
				cfg.DinDContainer, cfg.JenkinsContainer, cfg.Network, cfg.CertsVolume, cfg.DataVolume)
		}

		confirmed, err := askConfirm(question)
		if err != nil {
			return model.WrapCLIError(model.ExitFailure, "failed to read confirmation", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitFailure, "operation cancelled")
		}
	}

	// Step 3: Connect to the Docker daemon and run the teardown.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	engine := docker.NewEngine(cli, nil)
	p := provision.New(cfg, engine)

	report, err := p.Teardown(ctx, flags.removeVolumes)
	if err != nil {
		return err
	}

	// Step 4: Output the result.
	printDownResult(report)
	return nil
}

// printDownResult outputs the teardown report in text or JSON format.
func printDownResult(report *provision.TeardownReport) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(report.ContainersRemoved) == 0 && !report.NetworkRemoved && len(report.VolumesRemoved) == 0 {
		fmt.Println("Nothing to remove.")
		return
	}

	for _, name := range report.ContainersRemoved {
		fmt.Printf("Removed container %q\n", name)
	}
	if report.NetworkRemoved {
		fmt.Println("Removed network")
	}
	for _, name := range report.VolumesRemoved {
		fmt.Printf("Removed volume %q\n", name)
	}
}
