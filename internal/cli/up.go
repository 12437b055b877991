// Package cli — up.go implements the "jenkins-up up" command.
//
// The up command runs the full provisioning sequence:
//  1. Verify the Docker daemon is reachable and required ports are free
//  2. Ensure the bridge network exists (prompting before recreation)
//  3. Ensure neither managed container name is taken (prompting before removal)
//  4. Build the Jenkins controller image from the local Dockerfile
//  5. Pull and start the Docker-in-Docker container
//  6. Start the Jenkins controller container
//
// The sequence stops at the first failure and leaves already-created
// resources in place. Exit code is 0 on success and 1 on any failure.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/jenkins-up/internal/config"
	"github.com/mmr-tortoise/jenkins-up/internal/docker"
	"github.com/mmr-tortoise/jenkins-up/internal/provision"
)

// upFlags holds the flag values for the up command.
type upFlags struct {
	// buildContext overrides the image build context directory.
	buildContext string
}

// NewUpCommand creates the "up" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewUpCommand() *cobra.Command {
	flags := &upFlags{}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision the Jenkins stack",
		Long: `Provision the complete Jenkins stack: bridge network, Docker-in-Docker
daemon, Jenkins controller image and container, and named volumes.

The build context must contain a Dockerfile for the Jenkins controller
image. When the stack is up, the Jenkins UI is reachable on the
configured web port (default http://localhost:8080).

Examples:
  jenkins-up up
  jenkins-up up --context ./jenkins
  jenkins-up up --yes --config jenkins-up.yaml`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.buildContext, "context", "", "Image build context directory (overrides config)")

	return cmd
}

// runUp is the main logic function for the up command.
// It loads configuration, connects to Docker, and hands the sequence to
// the provisioner.
func runUp(ctx context.Context, flags *upFlags) error {
	// Step 1: Load configuration (explicit --config path, probed file,
	// or built-in defaults).
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flags.buildContext != "" {
		cfg.BuildContext = flags.buildContext
	}

	// Step 2: Connect to the Docker daemon.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	// Step 3: Run the provisioning sequence. Build and pull progress goes
	// to stderr so stdout stays clean for the procedure's own messages.
	// In JSON mode the progress messages move to stderr too, leaving
	// stdout for the JSON summary alone.
	engine := docker.NewEngine(cli, os.Stderr)
	progress := io.Writer(os.Stdout)
	if IsJSONOutput() {
		progress = os.Stderr
	}
	p := provision.New(cfg, engine,
		provision.WithConfirm(newConfirmer()),
		provision.WithOutput(progress),
	)

	if err := p.Up(ctx); err != nil {
		return err
	}

	if IsJSONOutput() {
		printUpResultJSON(cfg)
	}
	return nil
}

// printUpResultJSON outputs the up result as structured JSON. The text
// rendition is the provisioner's own progress output, so only the JSON
// summary is produced here.
func printUpResultJSON(cfg *config.Config) {
	result := map[string]interface{}{
		"action":  "provisioned",
		"network": cfg.Network,
		"containers": []string{
			cfg.DinDContainer,
			cfg.JenkinsContainer,
		},
		"image": cfg.ImageTag,
		"url":   fmt.Sprintf("http://localhost:%d", cfg.WebPort),
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}
