// Package config defines the provisioning configuration and its defaults.
//
// With no configuration file present, every value is the fixed constant
// from the original procedure: network "jenkins", containers
// "jenkins-docker" and "jenkins-blueocean", volumes "jenkins-docker-certs"
// and "jenkins-data", image "myjenkins-blueocean:latest", ports 2376,
// 8080 and 50000. A config file may override any of them.
//
// Config files may be YAML or JSON. JSONC (JSON with Comments) is also
// accepted, using github.com/tidwall/jsonc to strip comments before
// parsing with the standard encoding/json library.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/jenkins-up/internal/model"
)

// Default resource names and ports, as published by the upstream
// Jenkins-on-Docker installation procedure.
const (
	DefaultNetwork          = "jenkins"
	DefaultDinDContainer    = "jenkins-docker"
	DefaultJenkinsContainer = "jenkins-blueocean"
	DefaultCertsVolume      = "jenkins-docker-certs"
	DefaultDataVolume       = "jenkins-data"
	DefaultImageTag         = "myjenkins-blueocean:latest"
	DefaultDinDImage        = "docker:dind"

	DefaultDaemonPort = 2376
	DefaultWebPort    = 8080
	DefaultAgentPort  = 50000
)

// defaultFileNames are probed in order when no --config path is given.
var defaultFileNames = []string{
	"jenkins-up.yaml",
	"jenkins-up.yml",
	"jenkins-up.json",
	"jenkins-up.jsonc",
}

// Config holds every name and port the provisioner uses. All fields have
// working defaults; a config file only needs to name what it changes.
type Config struct {
	// Network is the bridge network joining DinD and Jenkins.
	Network string `json:"network" yaml:"network"`

	// DinDContainer is the name of the Docker-in-Docker container.
	DinDContainer string `json:"dindContainer" yaml:"dindContainer"`

	// JenkinsContainer is the name of the Jenkins controller container.
	JenkinsContainer string `json:"jenkinsContainer" yaml:"jenkinsContainer"`

	// CertsVolume holds the TLS client certificates the DinD daemon
	// generates, shared read-only with the Jenkins container.
	CertsVolume string `json:"certsVolume" yaml:"certsVolume"`

	// DataVolume is the Jenkins home volume, mounted into both containers.
	DataVolume string `json:"dataVolume" yaml:"dataVolume"`

	// ImageTag is the tag applied to the built Jenkins image.
	ImageTag string `json:"imageTag" yaml:"imageTag"`

	// DinDImage is the Docker-in-Docker image reference to pull and run.
	DinDImage string `json:"dindImage" yaml:"dindImage"`

	// BuildContext is the directory used as the image build context.
	// It must contain a Dockerfile.
	BuildContext string `json:"buildContext" yaml:"buildContext"`

	// DaemonPort is the published DinD daemon TLS port.
	DaemonPort int `json:"daemonPort" yaml:"daemonPort"`

	// WebPort is the published Jenkins web UI port.
	WebPort int `json:"webPort" yaml:"webPort"`

	// AgentPort is the published Jenkins inbound agent port.
	AgentPort int `json:"agentPort" yaml:"agentPort"`
}

// Default returns a Config populated with the fixed upstream constants.
func Default() *Config {
	return &Config{
		Network:          DefaultNetwork,
		DinDContainer:    DefaultDinDContainer,
		JenkinsContainer: DefaultJenkinsContainer,
		CertsVolume:      DefaultCertsVolume,
		DataVolume:       DefaultDataVolume,
		ImageTag:         DefaultImageTag,
		DinDImage:        DefaultDinDImage,
		BuildContext:     ".",
		DaemonPort:       DefaultDaemonPort,
		WebPort:          DefaultWebPort,
		AgentPort:        DefaultAgentPort,
	}
}

// Load returns the effective configuration. If path is non-empty, that
// file must exist and parse. If path is empty, the default file names are
// probed in the working directory; when none exists, the defaults are
// returned unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := findDefaultFile()
		if err != nil {
			return nil, err
		}
		if found == "" {
			return Default(), nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return cfg, nil
}

// findDefaultFile probes the default file names in the working directory
// and returns the first that exists, or "" when none does.
func findDefaultFile() (string, error) {
	for _, name := range defaultFileNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		} else if !os.IsNotExist(err) {
			return "", model.WrapCLIError(model.ExitFailure,
				fmt.Sprintf("failed to probe config file %s", name), err)
		}
	}
	return "", nil
}

// Parse unmarshals config file contents on top of the defaults, so fields
// absent from the file keep their default values. The format is chosen by
// file extension: ".yaml"/".yml" are parsed as YAML, everything else as
// JSON with comments stripped first.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		// jsonc.ToJSON strips // and /* */ comments plus trailing commas,
		// producing strict JSON for the standard library parser. Plain
		// JSON passes through unchanged.
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks resource names, the build context and port values.
func (c *Config) Validate() error {
	names := map[string]string{
		"network":          c.Network,
		"dindContainer":    c.DinDContainer,
		"jenkinsContainer": c.JenkinsContainer,
		"certsVolume":      c.CertsVolume,
		"dataVolume":       c.DataVolume,
	}
	for field, name := range names {
		if err := model.ValidateResourceName(name); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	if c.DinDContainer == c.JenkinsContainer {
		return fmt.Errorf("dindContainer and jenkinsContainer must differ (both %q)", c.DinDContainer)
	}
	if c.ImageTag == "" {
		return fmt.Errorf("imageTag must not be empty")
	}
	if c.DinDImage == "" {
		return fmt.Errorf("dindImage must not be empty")
	}
	if c.BuildContext == "" {
		return fmt.Errorf("buildContext must not be empty")
	}

	ports := map[string]int{
		"daemonPort": c.DaemonPort,
		"webPort":    c.WebPort,
		"agentPort":  c.AgentPort,
	}
	seen := make(map[int]string, len(ports))
	for field, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s: port %d out of range (1-65535)", field, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s both use port %d", other, field, port)
		}
		seen[port] = field
	}

	return nil
}

// RequiredPorts returns the host ports that must be free before
// provisioning starts, in the order they are checked.
func (c *Config) RequiredPorts() []int {
	return []int{c.DaemonPort, c.WebPort, c.AgentPort}
}
