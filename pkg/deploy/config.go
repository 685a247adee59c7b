package deploy

import (
	"fmt"
	"os"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
	"github.com/overwatch-dqm/overwatch/pkg/logging"

	"gopkg.in/yaml.v3"
)

// DeployConfig represents the top-level deployment configuration file
type DeployConfig struct {
	Options  DeployOptions   `yaml:"options"`
	Services []ServiceConfig `yaml:"services"`
}

// DeployOptions represents deployment-wide configuration
type DeployOptions struct {
	// Supervisord selects the supervisor-daemon backend for every service.
	Supervisord bool `yaml:"supervisord,omitempty"`

	// ConfigFilename is the persisted Overwatch configuration file that
	// services merge their additional options into.
	ConfigFilename string `yaml:"config_filename,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// ServiceConfig represents a single service to deploy
type ServiceConfig struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false

	// ProcessIdentifier overrides the derived match key when the rendered
	// argument vector alone is not unique.
	ProcessIdentifier string `yaml:"process_identifier,omitempty"`

	TemplateValues    map[string]string      `yaml:"template_values,omitempty"`
	AdditionalOptions map[string]interface{} `yaml:"additional_options,omitempty"`
}

// LoadConfigFromFile loads deployment configuration from a YAML file
func LoadConfigFromFile(filename string) (*DeployConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read deployment configuration", err).WithContext("filename", filename)
	}

	var config DeployConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse deployment configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *DeployConfig) {
	if config.Options.ConfigFilename == "" {
		config.Options.ConfigFilename = DefaultConfigFilename
	}
	if config.Options.LogLevel == "" {
		config.Options.LogLevel = "info"
	}

	for i := range config.Services {
		service := &config.Services[i]

		// Default enabled to true if not specified
		if service.Enabled == nil {
			enabled := true
			service.Enabled = &enabled
		}
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *DeployConfig, registry *Registry) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Options.LogLevel] {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Options.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	seenIDs := make(map[string]int)
	for i, service := range config.Services {
		if service.ID == "" {
			return errors.NewValidationError(
				fmt.Sprintf("service at index %d has no id", i), nil)
		}

		if prevIndex, exists := seenIDs[service.ID]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate service ID '%s' found at indices %d and %d", service.ID, prevIndex, i),
				nil,
			)
		}
		seenIDs[service.ID] = i

		if _, err := registry.Retrieve(service.Type); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid executable type for service at index %d", i),
				err,
			).WithContext("service_id", service.ID)
		}
	}

	return nil
}

// CreateExecutablesFromConfig creates executable instances for every enabled
// service, in configuration order.
func CreateExecutablesFromConfig(config *DeployConfig, registry *Registry, logger logging.Logger) ([]*Executable, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	var executables []*Executable

	for i, service := range config.Services {
		// Skip disabled services (only skip if explicitly set to false)
		if service.Enabled != nil && !*service.Enabled {
			logger.Infof("Skipping disabled service, id: %s", service.ID)
			continue
		}

		constructor, err := registry.Retrieve(service.Type)
		if err != nil {
			return nil, errors.NewValidationError(
				fmt.Sprintf("failed to create executable at index %d", i),
				err,
			).WithContext("service_id", service.ID)
		}

		executable := constructor(ExecutableOptions{
			ProcessIdentifier: service.ProcessIdentifier,
			Supervisord:       config.Options.Supervisord,
			TemplateValues:    service.TemplateValues,
			AdditionalOptions: service.AdditionalOptions,
			ConfigFilename:    config.Options.ConfigFilename,
		}, logger)

		executables = append(executables, executable)
	}

	return executables, nil
}
