package main

import (
	"fmt"
	"os"

	"github.com/overwatch-dqm/overwatch/pkg/deploy"
	"github.com/overwatch-dqm/overwatch/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"deployment configuration file" required:"true"`
	Status   bool   `long:"status" description:"report service status instead of deploying"`
	LogLevel string `long:"log-level" description:"override the configured log level"`
}

func logPrefix(component string) string {
	return fmt.Sprintf("component: %s , ", component)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	config, err := deploy.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load deployment configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		config.Options.LogLevel = opts.LogLevel
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = config.Options.LogLevel
	logger, err := logging.NewZapLogger(logPrefix("overwatch-deploy"), zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("opts: %+v", opts)

	registry := deploy.NewRegistry()
	if err := deploy.ValidateConfig(config, registry); err != nil {
		logger.Errorf("Invalid deployment configuration: %v", err)
		os.Exit(1)
	}

	executables, err := deploy.CreateExecutablesFromConfig(config, registry, logger)
	if err != nil {
		logger.Errorf("Failed to create executables: %v", err)
		os.Exit(1)
	}

	if opts.Status {
		reportStatus(executables, logger)
		return
	}

	// Services are deployed sequentially in configuration order. The first
	// failure stops the run so the operator sees the broken service instead
	// of a partially deployed system.
	for _, executable := range executables {
		controller := deploy.NewController(executable, deploy.ControllerOptions{}, logger)

		process, err := controller.Deploy()
		if err != nil {
			logger.Errorf("Deployment failed, executable: %s: %v", executable.Name, err)
			os.Exit(1)
		}

		if process != nil {
			logger.Infof("Deployed, executable: %s, PID: %d", executable.Name, process.Pid)
			process.Release()
		} else {
			logger.Infof("Registered with supervisord, executable: %s", executable.Name)
		}
	}

	logger.Infof("Deployment complete, services: %d", len(executables))
}

func reportStatus(executables []*deploy.Executable, logger logging.Logger) {
	for _, executable := range executables {
		if err := executable.Setup(); err != nil {
			logger.Errorf("Setup failed, executable: %s: %v", executable.Name, err)
			os.Exit(1)
		}

		controller := deploy.NewController(executable, deploy.ControllerOptions{}, logger)
		status, err := controller.Status()
		if err != nil {
			logger.Errorf("Status query failed, executable: %s: %v", executable.Name, err)
			os.Exit(1)
		}

		state := "stopped"
		if status.Running {
			state = "running"
		}
		fmt.Printf("%-16s %-8s PIDs: %v\n", status.Name, state, status.PIDs)
	}
}
