package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/overwatch-dqm/overwatch/pkg/config"
	"github.com/overwatch-dqm/overwatch/pkg/errors"
	"github.com/overwatch-dqm/overwatch/pkg/logging"
)

// DefaultConfigFilename is where Overwatch executables persist their custom
// configuration overrides unless told otherwise.
const DefaultConfigFilename = "config.yaml"

// Executable describes a single Overwatch service to be deployed: the command
// to launch, its human description, and any configuration overrides that must
// be persisted before launch. Name, Description, and Args may contain {key}
// placeholders resolved from TemplateValues during Setup.
type Executable struct {
	Name        string
	Description string
	Args        []string

	// ProcessIdentifier is the match key used to find running instances of
	// this executable in the process table. When blank, Setup derives it from
	// the space-joined resolved Args. Callers must ensure the resolved
	// argument vector is unique per logical service, otherwise discovery and
	// kill will conflate unrelated processes.
	ProcessIdentifier string

	// Supervisord selects the execution backend: registration with the
	// supervisor daemon instead of a directly supervised child process.
	Supervisord bool

	// TemplateValues supplies the {key} substitutions for Name, Description,
	// and Args. Setup never mutates this map.
	TemplateValues map[string]string

	// AdditionalOptions are merged into the persisted configuration file at
	// ConfigFilename before template resolution. Empty means no merge.
	AdditionalOptions map[string]interface{}
	ConfigFilename    string

	logger logging.Logger
}

// ExecutableOptions carries the caller-controlled knobs shared by every
// executable type.
type ExecutableOptions struct {
	ProcessIdentifier string
	Supervisord       bool
	TemplateValues    map[string]string
	AdditionalOptions map[string]interface{}
	ConfigFilename    string
}

// NewExecutable creates an executable with raw, possibly templated fields.
func NewExecutable(name, description string, args []string, options ExecutableOptions, logger logging.Logger) *Executable {
	configFilename := options.ConfigFilename
	if configFilename == "" {
		configFilename = DefaultConfigFilename
	}

	return &Executable{
		Name:              name,
		Description:       description,
		Args:              args,
		ProcessIdentifier: options.ProcessIdentifier,
		Supervisord:       options.Supervisord,
		TemplateValues:    options.TemplateValues,
		AdditionalOptions: options.AdditionalOptions,
		ConfigFilename:    configFilename,
		logger:            logger,
	}
}

// Setup prepares the executable for deployment: persists any configuration
// overrides, resolves all {key} placeholders, and derives the process
// identifier when one was not supplied. After a successful Setup the Name,
// Description, and Args contain no unresolved placeholders. Setup mutates the
// executable in place and is re-runnable; resolving twice from the same
// template values produces the same result.
func (e *Executable) Setup() error {
	if len(e.AdditionalOptions) > 0 {
		e.logger.Debugf("Persisting configuration overrides, executable: %s, filename: %s", e.Name, e.ConfigFilename)
		if err := config.WriteCustomConfig(e.ConfigFilename, e.AdditionalOptions, e.logger); err != nil {
			return err
		}
	}

	name, err := renderTemplate(e.Name, e.TemplateValues)
	if err != nil {
		return err
	}
	description, err := renderTemplate(e.Description, e.TemplateValues)
	if err != nil {
		return err
	}
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		args[i], err = renderTemplate(arg, e.TemplateValues)
		if err != nil {
			return err
		}
	}

	// Assign only once every field resolved, so a failed Setup leaves the
	// executable untouched.
	e.Name = name
	e.Description = description
	e.Args = args

	if e.ProcessIdentifier == "" {
		e.ProcessIdentifier = strings.Join(args, " ")
	}

	e.logger.Debugf("Executable set up, name: %s, args: %v, process identifier: %q",
		e.Name, e.Args, e.ProcessIdentifier)

	return nil
}

var templateToken = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// renderTemplate substitutes every {key} token in s from values. A token
// without a matching key is an error: the spec for an executable must be
// fully resolved before it is used for discovery or launch.
func renderTemplate(s string, values map[string]string) (string, error) {
	var missing []string
	rendered := templateToken.ReplaceAllStringFunc(s, func(token string) string {
		key := token[1 : len(token)-1]
		if value, ok := values[key]; ok {
			return value
		}
		missing = append(missing, key)
		return token
	})

	if len(missing) > 0 {
		return "", errors.NewValidationError(
			fmt.Sprintf("unresolved template tokens %v in %q", missing, s), nil)
	}

	return rendered, nil
}
