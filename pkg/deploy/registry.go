package deploy

import (
	"fmt"
	"sort"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
	"github.com/overwatch-dqm/overwatch/pkg/logging"
)

// Constructor builds an executable of a particular type from caller options.
type Constructor func(options ExecutableOptions, logger logging.Logger) *Executable

// Registry maps logical executable type names to their constructors. It is
// populated once at construction and read-only afterwards.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates a registry holding the known Overwatch executable types.
func NewRegistry() *Registry {
	return &Registry{
		constructors: map[string]Constructor{
			"dataTransfer": newDataTransferExecutable,
			"processing":   newProcessingExecutable,
			"webApp":       newWebAppExecutable,
			"dqmReceiver":  newDQMReceiverExecutable,
			"zodb":         newZODBExecutable,
		},
	}
}

// Retrieve looks up the constructor for an executable type name. Unknown
// names fail loudly; there is no default executable.
func (r *Registry) Retrieve(name string) (Constructor, error) {
	constructor, ok := r.constructors[name]
	if !ok {
		return nil, errors.NewNotFoundError(
			fmt.Sprintf("Executable %s is invalid.", name), nil).WithContext("known_types", r.Names())
	}
	return constructor, nil
}

// Names returns the registered executable type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newDataTransferExecutable(options ExecutableOptions, logger logging.Logger) *Executable {
	return NewExecutable(
		"dataTransfer",
		"Overwatch receiver data transfer",
		[]string{"overwatchReceiverDataHandling"},
		options, logger)
}

func newProcessingExecutable(options ExecutableOptions, logger logging.Logger) *Executable {
	return NewExecutable(
		"processing",
		"Overwatch processing",
		[]string{"overwatchProcessing"},
		options, logger)
}

func newWebAppExecutable(options ExecutableOptions, logger logging.Logger) *Executable {
	return NewExecutable(
		"webApp",
		"Overwatch web app",
		[]string{"overwatchWebApp"},
		options, logger)
}

func newDQMReceiverExecutable(options ExecutableOptions, logger logging.Logger) *Executable {
	// The argument spelling matches the installed entry point.
	return NewExecutable(
		"dqmReceiver",
		"Overwatch DQM receiver",
		[]string{"overwatchDQMReciever"},
		options, logger)
}

func newZODBExecutable(options ExecutableOptions, logger logging.Logger) *Executable {
	return NewExecutable(
		"zodb",
		"ZODB database server",
		[]string{"runzeo", "-a", "{address}:{port}", "-f", "{databasePath}"},
		options, logger)
}
