package processing

import (
	"fmt"
	"strings"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
	"github.com/overwatch-dqm/overwatch/pkg/logging"
)

// SubsystemHooks are the detector-specific entry points of the classification
// pipeline. Each subsystem registers one set at startup; there is no runtime
// module discovery.
type SubsystemHooks struct {
	// CreateGroups populates the ordered display category list.
	CreateGroups func(subsystem *SubsystemContainer)

	// CreateStacks moves histograms from HistsInFile to HistsAvailable,
	// folding related histograms into stacks along the way.
	CreateStacks func(subsystem *SubsystemContainer)

	// SetOptions applies subsystem-wide histogram options which do not need
	// the underlying histogram payload.
	SetOptions func(subsystem *SubsystemContainer)

	// FindFunctions assigns processing functions to one histogram based on
	// its name.
	FindFunctions func(subsystem *SubsystemContainer, hist *HistogramContainer)
}

// functionRule pairs a histogram name predicate with the handlers it assigns.
// Rules within one category are ordered; categories are independent, so a
// histogram can collect handlers from several rules.
type functionRule struct {
	match func(histName string) bool
	fns   []ProcessingFunc
}

// Registry holds the per-subsystem processing hooks and named QA functions.
// It is constructed once at startup and passed explicitly to consumers.
type Registry struct {
	hooks       map[string]SubsystemHooks
	qaFunctions map[string]map[string]ProcessingFunc
	alwaysApply map[string][]ProcessingFunc
	logger      logging.Logger
}

// NewRegistry creates a registry with the built-in subsystems registered.
func NewRegistry(logger logging.Logger) *Registry {
	r := &Registry{
		hooks:       make(map[string]SubsystemHooks),
		qaFunctions: make(map[string]map[string]ProcessingFunc),
		alwaysApply: make(map[string][]ProcessingFunc),
		logger:      logger,
	}
	registerEMC(r)
	return r
}

// RegisterSubsystem registers the classification hooks for a subsystem.
func (r *Registry) RegisterSubsystem(subsystem string, hooks SubsystemHooks) {
	r.hooks[subsystem] = hooks
}

// RegisterQAFunction registers a named QA function for a subsystem, selectable
// from the QA page.
func (r *Registry) RegisterQAFunction(subsystem, name string, fn ProcessingFunc) {
	if r.qaFunctions[subsystem] == nil {
		r.qaFunctions[subsystem] = make(map[string]ProcessingFunc)
	}
	r.qaFunctions[subsystem][name] = fn
}

// RegisterAlwaysApply registers a function applied to every histogram of a
// subsystem during processing.
func (r *Registry) RegisterAlwaysApply(subsystem string, fn ProcessingFunc) {
	r.alwaysApply[subsystem] = append(r.alwaysApply[subsystem], fn)
}

// Hooks returns the classification hooks for a subsystem.
func (r *Registry) Hooks(subsystem string) (SubsystemHooks, error) {
	hooks, ok := r.hooks[subsystem]
	if !ok {
		return SubsystemHooks{}, errors.NewNotFoundError(
			fmt.Sprintf("no processing hooks registered for subsystem %s", subsystem), nil)
	}
	return hooks, nil
}

// QAFunction returns the named QA function for a subsystem.
func (r *Registry) QAFunction(subsystem, name string) (ProcessingFunc, error) {
	fn, ok := r.qaFunctions[subsystem][name]
	if !ok {
		return nil, errors.NewNotFoundError(
			fmt.Sprintf("no QA function %s registered for subsystem %s", name, subsystem), nil)
	}
	return fn, nil
}

// Prepare runs the classification pipeline for a subsystem: create display
// groups, fold stacks, apply subsystem-wide options, sort histograms into
// groups (first matching group wins, groups evaluated in registration order),
// and assign processing functions to every available histogram.
func (r *Registry) Prepare(subsystem *SubsystemContainer) error {
	hooks, err := r.Hooks(subsystem.Subsystem)
	if err != nil {
		return err
	}

	hooks.CreateGroups(subsystem)
	hooks.CreateStacks(subsystem)
	hooks.SetOptions(subsystem)

	for _, name := range subsystem.HistsAvailable.Keys() {
		hist := subsystem.HistsAvailable.Get(name)

		r.sortHistIntoGroup(subsystem, name)
		hooks.FindFunctions(subsystem, hist)
	}

	r.logger.Debugf("Prepared subsystem %s: %d hists in file, %d available, %d groups",
		subsystem.Subsystem, subsystem.HistsInFile.Len(), subsystem.HistsAvailable.Len(),
		len(subsystem.HistGroups))

	return nil
}

// sortHistIntoGroup assigns one histogram to the first group whose selector
// matches. Groups must therefore be ordered from most to least specific, with
// any catch-all last.
func (r *Registry) sortHistIntoGroup(subsystem *SubsystemContainer, histName string) {
	for _, group := range subsystem.HistGroups {
		if strings.Contains(histName, group.Selector) {
			group.HistList = append(group.HistList, histName)
			return
		}
	}
	r.logger.Debugf("Histogram %s matched no display group, subsystem: %s", histName, subsystem.Subsystem)
}

// ApplyFunctions runs the handlers assigned to a histogram, in order,
// stopping at the first failure.
func ApplyFunctions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	for _, fn := range hist.FunctionsToApply {
		if err := fn(subsystem, hist, options); err != nil {
			return err
		}
	}
	return nil
}

// CheckHist applies the subsystem's always-apply functions to a histogram,
// mirroring the per-histogram QA pass of a processing run.
func (r *Registry) CheckHist(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	for _, fn := range r.alwaysApply[subsystem.Subsystem] {
		if err := fn(subsystem, hist, options); err != nil {
			return err
		}
	}
	return nil
}

// assignFromRules evaluates every rule of an ordered rule list against the
// histogram name and appends the handlers of all matching rules.
func assignFromRules(rules []functionRule, hist *HistogramContainer) {
	for _, rule := range rules {
		if rule.match(hist.HistName) {
			hist.FunctionsToApply = append(hist.FunctionsToApply, rule.fns...)
		}
	}
}
