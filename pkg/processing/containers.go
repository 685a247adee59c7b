package processing

// ProcessingOptions enumerates the per-subsystem processing preferences that
// histogram handlers consult. Time-slice reprocessing may pass a copy with
// different values than the ones stored on the subsystem.
type ProcessingOptions struct {
	// ScaleHists requests scaling of bin contents by the number of events.
	ScaleHists bool

	// HotChannelThreshold overrides the per-histogram hot channel threshold
	// when positive. The web app passes it scaled up by 1000 to keep the
	// displayed numbers readable.
	HotChannelThreshold float64
}

// HistogramData is the minimal numeric payload a histogram carries through
// classification: bin contents and axis geometry. Bin (x, y) is stored at
// index (x-1) + (y-1)*NBinsX.
type HistogramData struct {
	NBinsX int
	NBinsY int
	XMin   float64
	XMax   float64
	Bins   []float64
}

// Is2D reports whether the histogram has a second binned axis.
func (d *HistogramData) Is2D() bool {
	return d != nil && d.NBinsY > 1
}

// ProcessingFunc is the capability interface implemented by every histogram
// handler: annotate or transform one histogram of a subsystem.
type ProcessingFunc func(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error

// HistogramContainer wraps one monitoring histogram (or a stack of them)
// together with its display annotations and the handlers assigned to it.
type HistogramContainer struct {
	HistName    string
	PrettyName  string
	DrawOptions string

	// FunctionsToApply is the ordered handler list assigned during
	// classification and executed when the histogram is processed.
	FunctionsToApply []ProcessingFunc

	// Information holds annotation key/values surfaced alongside the
	// histogram (thresholds, hot channel lists, axis hints).
	Information map[string]interface{}

	// MemberHists names the individual histograms of a stack. Empty for a
	// plain histogram.
	MemberHists []string

	Data *HistogramData
}

// NewHistogramContainer creates a container for histName. memberHists is nil
// for a plain histogram, or the stacked histogram names for a stack.
func NewHistogramContainer(histName string, memberHists []string) *HistogramContainer {
	return &HistogramContainer{
		HistName:    histName,
		PrettyName:  histName,
		Information: make(map[string]interface{}),
		MemberHists: memberHists,
	}
}

// HistogramGroupContainer collects histograms under one display category,
// selected by substring match against the histogram name.
type HistogramGroupContainer struct {
	PrettyName string
	Selector   string

	// PlotInGridSelectionPattern, when set, is the prefix stripped from
	// member names to obtain their grid sort key.
	PlotInGridSelectionPattern string

	HistList []string
}

// NewHistogramGroupContainer creates a group with the given display name and
// name selector.
func NewHistogramGroupContainer(prettyName, selector string, plotInGridSelectionPattern string) *HistogramGroupContainer {
	return &HistogramGroupContainer{
		PrettyName:                 prettyName,
		Selector:                   selector,
		PlotInGridSelectionPattern: plotInGridSelectionPattern,
	}
}

// SubsystemContainer holds everything known about one detector subsystem for
// the run being processed.
type SubsystemContainer struct {
	// Subsystem is the three letter subsystem identifier (e.g. "EMC").
	Subsystem string

	// FileLocationSubsystem identifies which subsystem's receiver produced
	// the input file; it differs from Subsystem when the data is borrowed.
	FileLocationSubsystem string

	// HistsInFile are the histograms found in the input file, in file order.
	HistsInFile *HistogramMap

	// HistsAvailable are the histograms selected for display, in insertion
	// order, after stack creation has folded members together.
	HistsAvailable *HistogramMap

	// HistGroups is the ordered display category list; assignment is
	// first-match-wins top to bottom.
	HistGroups []*HistogramGroupContainer

	ProcessingOptions ProcessingOptions

	NEvents int
}

// NewSubsystemContainer creates an empty subsystem for the given identifiers.
func NewSubsystemContainer(subsystem, fileLocationSubsystem string, nEvents int) *SubsystemContainer {
	return &SubsystemContainer{
		Subsystem:             subsystem,
		FileLocationSubsystem: fileLocationSubsystem,
		HistsInFile:           NewHistogramMap(),
		HistsAvailable:        NewHistogramMap(),
		NEvents:               nEvents,
	}
}

// HistogramMap is a mapping from histogram name to container which preserves
// insertion order, matching the file order the histograms arrived in.
type HistogramMap struct {
	keys   []string
	values map[string]*HistogramContainer
}

// NewHistogramMap creates an empty ordered histogram map.
func NewHistogramMap() *HistogramMap {
	return &HistogramMap{
		values: make(map[string]*HistogramContainer),
	}
}

// Set stores hist under name, appending to the order on first insertion.
func (m *HistogramMap) Set(name string, hist *HistogramContainer) {
	if _, exists := m.values[name]; !exists {
		m.keys = append(m.keys, name)
	}
	m.values[name] = hist
}

// Get returns the container stored under name, or nil.
func (m *HistogramMap) Get(name string) *HistogramContainer {
	return m.values[name]
}

// Contains reports whether name is present.
func (m *HistogramMap) Contains(name string) bool {
	_, exists := m.values[name]
	return exists
}

// Delete removes name; absent names are a no-op.
func (m *HistogramMap) Delete(name string) {
	if _, exists := m.values[name]; !exists {
		return
	}
	delete(m.values, name)
	for i, key := range m.keys {
		if key == name {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the names in insertion order.
func (m *HistogramMap) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of stored histograms.
func (m *HistogramMap) Len() int {
	return len(m.keys)
}
