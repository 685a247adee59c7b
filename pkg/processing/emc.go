package processing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
)

// Conversion from EMCal L1 ADC counts to energy in GeV.
const kEMCL1ADCtoGeV = 0.07874

// Shared histogram name prefix length for EMC histograms. Stripping it yields
// the pretty name shown on the run pages.
const emcHistPrefixLen = 12

// registerEMC wires the EMCal/DCal subsystem into the registry: its
// classification hooks, the QA functions selectable from the QA page, and the
// functions applied to every EMC histogram during a QA pass.
func registerEMC(r *Registry) {
	r.RegisterSubsystem("EMC", SubsystemHooks{
		CreateGroups:  createEMCHistogramGroups,
		CreateStacks:  createEMCHistogramStacks,
		SetOptions:    setEMCHistogramOptions,
		FindFunctions: findFunctionsForEMCHistogram,
	})

	r.RegisterQAFunction("EMC", "properlyPlotPatchSpectra", properlyPlotPatchSpectra)
	r.RegisterQAFunction("EMC", "addEnergyAxisToPatches", addEnergyAxisToPatches)

	r.RegisterAlwaysApply("EMC", properlyPlotPatchSpectra)
	r.RegisterAlwaysApply("EMC", addEnergyAxisToPatches)
}

// createEMCHistogramGroups creates the ordered display categories for the
// EMCal subsystem. Each histogram is categorized once by the first matching
// group, so the super module differentiated groups come first and the most
// inclusive selectors come last.
func createEMCHistogramGroups(subsystem *SubsystemContainer) {
	// Plot by SM
	subsystem.HistGroups = append(subsystem.HistGroups,
		NewHistogramGroupContainer("FEE vs TRU", "FEEvsTRU_SM", "_SM"),
		NewHistogramGroupContainer("FEE vs STU", "FEEvsSTU_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L0 (hits with ADC > 0)", "FastORL0_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L0 Amp (hits weighted with ADC value)", "FastORL0Amp_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L0 Large Amp (hits above 400 ADC)", "FastORL0LargeAmp_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L1 (hits with ADC > 0)", "FastORL1_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L1 Amp (hits weighted with ADC value)", "FastORL1Amp_SM", "_SM"),
		NewHistogramGroupContainer("FastOR L1 Large Amp (hits above 400 ADC)", "FastORL1LargeAmp_SM", "_SM"),
	)
	// Trigger classes
	subsystem.HistGroups = append(subsystem.HistGroups,
		NewHistogramGroupContainer("Gamma Trigger Low", "GAL", ""),
		NewHistogramGroupContainer("Gamma Trigger High", "GAH", ""),
		NewHistogramGroupContainer("Jet Trigger Low", "JEL", ""),
		NewHistogramGroupContainer("Jet Trigger High", "JEH", ""),
		NewHistogramGroupContainer("L0", "EMCL0", ""),
		NewHistogramGroupContainer("Background", "BKG", ""),
	)
	// FastOR
	subsystem.HistGroups = append(subsystem.HistGroups,
		NewHistogramGroupContainer("FastOR", "FastOR", ""))
	// Other EMC
	subsystem.HistGroups = append(subsystem.HistGroups,
		NewHistogramGroupContainer("Other EMC", "EMC", ""))

	// A catch all group only makes sense when this run actually has an EMC
	// file from a dedicated receiver. Otherwise it would collect a pile of
	// unrelated histograms.
	if subsystem.Subsystem == subsystem.FileLocationSubsystem {
		subsystem.HistGroups = append(subsystem.HistGroups,
			NewHistogramGroupContainer("Non EMC", "", ""))
	}
}

// checkForEMCHistStack folds a matching EMCal histogram and its DCal partner
// into one stack so both can be shown on the same canvas. The selector must
// contain "EMCal" so that the stack is only created when the EMCal histogram
// comes up; if the DCal histogram comes up first it is skipped here and then
// removed when the stack is created.
//
// Returns true when the histogram was folded into a stack and must not be
// stored individually.
func checkForEMCHistStack(subsystem *SubsystemContainer, histName string, skipList map[string]bool, selector string) bool {
	if !strings.Contains(histName, selector) {
		return false
	}
	partnerName := strings.Replace(histName, "EMCal", "DCal", 1)
	if !subsystem.HistsInFile.Contains(partnerName) {
		return false
	}

	memberNames := []string{histName, partnerName}
	for _, name := range memberNames {
		skipList[name] = true
		// Remove members if they were already stored (the EMCal hist should
		// not be, but the DCal hist could be) so they are only displayed in
		// the stack.
		subsystem.HistsAvailable.Delete(name)
	}
	subsystem.HistsAvailable.Set(histName, NewHistogramContainer(histName, memberNames))
	return true
}

// createEMCHistogramStacks moves histograms from HistsInFile to
// HistsAvailable, combining paired EMCal and DCal histograms into stacks.
// Every histogram is assigned to at most one stack.
func createEMCHistogramStacks(subsystem *SubsystemContainer) {
	skipList := make(map[string]bool)
	for _, histName := range subsystem.HistsInFile.Keys() {
		// Already folded into an earlier stack.
		if skipList[histName] {
			continue
		}
		// Stack for EMCalMaxPatchAmp. The selector must contain "EMCal" for
		// the pairing to work.
		if checkForEMCHistStack(subsystem, histName, skipList, "EMCalMaxPatchAmpEMC") {
			continue
		}
		// Stack for EMCalPatchAmp.
		if checkForEMCHistStack(subsystem, histName, skipList, "EMCalPatchAmpEMC") {
			continue
		}

		// Not part of a stack, store it individually.
		subsystem.HistsAvailable.Set(histName, subsystem.HistsInFile.Get(histName))
	}
}

// setEMCHistogramOptions applies subsystem-wide options which do not need the
// histogram payload: pretty names without the shared "EMC" prefix, "colz"
// draw options for 2D histograms, and the subsystem processing preferences.
func setEMCHistogramOptions(subsystem *SubsystemContainer) {
	for _, name := range subsystem.HistsAvailable.Keys() {
		hist := subsystem.HistsAvailable.Get(name)

		// Truncate the shared prefix off of EMC hists. The check protects
		// non-EMC hists against truncation.
		if strings.Contains(hist.HistName, "EMC") && len(hist.HistName) > emcHistPrefixLen {
			hist.PrettyName = hist.HistName[emcHistPrefixLen:]
		}

		if hist.Data.Is2D() {
			hist.DrawOptions += " colz"
		}
	}

	// Scaling by the number of events is a subsystem wide preference which
	// the processing functions consult. It is not performed automatically.
	subsystem.ProcessingOptions.ScaleHists = true
	// 0 selects the per-histogram defaults in fastOROptions.
	subsystem.ProcessingOptions.HotChannelThreshold = 0
}

// findFunctionsForEMCHistogram steers one histogram to its processing
// functions based on its name. The rules are ordered and non-exclusive, so a
// histogram can collect functions from several of them. The selection rules
// have grown fairly intricate over time (collision systems, renamed
// histograms), so modify them with care.
func findFunctionsForEMCHistogram(subsystem *SubsystemContainer, hist *HistogramContainer) {
	assignFromRules(emcFunctionRules(), hist)
}

// emcFunctionRules returns the ordered rule list used by
// findFunctionsForEMCHistogram.
func emcFunctionRules() []functionRule {
	return []functionRule{
		// General EMC options apply to everything.
		{
			match: func(string) bool { return true },
			fns:   []ProcessingFunc{generalEMCOptions},
		},
		// Histograms broken out by super module.
		{
			match: func(name string) bool { return strings.Contains(name, "SM") },
			fns:   []ProcessingFunc{smOptions},
		},
		// FEE plots need a restricted view range on top of the SM handling.
		{
			match: func(name string) bool {
				return strings.Contains(name, "SM") && strings.Contains(name, "FEE")
			},
			fns: []ProcessingFunc{feeSMOptions},
		},
		// Patch edge position plots.
		{
			match: func(name string) bool { return strings.Contains(name, "EdgePos") },
			fns:   []ProcessingFunc{edgePosOptions},
		},
		// Summary FastOR hists. Exact name matches only, so the per-SM
		// variants stay with the SM handling above.
		{
			match: isSummaryFastORHist,
			fns:   []ProcessingFunc{fastOROptions},
		},
		// Patch amplitude plots. EMCal and DCal histograms are normally
		// paired into a stack, but unpaired ones must still be printed:
		// "Subtracted" keeps unpaired subtracted histograms and "EMCRE"
		// keeps early unpaired histograms out of the stack handling.
		{
			match: func(name string) bool {
				return strings.Contains(name, "PatchAmp") &&
					!strings.Contains(name, "Subtracted") &&
					!strings.Contains(name, "EMCRE")
			},
			fns: []ProcessingFunc{patchAmpOptions},
		},
		// Legacy support. Newer instances of these plots are handled by
		// patchAmpOptions, the names only match for older data.
		{
			match: matchesAny("EMCalPatchEnergy", "DCalPatchEnergy", "EMCalPatchAmp", "EMCalMaxPatchAmp", "DCalPatchAmp", "DCalMaxPatchAmp"),
			fns:   []ProcessingFunc{properlyPlotPatchSpectra},
		},
		{
			match: matchesAny("EMCalPatchAmp", "EMCalMaxPatchAmp", "DCalPatchAmp", "DCalMaxPatchAmp"),
			fns:   []ProcessingFunc{addEnergyAxisToPatches},
		},
	}
}

// isSummaryFastORHist reports whether the name is exactly one of the summary
// FastOR histograms: the product of the L0/L1 levels and the plain, Amp and
// LargeAmp variants.
func isSummaryFastORHist(histName string) bool {
	levels := []string{"EMCTRQA_histFastORL0", "EMCTRQA_histFastORL1"}
	types := []string{"", "Amp", "LargeAmp"}
	for _, level := range levels {
		for _, typ := range types {
			if histName == level+typ {
				return true
			}
		}
	}
	return false
}

// matchesAny builds a predicate matching names containing any of the given
// substrings.
func matchesAny(substrings ...string) func(string) bool {
	return func(histName string) bool {
		for _, substring := range substrings {
			if strings.Contains(histName, substring) {
				return true
			}
		}
		return false
	}
}

// requireData returns the histogram payload or an error when the histogram
// was classified without its data being loaded.
func requireData(hist *HistogramContainer) (*HistogramData, error) {
	if hist.Data == nil {
		return nil, errors.NewValidationError(
			fmt.Sprintf("histogram %s has no data loaded", hist.HistName), nil)
	}
	return hist.Data, nil
}

// scaleByEvents divides every bin by the number of collected events.
func scaleByEvents(subsystem *SubsystemContainer, data *HistogramData) error {
	if subsystem.NEvents <= 0 {
		return errors.NewValidationError(
			fmt.Sprintf("cannot scale by events, subsystem %s has %d events", subsystem.Subsystem, subsystem.NEvents), nil)
	}
	scale := 1.0 / float64(subsystem.NEvents)
	for i := range data.Bins {
		data.Bins[i] *= scale
	}
	return nil
}

// generalEMCOptions sets the general display options that need the underlying
// histogram payload: hiding the title and a log z axis for 2D histograms.
func generalEMCOptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	hist.Information["Show Title"] = false
	if data.Is2D() {
		hist.Information["Log Z"] = true
	}
	return nil
}

// smOptions handles histograms which are broken out by super module: scale by
// events when requested and label the plot with its SM number.
func smOptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	if options.ScaleHists {
		if err := scaleByEvents(subsystem, data); err != nil {
			return err
		}
	}
	labelSupermodule(hist)
	return nil
}

// labelSupermodule titles a per super module histogram with its SM number,
// extracted from the trailing "_SM<n>" of the name.
func labelSupermodule(hist *HistogramContainer) {
	tail := hist.HistName
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if !strings.Contains(tail, "_SM") {
		return
	}
	smNumber := hist.HistName[strings.Index(hist.HistName, "_SM")+3:]
	hist.Information["Title"] = fmt.Sprintf("SM %s", smNumber)
	hist.Information["Show Title"] = true
}

// feeSMOptions restricts Front End Electronics histograms to the useful part
// of their range and switches the z axis to log.
func feeSMOptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	hist.Information["Log Z"] = true
	hist.Information["X Range"] = []float64{0, 250}
	hist.Information["Y Range"] = []float64{0, 20}
	return nil
}

// edgePosOptions handles patch edge position histograms: scale by events when
// requested and mark 2D plots for a TRU boundary grid.
func edgePosOptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	zAxisLabel := "entries"
	if options.ScaleHists {
		if err := scaleByEvents(subsystem, data); err != nil {
			return err
		}
		zAxisLabel = "entries / events"
	}
	hist.Information["Z Axis Label"] = zAxisLabel

	if data.Is2D() {
		hist.Information["TRU Grid"] = true
	}
	return nil
}

// fastOROptions handles the summary FastOR histograms. The 2D variants get a
// TRU grid and event scaling. The 1D variants are scanned for hot channels:
// every cell whose scaled content exceeds the threshold is recorded by its
// fastOR ID so the web app can display the offenders. The default thresholds
// depend on the histogram variant and are overridden by the processing
// options when a threshold was set there; thresholds passed in from the web
// app are scaled down by 1e-3 because the raw values are hard to display.
func fastOROptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	if data.Is2D() {
		hist.Information["TRU Grid"] = true
		if options.ScaleHists {
			if err := scaleByEvents(subsystem, data); err != nil {
				return err
			}
		}
		hist.Information["Z Axis Label"] = "entries / events"
		return nil
	}

	var threshold float64
	switch {
	case strings.Contains(hist.HistName, "LargeAmp"):
		threshold = 1e-7
	case strings.Contains(hist.HistName, "Amp"):
		threshold = 10000
	default:
		threshold = 1e-2
	}
	if options.HotChannelThreshold > 0 {
		// Map the displayed range 0 to 1e3 back to 1e-3 to 1.
		threshold = options.HotChannelThreshold / 1000.0
	}

	if options.ScaleHists {
		if err := scaleByEvents(subsystem, data); err != nil {
			return err
		}
	}

	// Bins are numbered from 1, fastOR IDs from 0.
	absIDList := []int{}
	for iBin := 1; iBin <= data.NBinsX; iBin++ {
		if data.Bins[iBin-1] > threshold {
			absIDList = append(absIDList, iBin-1)
		}
	}

	hist.Information["Threshold"] = threshold
	hist.Information["Fast OR Hot Channels ID"] = absIDList
	return nil
}

// patchAmpOptions handles patch ADC amplitude spectra. It supersedes
// properlyPlotPatchSpectra and reuses addEnergyAxisToPatches. Stacks of the
// paired EMCal and DCal spectra additionally get a legend and event scaling.
func patchAmpOptions(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	hist.Information["Log Y"] = true
	hist.Information["Grid"] = true

	if len(hist.MemberHists) > 0 {
		hist.Information["Legend"] = []string{"EMCal", "DCal"}

		if options.ScaleHists {
			if err := scaleByEvents(subsystem, data); err != nil {
				return err
			}
		}
		hist.Information["Y Axis Label"] = "entries / events"

		if err := addEnergyAxisToPatches(subsystem, hist, options); err != nil {
			return err
		}
	}
	return nil
}

// properlyPlotPatchSpectra plots patch ADC amplitude spectra on a log y axis
// and a grid. It applies to the legacy {EMCal,DCal}(Max)Patch{Energy,Amp}
// histograms.
func properlyPlotPatchSpectra(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	hist.Information["Log Y"] = true
	hist.Information["Grid"] = true
	return nil
}

// addEnergyAxisToPatches adds a second x axis to patch ADC amplitude spectra
// showing the conversion from ADC counts to energy, which displays the
// spectra in a more familiar unit.
func addEnergyAxisToPatches(subsystem *SubsystemContainer, hist *HistogramContainer, options ProcessingOptions) error {
	data, err := requireData(hist)
	if err != nil {
		return err
	}

	hist.Information["Energy Axis Title"] = "Energy (GeV)"
	hist.Information["Energy Axis Range (GeV)"] = []float64{
		data.XMin * kEMCL1ADCtoGeV,
		data.XMax * kEMCL1ADCtoGeV,
	}
	return nil
}

// sortSMsInPhysicalOrder sorts per super module histogram names into the
// order in which the super modules are physically constructed, bottom-top
// and left-right:
//
//	EMCal:      DCal:
//	10 11       18 19
//	 8  9       16 17
//	 6  7       14 15
//	 4  5       12 13
//	 2  3
//	 0  1
//
// sortKey is the substring preceding the SM number in the names, normally the
// group's PlotInGridSelectionPattern. Names are first sorted into descending
// numeric order and then pairwise swapped to match the convention above.
func sortSMsInPhysicalOrder(histList []string, sortKey string) []string {
	smNumber := func(name string) int {
		n, err := strconv.Atoi(name[strings.Index(name, sortKey)+len(sortKey):])
		if err != nil {
			return -1
		}
		return n
	}

	sorted := make([]string, len(histList))
	copy(sorted, histList)
	sort.Slice(sorted, func(i, j int) bool {
		return smNumber(sorted[i]) > smNumber(sorted[j])
	})

	result := make([]string, 0, len(sorted))
	for i := 0; i < len(sorted); i += 2 {
		if i != len(sorted)-1 {
			result = append(result, sorted[i+1])
		}
		result = append(result, sorted[i])
	}
	return result
}
