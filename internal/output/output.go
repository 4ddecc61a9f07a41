// Package output renders the per-row description, source, and detailed
// calculation strings, and enforces hard length ceilings. Length overflow is
// a blocking error, never silent truncation.
package output

import (
	"fmt"
	"strings"

	"github.com/klimatrix/factor-cli/internal/calc"
	"github.com/klimatrix/factor-cli/internal/model"
)

// TooLongError reports a rendered field exceeding the hard length ceiling.
type TooLongError struct {
	Field    string
	Length   int
	MaxChars int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("output: %s exceeds %d char limit (%d chars); content is never truncated",
		e.Field, e.MaxChars, e.Length)
}

// Assembler builds output strings for resolved rows.
type Assembler struct {
	sourceLabel string
	maxChars    int
}

// New creates an assembler. sourceLabel names the catalog release in source
// strings (e.g. "ecoinvent 3.11").
func New(sourceLabel string, maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Assembler{sourceLabel: sourceLabel, maxChars: maxChars}
}

// DescriptionMatch renders the short description for a direct match.
func (a *Assembler) DescriptionMatch(row *model.InputRow, result *model.CalcResult) (string, error) {
	conversionNote := ""
	if result.Conversion != nil {
		conversionNote = fmt.Sprintf(" [conversion: %s]", result.Conversion.Explanation)
	}

	desc := fmt.Sprintf("1 %s = %s (%s); total: %s t CO2-eq (%s kg / 1000); biogenic: %s t CO2-eq; unit: %s%s",
		row.ReferenceUnit,
		result.ActivityName,
		result.Geography,
		calc.FormatNumber(result.TotalExclBioT),
		calc.FormatNumber(result.TotalExclBioKg),
		calc.FormatNumber(result.BiogenicT),
		result.Unit,
		conversionNote,
	)
	desc = collapseSpaces(desc)

	if len(desc) > a.maxChars {
		return "", &TooLongError{Field: "description", Length: len(desc), MaxChars: a.maxChars}
	}
	return desc, nil
}

// DescriptionDecomposition renders the short description for a decomposition,
// naming the matched activities.
func (a *Assembler) DescriptionDecomposition(row *model.InputRow, result *model.DecompCalcResult) (string, error) {
	parts := make([]string, len(result.Components))
	for i, comp := range result.Components {
		activity := comp.MatchedActivity
		if len(activity) > 40 {
			activity = activity[:40] + "..."
		}
		parts[i] = fmt.Sprintf("%s (%v %s)", activity, comp.AssumedQuantity, comp.AssumedUnit)
	}

	desc := collapseSpaces(fmt.Sprintf("1 %s = breakdown: %s",
		row.ReferenceUnit, strings.Join(parts, " + ")))

	if len(desc) > a.maxChars {
		return "", &TooLongError{Field: "description", Length: len(desc), MaxChars: a.maxChars}
	}
	return desc, nil
}

// Source renders the provenance string listing every dataset id used.
func (a *Assembler) Source(externalIDs []string) (string, error) {
	source := fmt.Sprintf("%s; dataset IDs: %s", a.sourceLabel, strings.Join(externalIDs, ", "))
	if len(source) > a.maxChars {
		return "", &TooLongError{Field: "source", Length: len(source), MaxChars: a.maxChars}
	}
	return source, nil
}

// DetailMatch renders the full calculation trail for a match. Unbounded.
func (a *Assembler) DetailMatch(row *model.InputRow, result *model.CalcResult) string {
	var b strings.Builder
	b.WriteString("=== Detailed Calculation ===\n\n")
	fmt.Fprintf(&b, "Input: %s\n", row.Label)
	fmt.Fprintf(&b, "Product info: %s\n", row.ProductInfo)
	fmt.Fprintf(&b, "Reference unit: %s\n", row.ReferenceUnit)
	fmt.Fprintf(&b, "Region: %s\n\n", regionOrGlobal(row))

	b.WriteString("--- Matched Dataset ---\n")
	fmt.Fprintf(&b, "ID: %s\n", result.ExternalID)
	fmt.Fprintf(&b, "Activity: %s\n", result.ActivityName)
	fmt.Fprintf(&b, "Geography: %s\n", result.Geography)
	fmt.Fprintf(&b, "Unit: %s\n", result.Unit)
	fmt.Fprintf(&b, "Quantity: %v\n", result.Quantity)

	if result.Conversion != nil {
		b.WriteString("\n--- Unit Conversion ---\n")
		fmt.Fprintf(&b, "Reference unit: %s\n", row.ReferenceUnit)
		fmt.Fprintf(&b, "Dataset unit: %s\n", result.Unit)
		fmt.Fprintf(&b, "Conversion factor: %v\n", result.Conversion.Factor)
		fmt.Fprintf(&b, "Explanation: %s\n", result.Conversion.Explanation)
	}

	b.WriteString("\n--- Calculation ---\n")
	fmt.Fprintf(&b, "Biogenic [kg CO2-eq]: %v\n", result.BiogenicKg)
	fmt.Fprintf(&b, "  = %v / 1000 = %v t CO2-eq\n", result.BiogenicKg, result.BiogenicT)
	fmt.Fprintf(&b, "  Formatted: %s t CO2-eq\n\n", calc.FormatNumber(result.BiogenicT))
	fmt.Fprintf(&b, "Total excl. biogenic [kg CO2-eq]: %v\n", result.TotalExclBioKg)
	fmt.Fprintf(&b, "  = %v / 1000 = %v t CO2-eq\n", result.TotalExclBioKg, result.TotalExclBioT)
	fmt.Fprintf(&b, "  Formatted: %s t CO2-eq", calc.FormatNumber(result.TotalExclBioT))

	return b.String()
}

// DetailDecomposition renders the full calculation trail for a decomposition.
func (a *Assembler) DetailDecomposition(row *model.InputRow, result *model.DecompCalcResult) string {
	var b strings.Builder
	b.WriteString("=== Detailed Calculation (Decomposition) ===\n\n")
	fmt.Fprintf(&b, "Input: %s\n", row.Label)
	fmt.Fprintf(&b, "Product info: %s\n", row.ProductInfo)
	fmt.Fprintf(&b, "Reference unit: %s\n", row.ReferenceUnit)
	fmt.Fprintf(&b, "Region: %s\n\n", regionOrGlobal(row))

	b.WriteString("--- Assumptions ---\n")
	for _, assumption := range result.Assumptions {
		fmt.Fprintf(&b, "  - %s\n", assumption)
	}
	if result.MixedUnitsNote != "" {
		fmt.Fprintf(&b, "  - %s\n", result.MixedUnitsNote)
	}

	b.WriteString("\n--- Components ---\n")
	for _, comp := range result.Components {
		fmt.Fprintf(&b, "\n  [%s]\n", comp.Label)
		fmt.Fprintf(&b, "  ID: %s\n", comp.MatchedID)
		fmt.Fprintf(&b, "  Activity: %s\n", comp.MatchedActivity)
		fmt.Fprintf(&b, "  Geography: %s\n", comp.MatchedGeography)
		fmt.Fprintf(&b, "  Quantity: %v %s\n", comp.AssumedQuantity, comp.AssumedUnit)
		fmt.Fprintf(&b, "  Biogenic: %v kg CO2-eq\n", comp.ScaledBiogenicKg)
		fmt.Fprintf(&b, "  Total excl. biogenic: %v kg CO2-eq\n", comp.ScaledTotalKg)
	}

	b.WriteString("\n--- Totals ---\n")
	fmt.Fprintf(&b, "Sum biogenic [kg]: %v\n", result.BiogenicKgSum)
	fmt.Fprintf(&b, "Sum total excl. biogenic [kg]: %v\n\n", result.TotalKgSum)
	fmt.Fprintf(&b, "Biogenic [t CO2-eq]: %v / 1000 = %v\n", result.BiogenicKgSum, result.BiogenicT)
	fmt.Fprintf(&b, "  Formatted: %s\n", calc.FormatNumber(result.BiogenicT))
	fmt.Fprintf(&b, "Total excl. biogenic [t CO2-eq]: %v / 1000 = %v\n", result.TotalKgSum, result.TotalExclBioT)
	fmt.Fprintf(&b, "  Formatted: %s", calc.FormatNumber(result.TotalExclBioT))

	return b.String()
}

func regionOrGlobal(row *model.InputRow) string {
	if row.RegionNorm != "" {
		return row.RegionNorm
	}
	return model.GlobalRegion
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
