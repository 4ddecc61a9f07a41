package oracle

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/model"
)

// Wire types for the oracle's tagged-union JSON response.
type decisionPayload struct {
	Decision  string            `json:"decision"`
	Match     *matchPayload     `json:"match,omitempty"`
	Ambiguous *ambiguousPayload `json:"ambiguous,omitempty"`
	Decompose *decomposePayload `json:"decompose,omitempty"`
}

type matchPayload struct {
	ID string `json:"id"`
}

type ambiguousPayload struct {
	Options []ambiguousOption `json:"options"`
}

type ambiguousOption struct {
	ID       string `json:"id"`
	WhyShort string `json:"why_short"`
}

type decomposePayload struct {
	Assumptions []string           `json:"assumptions"`
	Components  []componentPayload `json:"components"`
}

type componentPayload struct {
	Label           string  `json:"component_label"`
	AssumedQuantity float64 `json:"assumed_quantity"`
	AssumedUnit     string  `json:"assumed_unit"`
	SearchQueryText string  `json:"search_query_text"`
}

type conversionPayload struct {
	ConversionFactor float64 `json:"conversion_factor"`
	Explanation      string  `json:"explanation"`
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// decodeDecision parses and validates a decision response. A match id must be
// in the candidate set; ambiguous options outside the set are dropped with a
// warning. An empty candidate set disables grounding (decomposition-only
// calls supply none).
func decodeDecision(raw string, candidates []model.CandidateResult) (*model.Decision, error) {
	var payload decisionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}

	byID := make(map[string]*model.DatasetRecord, len(candidates))
	for i := range candidates {
		byID[candidates[i].Dataset.ExternalID] = &candidates[i].Dataset
	}

	switch payload.Decision {
	case "match":
		if payload.Match == nil || payload.Match.ID == "" {
			return nil, &MalformedResponseError{Reason: "match decision without id", Raw: raw}
		}
		if len(byID) > 0 {
			if _, ok := byID[payload.Match.ID]; !ok {
				return nil, &GroundingError{ID: payload.Match.ID}
			}
		}
		return &model.Decision{Type: model.DecisionMatch, SelectedID: payload.Match.ID}, nil

	case "ambiguous":
		if payload.Ambiguous == nil || len(payload.Ambiguous.Options) == 0 {
			return nil, &MalformedResponseError{Reason: "ambiguous decision without options", Raw: raw}
		}
		var ranked []model.RankedCandidate
		for i, opt := range payload.Ambiguous.Options {
			ds, ok := byID[opt.ID]
			if len(byID) > 0 && !ok {
				zap.L().Warn("dropping ungrounded ambiguous option", zap.String("id", opt.ID))
				continue
			}
			rc := model.RankedCandidate{
				ExternalID: opt.ID,
				WhyShort:   opt.WhyShort,
				Rank:       i + 1,
			}
			if ds != nil {
				rc.ActivityName = ds.ActivityName
				rc.ProductName = ds.ProductName
				rc.Geography = ds.Geography
				rc.Unit = ds.Unit
			}
			ranked = append(ranked, rc)
		}
		if len(ranked) == 0 {
			return nil, &GroundingError{ID: payload.Ambiguous.Options[0].ID}
		}
		return &model.Decision{Type: model.DecisionAmbiguous, Candidates: ranked}, nil

	case "decompose":
		if payload.Decompose == nil || len(payload.Decompose.Components) == 0 {
			return nil, &MalformedResponseError{Reason: "decompose decision without components", Raw: raw}
		}
		var components []model.DecompComponent
		for _, c := range payload.Decompose.Components {
			if c.Label == "" || c.AssumedUnit == "" || c.SearchQueryText == "" {
				return nil, &MalformedResponseError{Reason: "incomplete decomposition component", Raw: raw}
			}
			components = append(components, model.DecompComponent{
				Label:           c.Label,
				AssumedQuantity: c.AssumedQuantity,
				AssumedUnit:     c.AssumedUnit,
				SearchQueryText: c.SearchQueryText,
			})
		}
		return &model.Decision{
			Type:        model.DecisionDecompose,
			Components:  components,
			Assumptions: payload.Decompose.Assumptions,
		}, nil

	default:
		return nil, &MalformedResponseError{Reason: "unknown decision type: " + payload.Decision, Raw: raw}
	}
}

// decodeConversion parses a unit conversion response.
func decodeConversion(raw string) (*model.UnitConversion, error) {
	var payload conversionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}
	if payload.ConversionFactor == 0 {
		return nil, &MalformedResponseError{Reason: "conversion factor missing or zero", Raw: raw}
	}
	return &model.UnitConversion{
		Factor:      payload.ConversionFactor,
		Explanation: payload.Explanation,
	}, nil
}

// sameUnitSum sums component quantities when all components share a unit.
// Mixed-unit decompositions return ok=false; the sum constraint cannot be
// applied across units.
func sameUnitSum(components []model.DecompComponent) (sum float64, ok bool) {
	if len(components) == 0 {
		return 0, false
	}
	unit := components[0].AssumedUnit
	for _, c := range components {
		if c.AssumedUnit != unit {
			return 0, false
		}
		sum += c.AssumedQuantity
	}
	return sum, true
}
