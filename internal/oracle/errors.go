package oracle

import "fmt"

// MalformedResponseError reports a response that could not be decoded into a
// valid decision.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("oracle: malformed response: %s", e.Reason)
}

// GroundingError reports an identifier the oracle invented, i.e. one absent
// from the candidate set it was given.
type GroundingError struct {
	ID string
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("oracle: ungrounded identifier: %s", e.ID)
}

// SumError reports a decomposition whose component quantities do not sum to
// 1.0 within tolerance.
type SumError struct {
	Sum float64
}

func (e *SumError) Error() string {
	return fmt.Sprintf("oracle: decomposition quantities sum to %.3f, expected 1.0 within [%.2f, %.2f]",
		e.Sum, SumLower, SumUpper)
}
