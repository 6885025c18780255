package validation

import "cloud.google.com/go/civil"

// Config holds the thresholds of the validation stage.
type Config struct {
	// ToleranceDays is the largest accepted distance, in whole days, between
	// an invoice date and the installation date. The bound is inclusive.
	ToleranceDays int
	// MinTextLength is the shortest recognized text (trimmed, in runes) worth
	// searching for dates.
	MinTextLength int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ToleranceDays: 21,
		MinTextLength: 5,
	}
}

// Decision is the verdict of the ToleranceValidator.
type Decision struct {
	Status         Status
	MatchingDate   *civil.Date
	DaysDifference *int
}

// ToleranceValidator decides whether any candidate date corroborates the
// installation date.
type ToleranceValidator struct {
	toleranceDays int
}

// NewToleranceValidator creates a validator. A negative tolerance is treated
// as zero.
func NewToleranceValidator(toleranceDays int) *ToleranceValidator {
	if toleranceDays < 0 {
		toleranceDays = 0
	}
	return &ToleranceValidator{toleranceDays: toleranceDays}
}

// Validate scans candidates in order and approves on the first one within the
// tolerance window. It does not look for the closest candidate.
func (v *ToleranceValidator) Validate(installation civil.Date, candidates []civil.Date) Decision {
	if len(candidates) == 0 {
		return Decision{Status: StatusInProgress}
	}

	for _, c := range candidates {
		diff := abs(c.DaysSince(installation))
		if diff <= v.toleranceDays {
			match := c
			return Decision{
				Status:         StatusApproved,
				MatchingDate:   &match,
				DaysDifference: &diff,
			}
		}
	}

	return Decision{Status: StatusRejected}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
