package validation

import "cloud.google.com/go/civil"

// Status is the outcome of a warranty validation.
type Status string

const (
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusInProgress Status = "IN_PROGRESS"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusInProgress:
		return true
	}
	return false
}

// Result is the full outcome of validating one invoice image against an
// installation date. MatchingDate and DaysDifference are only set when the
// status is APPROVED.
type Result struct {
	Status         Status       `json:"status"`
	MatchingDate   *civil.Date  `json:"matchingDate"`
	DaysDifference *int         `json:"daysDifference"`
	ExtractedDates []civil.Date `json:"extractedDates"`
	RawText        string       `json:"rawText"`
	Error          string       `json:"error,omitempty"`
}

func inProgress(rawText, msg string) Result {
	return Result{
		Status:         StatusInProgress,
		ExtractedDates: []civil.Date{},
		RawText:        rawText,
		Error:          msg,
	}
}
