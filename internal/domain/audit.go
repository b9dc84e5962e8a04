package domain

import "time"

// RecordedResult is one verification outcome retained for reporting.
type RecordedResult struct {
	ID         string             `json:"id"`
	RecordedAt time.Time          `json:"recorded_at"`
	Result     VerificationResult `json:"result"`
}
