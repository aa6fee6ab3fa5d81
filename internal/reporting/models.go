package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

// CallsSummary counts the user's calls started within the range.
//
// Outgoing and Incoming partition TotalCalls. Answered, Missed, Rejected and
// InProgress are disjoint; an outgoing call nobody picked up counts as Missed.
type CallsSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`

	AnsweredCalls   int `json:"answered_calls"`
	MissedCalls     int `json:"missed_calls"`
	RejectedCalls   int `json:"rejected_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	AudioCalls int `json:"audio_calls"`
	VideoCalls int `json:"video_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// Truncated is set when older calls in the range were not scanned.
	Truncated bool `json:"truncated,omitempty"`
}
