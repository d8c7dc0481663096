package models

import (
	"encoding/json"
	"time"
)

// TestCase is one input/expected-output pair of a puzzle. Both sides are
// arbitrary JSON values.
type TestCase struct {
	Input          json.RawMessage `json:"input"`
	ExpectedOutput json.RawMessage `json:"output"`
}

// Puzzle is the coding problem assigned to a duel. It never changes once
// assigned to a room.
type Puzzle struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	StarterTemplate string     `json:"starter_code"`
	TestCases       []TestCase `json:"testcases"`
}

// Verdict is the sandbox report for one participant's submission.
type Verdict struct {
	PassedCount     int     `json:"passed"`
	TotalCount      int     `json:"total"`
	ExecutionTimeMs int64   `json:"exec_time_ms"`
	SourceLength    int     `json:"code_length"`
	Error           *string `json:"error"`
}

// ErrorVerdict builds a zero-pass verdict carrying msg as its error.
func ErrorVerdict(msg string, totalCount, sourceLength int) Verdict {
	return Verdict{
		PassedCount:  0,
		TotalCount:   totalCount,
		SourceLength: sourceLength,
		Error:        &msg,
	}
}

// Score is the 0-100 result derived from a verdict.
type Score struct {
	Correctness float64 `json:"correctness"`
	Speed       float64 `json:"speed"`
	Length      float64 `json:"length"`
	Total       float64 `json:"total"`
}

// DuelState defines where a duel is in its lifecycle.
type DuelState string

const (
	DuelStateEmpty          DuelState = "EMPTY"
	DuelStateOneJoined      DuelState = "ONE_JOINED"
	DuelStateTwoJoined      DuelState = "TWO_JOINED"
	DuelStateFirstSubmitted DuelState = "FIRST_SUBMITTED"
	DuelStateResolved       DuelState = "RESOLVED"
)

// ResolutionReason explains why a duel was resolved.
type ResolutionReason string

const (
	ReasonBothSubmitted       ResolutionReason = "both_submitted"
	ReasonTimeoutSecondPlayer ResolutionReason = "timeout_second_player"
)

// DuelSnapshot is a read-only view of a duel, used for reconnect sync and the
// room state endpoint.
type DuelSnapshot struct {
	RoomID             string             `json:"room_id"`
	State              DuelState          `json:"state"`
	Participants       []string           `json:"participants"`
	Puzzle             *Puzzle            `json:"puzzle,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	Submitted          []string           `json:"submitted"`
	FirstSubmissionAt  *time.Time         `json:"first_submission_at,omitempty"`
	SubmissionDeadline *time.Time         `json:"submission_deadline,omitempty"`
	Resolved           bool               `json:"resolved"`
	Winner             string             `json:"winner,omitempty"`
	Scores             map[string]Score   `json:"scores,omitempty"`
	Reason             ResolutionReason   `json:"reason,omitempty"`
	Verdicts           map[string]Verdict `json:"verdicts,omitempty"`
}
