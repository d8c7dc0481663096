// Package scoring turns sandbox verdicts into 0-100 duel scores.
//
// A score has three components. Correctness is worth 70 points and is the
// share of passed test cases. Speed and length are worth 15 points each and
// are normalized against the slower/longer of the two submissions, so the
// fastest and shortest solution keeps the most points. Before the opponent
// has submitted there is nothing to normalize against and both components are
// awarded in full.
package scoring

import (
	"math"

	"github.com/mcdev12/codeduel/go/internal/models"
)

const (
	CorrectnessWeight = 70.0
	SpeedWeight       = 15.0
	LengthWeight      = 15.0

	// TieMarker is reported as the winner when both totals are equal.
	TieMarker = "TIE"
)

// Result holds comparative scores for both participants and the winner.
type Result struct {
	Scores map[string]models.Score `json:"scores"`
	Winner string                  `json:"winner"`
}

// Score computes subject's score. When opponent is nil the score is
// self-relative.
func Score(subject models.Verdict, opponent *models.Verdict) models.Score {
	correctness := correctnessPoints(subject)

	speed, length := SpeedWeight, LengthWeight
	if opponent != nil {
		subjectTime := float64(nonNegative64(subject.ExecutionTimeMs))
		subjectLen := float64(nonNegative(subject.SourceLength))

		maxTime := math.Max(math.Max(subjectTime, float64(nonNegative64(opponent.ExecutionTimeMs))), 1)
		maxLen := math.Max(math.Max(subjectLen, float64(nonNegative(opponent.SourceLength))), 1)

		speed = (1 - subjectTime/maxTime) * SpeedWeight
		length = (1 - subjectLen/maxLen) * LengthWeight
	}

	total := clamp(correctness+speed+length, 0, 100)

	return models.Score{
		Correctness: round2(correctness),
		Speed:       round2(speed),
		Length:      round2(length),
		Total:       round2(total),
	}
}

// Compare scores two verdicts against each other and decides the winner.
// The result does not depend on argument order.
func Compare(aID string, a models.Verdict, bID string, b models.Verdict) Result {
	aScore := Score(a, &b)
	bScore := Score(b, &a)
	return Result{
		Scores: map[string]models.Score{
			aID: aScore,
			bID: bScore,
		},
		Winner: Decide(aID, aScore, bID, bScore),
	}
}

// Decide returns the id with the strictly higher total, or TieMarker.
func Decide(aID string, a models.Score, bID string, b models.Score) string {
	switch {
	case a.Total > b.Total:
		return aID
	case b.Total > a.Total:
		return bID
	default:
		return TieMarker
	}
}

func correctnessPoints(v models.Verdict) float64 {
	if v.TotalCount <= 0 {
		return 0
	}
	ratio := clamp(float64(v.PassedCount)/float64(v.TotalCount), 0, 1)
	return ratio * CorrectnessWeight
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func nonNegative64(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
