// Package srs implements the SM-2 spaced-repetition update rule driving
// per-question review scheduling.
package srs

import (
	"math"
	"time"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

const (
	// InitialEasiness is the easiness factor assigned on first success.
	InitialEasiness = 2.5
	// MinEasiness is the floor the easiness factor is clamped to.
	MinEasiness = 1.3
	// FirstIntervalDays follows the first successful repetition.
	FirstIntervalDays = 2.0
	// SecondIntervalDays follows the second successful repetition.
	SecondIntervalDays = 6.0
	// ResetIntervalDays is ten minutes expressed in day units, used after
	// a failed recall.
	ResetIntervalDays = 10.0 / (24 * 60)
	// PassingQuality separates successful recall (>=3) from failure.
	PassingQuality = 3
)

// Review applies one recall outcome to the scheduling state. prev is nil
// on the first answer for a (student, question) pair. quality is clamped
// to 0..5. Interval growth past the second repetition multiplies by the
// dynamic easiness factor.
func Review(prev *models.ReviewState, quality int, now time.Time) models.ReviewState {
	if quality < 0 {
		quality = 0
	}
	if quality > 5 {
		quality = 5
	}

	if prev == nil {
		return first(quality, now)
	}

	next := *prev
	next.Easiness = adjustEasiness(prev.Easiness, quality)

	if quality < PassingQuality {
		next.Repetitions = 0
		next.IntervalDays = ResetIntervalDays
	} else {
		next.Repetitions = prev.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = FirstIntervalDays
		case 2:
			next.IntervalDays = SecondIntervalDays
		default:
			next.IntervalDays = prev.IntervalDays * next.Easiness
		}
	}

	next.NextDue = due(now, next.IntervalDays)
	next.UpdatedAt = now
	return next
}

func first(quality int, now time.Time) models.ReviewState {
	state := models.ReviewState{
		CreatedAt: now,
		UpdatedAt: now,
	}
	if quality >= PassingQuality {
		state.Repetitions = 1
		state.IntervalDays = FirstIntervalDays
		state.Easiness = InitialEasiness
	} else {
		state.Repetitions = 0
		state.IntervalDays = ResetIntervalDays
		state.Easiness = adjustEasiness(InitialEasiness, quality)
	}
	state.NextDue = due(now, state.IntervalDays)
	return state
}

// adjustEasiness applies EF' = EF + (0.1 - (5-q)*(0.08 + (5-q)*0.02)),
// clamped at MinEasiness and rounded to two decimals.
func adjustEasiness(ef float64, quality int) float64 {
	q := float64(quality)
	ef += 0.1 - (5-q)*(0.08+(5-q)*0.02)
	if ef < MinEasiness {
		ef = MinEasiness
	}
	return math.Round(ef*100) / 100
}

func due(now time.Time, intervalDays float64) time.Time {
	return now.Add(time.Duration(math.Round(intervalDays * float64(24*time.Hour))))
}
