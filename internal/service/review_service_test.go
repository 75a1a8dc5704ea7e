package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type reviewWorld struct {
	svc      *ReviewService
	states   *mockReviews
	students *mockStudents
	redis    *fakeRedis
	notifier *recordingNotifier
	now      time.Time
}

func newReviewWorld(t *testing.T) *reviewWorld {
	t.Helper()
	states := newMockReviews()
	students := newMockStudents()
	rdb := newFakeRedis()
	notifier := &recordingNotifier{}

	svc := NewReviewService(states, students, rdb, notifier, nil, config.ReviewConfig{
		ScanInterval: time.Minute,
		DeliveryTTL:  10 * time.Minute,
		ScanLimit:    100,
	}, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	students.students["learner"] = models.Student{ID: "learner", DisplayName: "learner", Level: 1, GroupLabel: "1-A"}

	return &reviewWorld{svc: svc, states: states, students: students, redis: rdb, notifier: notifier, now: now}
}

func TestAnswerFirstTimeSchedulesTwoDays(t *testing.T) {
	w := newReviewWorld(t)

	state, err := w.svc.Answer(context.Background(), AnswerReviewRequest{
		StudentID: "learner", QuestionID: "q-1", Quality: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, state.Repetitions)
	assert.InDelta(t, 2.0, state.IntervalDays, 0.001)
	assert.Equal(t, w.now.Add(48*time.Hour), state.NextDue)

	stored, err := w.states.Get(context.Background(), "learner", "q-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, state.NextDue, stored.NextDue)
}

func TestAnswerFailureResetsRepetitions(t *testing.T) {
	w := newReviewWorld(t)
	require.NoError(t, w.states.Upsert(context.Background(), &models.ReviewState{
		StudentID: "learner", QuestionID: "q-1",
		IntervalDays: 6, Repetitions: 2, Easiness: 2.5, NextDue: w.now,
	}))

	state, err := w.svc.Answer(context.Background(), AnswerReviewRequest{
		StudentID: "learner", QuestionID: "q-1", Quality: 1,
	})
	require.NoError(t, err)
	assert.Zero(t, state.Repetitions)
	assert.Less(t, state.IntervalDays, 0.01)
	assert.Equal(t, w.now.Add(10*time.Minute), state.NextDue)
}

func TestAnswerRequiresRegistration(t *testing.T) {
	w := newReviewWorld(t)

	_, err := w.svc.Answer(context.Background(), AnswerReviewRequest{
		StudentID: "ghost", QuestionID: "q-1", Quality: 5,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotRegistered))
}

func TestScanDueDeliversOnce(t *testing.T) {
	w := newReviewWorld(t)
	require.NoError(t, w.states.Upsert(context.Background(), &models.ReviewState{
		StudentID: "learner", QuestionID: "q-1",
		NextDue: w.now.Add(-time.Hour), IntervalDays: 2, Repetitions: 1, Easiness: 2.5,
	}))

	require.NoError(t, w.svc.ScanDue(context.Background()))
	require.NoError(t, w.svc.ScanDue(context.Background()))

	// Re-scanning before the answer arrives must not double-send.
	assert.Len(t, w.notifier.byType(models.EventReviewQuestionDue), 1)
}

func TestScanDueSerializesPerStudent(t *testing.T) {
	w := newReviewWorld(t)
	for _, q := range []string{"q-1", "q-2"} {
		require.NoError(t, w.states.Upsert(context.Background(), &models.ReviewState{
			StudentID: "learner", QuestionID: q,
			NextDue: w.now.Add(-time.Hour), IntervalDays: 2, Repetitions: 1, Easiness: 2.5,
		}))
	}

	require.NoError(t, w.svc.ScanDue(context.Background()))
	delivered := w.notifier.byType(models.EventReviewQuestionDue)
	require.Len(t, delivered, 1)
	first := delivered[0].Data["question_id"].(string)

	// Answering the outstanding question releases the slot and delivers
	// the queued one.
	_, err := w.svc.Answer(context.Background(), AnswerReviewRequest{
		StudentID: "learner", QuestionID: first, Quality: 5,
	})
	require.NoError(t, err)

	delivered = w.notifier.byType(models.EventReviewQuestionDue)
	require.Len(t, delivered, 2)
	assert.NotEqual(t, first, delivered[1].Data["question_id"])
}

func TestRemoveSupersedesPendingDelivery(t *testing.T) {
	w := newReviewWorld(t)
	for _, q := range []string{"q-1", "q-2"} {
		require.NoError(t, w.states.Upsert(context.Background(), &models.ReviewState{
			StudentID: "learner", QuestionID: q,
			NextDue: w.now.Add(-time.Hour), IntervalDays: 2, Repetitions: 1, Easiness: 2.5,
		}))
	}
	require.NoError(t, w.svc.ScanDue(context.Background()))
	delivered := w.notifier.byType(models.EventReviewQuestionDue)
	require.Len(t, delivered, 1)
	outstanding := delivered[0].Data["question_id"].(string)
	queued := "q-1"
	if outstanding == "q-1" {
		queued = "q-2"
	}

	// Retire the queued question, then answer the outstanding one: the
	// superseded delivery is skipped, not errored.
	require.NoError(t, w.svc.Remove(context.Background(), "learner", queued))
	_, err := w.svc.Answer(context.Background(), AnswerReviewRequest{
		StudentID: "learner", QuestionID: outstanding, Quality: 5,
	})
	require.NoError(t, err)

	assert.Len(t, w.notifier.byType(models.EventReviewQuestionDue), 1)
}
