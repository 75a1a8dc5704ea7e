package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type promotionWorld struct {
	svc      *PromotionService
	assign   *AssignmentService
	students *mockStudents
	groups   *mockGroups
	waiting  *mockWaiting
	remedial *mockRemedial
	periods  *mockPeriods
	votes    *mockVotes
	exams    *mockExams
	notifier *recordingNotifier
	now      time.Time
}

func newPromotionWorld(t *testing.T) *promotionWorld {
	t.Helper()
	students := newMockStudents()
	groups := newMockGroups(students)
	waiting := &mockWaiting{}
	remedial := &mockRemedial{}
	periods := &mockPeriods{}
	votes := &mockVotes{}
	exams := newMockExams()
	notifier := &recordingNotifier{}
	tx := newMockTx(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assign := NewAssignmentService(students, groups, waiting, remedial, periods,
		tx, notifier, nil, testProgramConfig(), zap.NewNop())
	assign.now = func() time.Time { return now }

	svc := NewPromotionService(students, exams, periods, votes, remedial,
		assign, tx, notifier, nil, testProgramConfig(), zap.NewNop())
	svc.now = func() time.Time { return now }

	return &promotionWorld{
		svc:      svc,
		assign:   assign,
		students: students,
		groups:   groups,
		waiting:  waiting,
		remedial: remedial,
		periods:  periods,
		votes:    votes,
		exams:    exams,
		notifier: notifier,
		now:      now,
	}
}

func (w *promotionWorld) addExam(id string, level int, passing float64, questionCount int) {
	questions := make([]models.ExamQuestion, questionCount)
	for i := range questions {
		questions[i] = models.ExamQuestion{ID: fmt.Sprintf("q%d", i+1), Answer: "right", Weight: 1}
	}
	raw, _ := json.Marshal(questions)
	w.exams.exams[id] = models.Exam{ID: id, Title: id, Level: level, PassingScore: passing, Questions: raw}
}

// answers builds a submission answering the first `correct` questions
// right and the rest wrong.
func answers(total, correct int) map[string]string {
	out := make(map[string]string, total)
	for i := 1; i <= total; i++ {
		if i <= correct {
			out[fmt.Sprintf("q%d", i)] = "right"
		} else {
			out[fmt.Sprintf("q%d", i)] = "wrong"
		}
	}
	return out
}

func (w *promotionWorld) openPeriod(level int) models.ExamPeriod {
	p := models.ExamPeriod{
		Level:     level,
		VoteStart: w.now.Add(-24 * time.Hour),
		StartTime: w.now.Add(-time.Hour),
		EndTime:   w.now.Add(5 * time.Hour),
	}
	_ = w.periods.Create(context.Background(), &p)
	return p
}

func (w *promotionWorld) addStudent(id string, level int, label string) models.Student {
	s := models.Student{ID: id, DisplayName: id, Level: level, GroupLabel: label}
	w.students.students[id] = s
	return s
}

func TestSubmitExamResultPassPromotes(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 10)
	w.openPeriod(1)
	w.groups.add(2, "A")
	w.addStudent("ace", 1, "1-A")

	outcome, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "ace", ExamID: "exam-1", Answers: answers(10, 9),
	})
	require.NoError(t, err)
	assert.InDelta(t, 90, outcome.Percentage, 0.001)
	assert.True(t, outcome.Passed)
	assert.Equal(t, 2, outcome.NewLevel)
	assert.Equal(t, "2-A", outcome.NewGroup)

	require.Len(t, w.exams.results, 1)
	assert.True(t, w.exams.results[0].Passed)
	assert.Len(t, w.notifier.byType(models.EventPromoted), 1)
}

func TestSubmitExamResultFailGoesRemedial(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 10)
	w.openPeriod(1)
	w.addStudent("striver", 1, "1-A")

	outcome, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "striver", ExamID: "exam-1", Answers: answers(10, 5),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Equal(t, "Remedial-Level-1", outcome.NewGroup)

	stored := w.students.students["striver"]
	assert.True(t, stored.Remedial)
	assert.Equal(t, 1, stored.Level)
	require.Len(t, w.remedial.records, 1)
	assert.InDelta(t, 0.5*7, w.remedial.records[0].DelayDays, 0.001)
}

func TestSubmitExamResultPassCompletesRemedial(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 10)
	w.groups.add(2, "A")
	s := w.addStudent("retaker", 1, "Remedial-Level-1")
	s.Remedial = true
	w.students.students["retaker"] = s
	require.NoError(t, w.remedial.Create(context.Background(), nil, &models.RemedialRecord{
		StudentID: "retaker", Level: 1, FailingScore: 50, RetryAt: w.now.Add(-time.Hour),
		TrackLabel: "Remedial-Level-1",
	}))
	track := "Remedial-Level-1"
	require.NoError(t, w.periods.Create(context.Background(), &models.ExamPeriod{
		Level: 1, GroupLabel: &track, Remedial: true,
		VoteStart: w.now.Add(-time.Hour), StartTime: w.now.Add(-time.Hour), EndTime: w.now.Add(5 * time.Hour),
	}))

	outcome, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "retaker", ExamID: "exam-1", Answers: answers(10, 8),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed)

	assert.True(t, w.remedial.records[0].Completed)
	stored := w.students.students["retaker"]
	assert.False(t, stored.Remedial)
	assert.Equal(t, 2, stored.Level)
}

func TestSubmitExamResultRejectsUnknownQuestion(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 2)
	w.openPeriod(1)
	w.addStudent("tricky", 1, "1-A")

	_, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "tricky", ExamID: "exam-1", Answers: map[string]string{"nope": "right"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMalformedSubmission))
	assert.Empty(t, w.exams.results)
}

func TestSubmitExamResultRequiresActivePeriod(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 2)
	w.addStudent("early", 1, "1-A")

	_, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "early", ExamID: "exam-1", Answers: answers(2, 2),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActivePeriod))
}

func TestSubmitExamResultRequiresRegistration(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 2)
	w.openPeriod(1)

	_, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "ghost", ExamID: "exam-1", Answers: answers(2, 2),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotRegistered))
}

func TestSubmitExamResultRejectsWrongLevel(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-3", 3, 70, 2)
	w.openPeriod(1)
	w.addStudent("eager", 1, "1-A")

	_, err := w.svc.SubmitExamResult(context.Background(), SubmitExamRequest{
		StudentID: "eager", ExamID: "exam-3", Answers: answers(2, 2),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidLevelTransition))
}

func castVotes(t *testing.T, w *promotionWorld, periodID, recipientID string, voters int) {
	t.Helper()
	batch := make([]models.Vote, 0, voters)
	for i := 0; i < voters; i++ {
		batch = append(batch, models.Vote{
			VoterID: fmt.Sprintf("voter-%s-%d", recipientID, i), RecipientID: recipientID, PeriodID: periodID,
		})
	}
	require.NoError(t, w.votes.InsertBatch(context.Background(), nil, batch))
}

func TestClosePeriodAwardsTiers(t *testing.T) {
	w := newPromotionWorld(t)
	period := w.openPeriod(1)
	for _, id := range []string{"gold", "silver", "bronze", "none"} {
		w.addStudent(id, 1, "1-A")
	}
	castVotes(t, w, period.ID, "gold", 8)
	castVotes(t, w, period.ID, "silver", 5)
	castVotes(t, w, period.ID, "bronze", 3)
	castVotes(t, w, period.ID, "none", 1)

	require.NoError(t, w.svc.ClosePeriod(context.Background(), period.ID))

	// Bonus state is single-use: awarded inside the close transaction and
	// reset before it commits, so only the events still carry the tiers.
	awards := w.notifier.byType(models.EventBonusAwarded)
	require.Len(t, awards, 3)
	byStudent := make(map[string]models.Event, len(awards))
	for _, e := range awards {
		byStudent[e.StudentID] = e
	}
	assert.Equal(t, "gold", byStudent["gold"].Data["tier"])
	assert.Equal(t, 20, byStudent["gold"].Data["points"])
	assert.Equal(t, 1, byStudent["gold"].Data["rank"])
	assert.Equal(t, "silver", byStudent["silver"].Data["tier"])
	assert.Equal(t, 12, byStudent["silver"].Data["points"])
	assert.Equal(t, "bronze", byStudent["bronze"].Data["tier"])
	assert.Equal(t, 6, byStudent["bronze"].Data["points"])
	assert.NotContains(t, byStudent, "none")

	for _, id := range []string{"gold", "silver", "bronze", "none"} {
		s := w.students.students[id]
		assert.Zero(t, s.BonusPoints, id)
		assert.Equal(t, models.BonusTierNone, s.BonusTier, id)
		assert.Nil(t, s.CurrentPeriodID, id)
	}

	stored, err := w.periods.FindByID(context.Background(), nil, period.ID)
	require.NoError(t, err)
	assert.True(t, stored.BonusesApplied)
	assert.True(t, stored.VotesClosed)
}

func TestClosePeriodBonusLiftsFailureIntoPromotion(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 100)
	period := w.openPeriod(1)
	w.groups.add(2, "A")
	w.addStudent("almost", 1, "1-A")
	w.addStudent("far", 1, "1-A")

	// 68% and 50% raw results inside the period window.
	for _, r := range []struct {
		id  string
		pct float64
	}{{"almost", 68}, {"far", 50}} {
		require.NoError(t, w.exams.InsertResult(context.Background(), nil, &models.ExamResult{
			StudentID: r.id, ExamID: "exam-1", PeriodID: &period.ID, Level: 1,
			Score: r.pct, Percentage: r.pct, Passed: false, TakenAt: w.now,
		}))
	}
	// Three votes each: bronze tier, +6 points.
	castVotes(t, w, period.ID, "almost", 3)
	castVotes(t, w, period.ID, "far", 3)

	require.NoError(t, w.svc.ClosePeriod(context.Background(), period.ID))

	// 68 + 6 = 74 crosses the 70 threshold; 50 + 6 = 56 does not.
	almost := w.students.students["almost"]
	assert.Equal(t, 2, almost.Level)
	assert.Equal(t, "2-A", almost.GroupLabel)
	assert.Equal(t, 1, almost.LevelsPassed)

	far := w.students.students["far"]
	assert.Equal(t, 1, far.Level)
	assert.Zero(t, far.LevelsPassed)

	promotions := w.notifier.byType(models.EventPromoted)
	require.Len(t, promotions, 1)
	assert.Equal(t, "almost", promotions[0].StudentID)
	assert.Equal(t, "bonus", promotions[0].Data["reason"])
}

func TestClosePeriodBonusPromotionAutoCreatesGroup(t *testing.T) {
	w := newPromotionWorld(t)
	w.addExam("exam-1", 1, 70, 100)
	period := w.openPeriod(1)
	w.groups.add(2, "A")
	for i := 0; i < 15; i++ {
		w.addStudent(fmt.Sprintf("filler-%d", i), 2, "2-A")
	}
	w.addStudent("almost", 1, "1-A")
	require.NoError(t, w.exams.InsertResult(context.Background(), nil, &models.ExamResult{
		StudentID: "almost", ExamID: "exam-1", PeriodID: &period.ID, Level: 1,
		Score: 68, Percentage: 68, Passed: false, TakenAt: w.now,
	}))
	castVotes(t, w, period.ID, "almost", 3)

	require.NoError(t, w.svc.ClosePeriod(context.Background(), period.ID))

	stored := w.students.students["almost"]
	assert.Equal(t, 2, stored.Level)
	assert.Equal(t, "2-B", stored.GroupLabel)
}

func TestClosePeriodIsIdempotent(t *testing.T) {
	w := newPromotionWorld(t)
	period := w.openPeriod(1)
	w.addStudent("popular", 1, "1-A")
	castVotes(t, w, period.ID, "popular", 8)

	require.NoError(t, w.svc.ClosePeriod(context.Background(), period.ID))
	firstEvents := len(w.notifier.events)

	require.NoError(t, w.svc.ClosePeriod(context.Background(), period.ID))
	assert.Equal(t, firstEvents, len(w.notifier.events))
}

func TestCloseDuePeriodsSweepsEndedOnes(t *testing.T) {
	w := newPromotionWorld(t)
	ended := models.ExamPeriod{
		Level: 1, VoteStart: w.now.Add(-48 * time.Hour),
		StartTime: w.now.Add(-30 * time.Hour), EndTime: w.now.Add(-24 * time.Hour),
	}
	require.NoError(t, w.periods.Create(context.Background(), &ended))
	running := w.openPeriod(2)

	require.NoError(t, w.svc.CloseDuePeriods(context.Background()))

	closed, err := w.periods.FindByID(context.Background(), nil, ended.ID)
	require.NoError(t, err)
	assert.True(t, closed.BonusesApplied)

	still, err := w.periods.FindByID(context.Background(), nil, running.ID)
	require.NoError(t, err)
	assert.False(t, still.BonusesApplied)
}
