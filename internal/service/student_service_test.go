package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

func newStudentWorld(t *testing.T) (*StudentService, *assignmentWorld) {
	t.Helper()
	w := newAssignmentWorld(t)
	return NewStudentService(w.students, w.svc, zap.NewNop()), w
}

func TestRegisterAssignsDirectly(t *testing.T) {
	svc, w := newStudentWorld(t)
	w.groups.add(1, "A")

	result, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "newbie", DisplayName: "Newbie",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyRegistered)
	require.NotNil(t, result.Decision)
	assert.Equal(t, DecisionDirect, result.Decision.Kind)
	assert.Equal(t, "1-A", result.Student.GroupLabel)
	assert.Equal(t, 1, result.Student.Level)
}

func TestRegisterIsIdempotent(t *testing.T) {
	svc, w := newStudentWorld(t)
	w.groups.add(1, "A")

	first, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "newbie", DisplayName: "Newbie",
	})
	require.NoError(t, err)

	second, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "newbie", DisplayName: "Someone Else",
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyRegistered)
	assert.Equal(t, first.Student.GroupLabel, second.Student.GroupLabel)
	assert.Equal(t, "Newbie", second.Student.DisplayName)
	assert.Len(t, w.students.students, 1)
}

func TestRegisterAtExplicitLevel(t *testing.T) {
	svc, w := newStudentWorld(t)
	w.groups.add(3, "A")

	result, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "transfer", DisplayName: "Transfer", Level: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Student.Level)
	assert.Equal(t, "3-A", result.Student.GroupLabel)
}

func TestRegisterQueuesWhenNoGroupExists(t *testing.T) {
	svc, w := newStudentWorld(t)

	result, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "pioneer", DisplayName: "Pioneer",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Decision)
	assert.Equal(t, DecisionWaitingList, result.Decision.Kind)
	assert.Equal(t, models.WaitingNewGroup, result.Decision.WaitingKind)

	queued, err := w.waiting.HasEntry(context.Background(), nil, "pioneer", 1)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestRegisterReportsNeedsConfirmation(t *testing.T) {
	svc, w := newStudentWorld(t)
	w.groups.add(1, "A")
	require.NoError(t, w.periods.Create(context.Background(), &models.ExamPeriod{
		Level:     1,
		VoteStart: w.now.Add(24 * time.Hour),
		StartTime: w.now.Add(2 * 24 * time.Hour),
		EndTime:   w.now.Add(2*24*time.Hour + 6*time.Hour),
	}))

	result, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "late", DisplayName: "Late",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Decision)
	assert.Equal(t, DecisionNeedsConfirmation, result.Decision.Kind)
	// No membership change until the student decides.
	assert.Empty(t, w.students.students["late"].GroupLabel)
}

func TestGetUnknownStudent(t *testing.T) {
	svc, _ := newStudentWorld(t)

	_, err := svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotRegistered))
}

func TestLevelBoundsInvariantAfterFullJourney(t *testing.T) {
	svc, w := newStudentWorld(t)
	for level := 1; level <= 5; level++ {
		w.groups.add(level, "A")
	}

	result, err := svc.Register(context.Background(), RegisterStudentRequest{
		ID: "lifer", DisplayName: "Lifer",
	})
	require.NoError(t, err)

	student := result.Student
	for i := 0; i < 5; i++ {
		_, err := w.svc.Promote(context.Background(), nil, student, "exam", false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, student.Level, 1)
		assert.LessOrEqual(t, student.Level, 5)
	}

	stored := w.students.students["lifer"]
	assert.True(t, stored.Alumni)
	assert.Equal(t, 5, stored.Level)
	assert.Equal(t, 5, stored.LevelsPassed)
}
