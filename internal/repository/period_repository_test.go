package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

func newPeriodMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func periodRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "level", "group_label", "vote_start", "start_time", "end_time",
		"votes_closed", "bonuses_applied", "remedial", "created_at",
	})
}

func TestPeriodRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	mock.ExpectExec(`INSERT INTO exam_periods`).
		WithArgs(
			sqlmock.AnyArg(), 2, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			false, false, false, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	period := &models.ExamPeriod{
		Level:     2,
		VoteStart: now,
		StartTime: now.Add(24 * time.Hour),
		EndTime:   now.Add(30 * time.Hour),
	}
	err := repo.Create(context.Background(), period)
	require.NoError(t, err)
	assert.NotEmpty(t, period.ID)
	assert.False(t, period.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryFindByIDForUpdate(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods WHERE id = \$1 FOR UPDATE`).
		WithArgs("period-1").
		WillReturnRows(periodRows().
			AddRow("period-1", 3, nil, now, now.Add(time.Hour), now.Add(7*time.Hour), false, false, false, now))

	period, err := repo.FindByIDForUpdate(context.Background(), nil, "period-1")
	require.NoError(t, err)
	assert.Equal(t, "period-1", period.ID)
	assert.Equal(t, 3, period.Level)
	assert.Nil(t, period.GroupLabel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryNextForGroupMissing(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods\s+WHERE level = \$1 AND group_label = \$2 AND start_time > \$3`).
		WithArgs(2, "2-A", now).
		WillReturnRows(periodRows())

	period, err := repo.NextForGroup(context.Background(), nil, 2, "2-A", now)
	require.NoError(t, err)
	assert.Nil(t, period)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryNextShared(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods\s+WHERE level = \$1 AND group_label IS NULL AND start_time > \$2`).
		WithArgs(1, now).
		WillReturnRows(periodRows().
			AddRow("period-2", 1, nil, now, now.Add(48*time.Hour), now.Add(54*time.Hour), false, false, false, now))

	period, err := repo.NextShared(context.Background(), nil, 1, now)
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, "period-2", period.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryActiveForStudent(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods\s+WHERE level = \$1 AND votes_closed = false AND vote_start <= \$2 AND end_time > \$2\s+AND \(group_label IS NULL OR group_label = \$3\)`).
		WithArgs(2, now, "2-B").
		WillReturnRows(periodRows().
			AddRow("period-3", 2, "2-B", now.Add(-time.Hour), now, now.Add(6*time.Hour), false, false, true, now))

	period, err := repo.ActiveForStudent(context.Background(), nil, 2, "2-B", now)
	require.NoError(t, err)
	require.NotNil(t, period)
	require.NotNil(t, period.GroupLabel)
	assert.Equal(t, "2-B", *period.GroupLabel)
	assert.True(t, period.Remedial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryActiveForStudentMissing(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods\s+WHERE level = \$1 AND votes_closed = false`).
		WithArgs(4, now, "4-A").
		WillReturnRows(periodRows())

	period, err := repo.ActiveForStudent(context.Background(), nil, 4, "4-A", now)
	require.NoError(t, err)
	assert.Nil(t, period)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryListDueClose(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM exam_periods\s+WHERE end_time <= \$1 AND bonuses_applied = false`).
		WithArgs(now).
		WillReturnRows(periodRows().
			AddRow("period-4", 1, nil, now.Add(-8*time.Hour), now.Add(-7*time.Hour), now.Add(-time.Hour), false, false, false, now).
			AddRow("period-5", 2, nil, now.Add(-9*time.Hour), now.Add(-8*time.Hour), now.Add(-time.Minute), false, false, false, now))

	periods, err := repo.ListDueClose(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, "period-4", periods[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryMarkClosed(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	mock.ExpectExec(`UPDATE exam_periods SET votes_closed = true, bonuses_applied = true WHERE id = \$1`).
		WithArgs("period-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkClosed(context.Background(), nil, "period-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
