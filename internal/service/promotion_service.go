package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/internal/repository"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type promotionStudentRepo interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	SetBonus(ctx context.Context, exec sqlx.ExtContext, studentID string, points int, tier models.BonusTier, periodID string) error
	ResetBonusByPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) error
}

type promotionExamRepo interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	InsertResult(ctx context.Context, exec sqlx.ExtContext, result *models.ExamResult) error
	ListResultsInWindow(ctx context.Context, exec sqlx.ExtContext, level int, start, end time.Time) ([]models.ExamResult, error)
}

type promotionPeriodRepo interface {
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ExamPeriod, error)
	ActiveForStudent(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error)
	ListDueClose(ctx context.Context, now time.Time) ([]models.ExamPeriod, error)
	MarkClosed(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type promotionVoteRepo interface {
	Tally(ctx context.Context, exec sqlx.ExtContext, periodID string) ([]models.VoteTally, error)
	CountVoters(ctx context.Context, exec sqlx.ExtContext, periodID string) (int, error)
}

type promotionRemedialRepo interface {
	ActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.RemedialRecord, error)
	Complete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

// SubmitExamRequest is an exam submission from the exam-taking surface.
// Answers maps question IDs to the chosen answer.
type SubmitExamRequest struct {
	StudentID string            `json:"student_id" validate:"required"`
	ExamID    string            `json:"exam_id" validate:"required"`
	Answers   map[string]string `json:"answers" validate:"required,min=1"`
}

// ExamOutcome is what the submitter gets back.
type ExamOutcome struct {
	Score      float64 `json:"score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
	NewLevel   int     `json:"new_level,omitempty"`
	NewGroup   string  `json:"new_group,omitempty"`
	Alumni     bool    `json:"alumni,omitempty"`
}

// PromotionService grades exam submissions, advances or holds students,
// and converts peer-vote bonuses into promotions at period close.
type PromotionService struct {
	students   promotionStudentRepo
	exams      promotionExamRepo
	periods    promotionPeriodRepo
	votes      promotionVoteRepo
	remedial   promotionRemedialRepo
	assignment *AssignmentService
	tx         txProvider
	notifier   Notifier
	metrics    *MetricsService
	cfg        config.ProgramConfig
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewPromotionService wires the promotion and bonus engine.
func NewPromotionService(
	students promotionStudentRepo,
	exams promotionExamRepo,
	periods promotionPeriodRepo,
	votes promotionVoteRepo,
	remedial promotionRemedialRepo,
	assignment *AssignmentService,
	tx txProvider,
	notifier Notifier,
	metrics *MetricsService,
	cfg config.ProgramConfig,
	logger *zap.Logger,
) *PromotionService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassingScore <= 0 {
		cfg.PassingScore = 70
	}
	return &PromotionService{
		students:   students,
		exams:      exams,
		periods:    periods,
		votes:      votes,
		remedial:   remedial,
		assignment: assignment,
		tx:         tx,
		notifier:   notifier,
		metrics:    metrics,
		cfg:        cfg,
		validator:  validator.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitExamResult grades a submission against the exam definition,
// persists the result and applies the pass or fail flow in one
// transaction. Bonus points do not enter the pass check here; they are
// applied once, at period close.
func (s *PromotionService) SubmitExamResult(ctx context.Context, req SubmitExamRequest) (*ExamOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrMalformedSubmission, err.Error())
	}

	exam, err := s.exams.FindByID(ctx, req.ExamID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("exam %s not found", req.ExamID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}

	var questions []models.ExamQuestion
	if err := json.Unmarshal(exam.Questions, &questions); err != nil || len(questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("exam %s has an unreadable question set", exam.ID))
	}

	score, percentage, err := grade(questions, req.Answers)
	if err != nil {
		return nil, err
	}
	passing := exam.PassingScore
	if passing <= 0 {
		passing = s.cfg.PassingScore
	}
	passed := percentage >= passing
	now := s.now()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}

	outcome, events, err := s.applySubmission(ctx, tx, req, exam, score, percentage, passed, now)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit submission")
	}

	for _, event := range events {
		s.notifier.Emit(event)
	}
	if passed {
		if err := s.assignment.ProcessWaitingLists(ctx, exam.Level); err != nil {
			s.logger.Sugar().Errorw("waiting-list drain after promotion failed", "level", exam.Level, "error", err)
		}
	}
	return outcome, nil
}

func (s *PromotionService) applySubmission(ctx context.Context, tx *sqlx.Tx, req SubmitExamRequest, exam *models.Exam, score, percentage float64, passed bool, now time.Time) (*ExamOutcome, []models.Event, error) {
	student, err := s.students.FindByID(ctx, tx, req.StudentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("student %s is not registered", req.StudentID))
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Alumni {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidLevelTransition, "alumni have completed the program")
	}
	if exam.Level != student.Level {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidLevelTransition,
			fmt.Sprintf("exam is for level %d, student is at level %d", exam.Level, student.Level))
	}

	period, err := s.periods.ActiveForStudent(ctx, tx, student.Level, student.GroupLabel, now)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up active period")
	}
	if period == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNoActivePeriod, fmt.Sprintf("no active exam period for level %d", student.Level))
	}

	result := &models.ExamResult{
		StudentID:  student.ID,
		ExamID:     exam.ID,
		PeriodID:   &period.ID,
		Level:      student.Level,
		Score:      score,
		Percentage: percentage,
		Passed:     passed,
		TakenAt:    now,
	}
	if err := s.exams.InsertResult(ctx, tx, result); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record result")
	}

	outcome := &ExamOutcome{Score: score, Percentage: percentage, Passed: passed}

	if passed {
		if err := s.completeRemedial(ctx, tx, student); err != nil {
			return nil, nil, err
		}
		events, err := s.assignment.Promote(ctx, tx, student, "exam", false)
		if err != nil {
			return nil, nil, err
		}
		outcome.NewLevel = student.Level
		outcome.NewGroup = student.GroupLabel
		outcome.Alumni = student.Alumni
		return outcome, events, nil
	}

	events, err := s.assignment.HandleExamFailure(ctx, tx, student, percentage)
	if err != nil {
		return nil, nil, err
	}
	outcome.NewGroup = student.GroupLabel
	return outcome, events, nil
}

func (s *PromotionService) completeRemedial(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if !student.Remedial {
		return nil
	}
	record, err := s.remedial.ActiveByStudent(ctx, exec, student.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up remedial record")
	}
	if record == nil {
		return nil
	}
	if err := s.remedial.Complete(ctx, exec, record.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete remedial record")
	}
	return nil
}

// grade scores answers against the weighted question set. Answers naming
// unknown question IDs are rejected as malformed.
func grade(questions []models.ExamQuestion, answers map[string]string) (score float64, percentage float64, err error) {
	byID := make(map[string]models.ExamQuestion, len(questions))
	var total float64
	for _, q := range questions {
		byID[q.ID] = q
		total += q.Weight
	}
	if total <= 0 {
		return 0, 0, appErrors.Clone(appErrors.ErrInternal, "exam has no positive question weight")
	}
	for id, answer := range answers {
		q, ok := byID[id]
		if !ok {
			return 0, 0, appErrors.Clone(appErrors.ErrMalformedSubmission, fmt.Sprintf("unknown question id %q", id))
		}
		if answer == q.Answer {
			score += q.Weight
		}
	}
	return score, 100 * score / total, nil
}

// ClosePeriod runs the end-of-period bonus computation as one transaction:
// tally votes, award tiers, re-evaluate failing results with the bonus
// added, reset per-period bonus state and mark the period terminal. The
// bonuses_applied flag makes re-invocation a no-op.
func (s *PromotionService) ClosePeriod(ctx context.Context, periodID string) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}

	events, level, err := s.closePeriodTx(ctx, tx, periodID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit period close")
	}

	for _, event := range events {
		s.notifier.Emit(event)
	}
	if s.metrics != nil {
		s.metrics.ObservePeriodClosed()
	}
	if level > 0 {
		if err := s.assignment.ProcessWaitingLists(ctx, level); err != nil {
			s.logger.Sugar().Errorw("waiting-list drain after period close failed", "level", level, "error", err)
		}
	}
	return nil
}

func (s *PromotionService) closePeriodTx(ctx context.Context, tx *sqlx.Tx, periodID string) ([]models.Event, int, error) {
	period, err := s.periods.FindByIDForUpdate(ctx, tx, periodID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("exam period %s not found", periodID))
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock period")
	}
	if period.BonusesApplied {
		s.logger.Sugar().Debugw("period already closed, skipping", "period_id", period.ID)
		return nil, 0, nil
	}

	totalVoters, err := s.votes.CountVoters(ctx, tx, period.ID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count voters")
	}
	tally, err := s.votes.Tally(ctx, tx, period.ID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to tally votes")
	}

	var events []models.Event
	bonusByStudent := make(map[string]int, len(tally))
	for rank, entry := range tally {
		points, tier := models.TierForVotes(entry.Votes)
		if points == 0 {
			continue
		}
		if err := s.students.SetBonus(ctx, tx, entry.StudentID, points, tier, period.ID); err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store bonus")
		}
		bonusByStudent[entry.StudentID] = points
		if s.metrics != nil {
			s.metrics.ObserveBonusAward(tier)
		}
		events = append(events, models.Event{
			Type:      models.EventBonusAwarded,
			StudentID: entry.StudentID,
			Data: map[string]interface{}{
				"tier":         string(tier),
				"points":       points,
				"rank":         rank + 1,
				"total_voters": totalVoters,
			},
		})
	}

	promotionEvents, err := s.applyBonusPromotions(ctx, tx, period, bonusByStudent)
	if err != nil {
		return nil, 0, err
	}
	events = append(events, promotionEvents...)

	if err := s.students.ResetBonusByPeriod(ctx, tx, period.ID); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset bonus state")
	}
	if err := s.periods.MarkClosed(ctx, tx, period.ID); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark period closed")
	}
	return events, period.Level, nil
}

// applyBonusPromotions turns failing results inside the period window into
// passes when the bonus lifts them over the threshold. Bonus promotions
// force a seat, auto-creating a group when every existing one is full.
func (s *PromotionService) applyBonusPromotions(ctx context.Context, tx *sqlx.Tx, period *models.ExamPeriod, bonusByStudent map[string]int) ([]models.Event, error) {
	if len(bonusByStudent) == 0 {
		return nil, nil
	}
	results, err := s.exams.ListResultsInWindow(ctx, tx, period.Level, period.StartTime, period.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list period results")
	}

	var events []models.Event
	promoted := make(map[string]bool, len(bonusByStudent))
	for _, result := range results {
		points := bonusByStudent[result.StudentID]
		if points == 0 || result.Passed || promoted[result.StudentID] {
			continue
		}

		exam, err := s.exams.FindByID(ctx, result.ExamID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam for bonus check")
		}
		passing := exam.PassingScore
		if passing <= 0 {
			passing = s.cfg.PassingScore
		}
		bonusPercentage := result.Percentage + float64(points)
		if bonusPercentage > 100 {
			bonusPercentage = 100
		}
		if result.Percentage >= passing || bonusPercentage < passing {
			continue
		}

		student, err := s.students.FindByID(ctx, tx, result.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student for bonus promotion")
		}
		if student.Alumni {
			continue
		}
		if err := s.completeRemedial(ctx, tx, student); err != nil {
			return nil, err
		}
		promotionEvents, err := s.assignment.Promote(ctx, tx, student, "bonus", true)
		if err != nil {
			return nil, err
		}
		events = append(events, promotionEvents...)
		promoted[student.ID] = true
		s.logger.Sugar().Infow("bonus promotion applied",
			"student_id", student.ID, "original", result.Percentage, "bonus", points, "effective", bonusPercentage)
	}
	return events, nil
}

// CloseDuePeriods closes every ended period that has not had bonuses
// applied. The scheduler calls this on a fixed tick; failures on one
// period do not block the others.
func (s *PromotionService) CloseDuePeriods(ctx context.Context) error {
	due, err := s.periods.ListDueClose(ctx, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods due for close")
	}
	for _, period := range due {
		if err := s.ClosePeriod(ctx, period.ID); err != nil {
			s.logger.Sugar().Errorw("period close failed", "period_id", period.ID, "error", err)
		}
	}
	return nil
}
