package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/internal/repository"
	"github.com/noah-isme/cohort-program-api/internal/srs"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type reviewStateRepo interface {
	Get(ctx context.Context, studentID, questionID string) (*models.ReviewState, error)
	Upsert(ctx context.Context, state *models.ReviewState) error
	Delete(ctx context.Context, studentID, questionID string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReviewState, error)
}

type reviewStudentRepo interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
}

// deliveryStore is the slice of redis used for single-flight delivery:
// the in-flight marker and the per-student pending list.
type deliveryStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// AnswerReviewRequest carries one quality-graded answer from a student.
type AnswerReviewRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	QuestionID string `json:"question_id" validate:"required"`
	Quality    int    `json:"quality" validate:"min=0,max=5"`
}

// ReviewService drives spaced-repetition scheduling and serialises
// question delivery per student. A student never has two outstanding
// questions: delivery is gated by a per-student in-flight marker in Redis,
// and due questions that lose the race wait in a per-student pending list.
type ReviewService struct {
	states    reviewStateRepo
	students  reviewStudentRepo
	rdb       deliveryStore
	notifier  Notifier
	metrics   *MetricsService
	cfg       config.ReviewConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReviewService wires the spaced-repetition engine.
func NewReviewService(
	states reviewStateRepo,
	students reviewStudentRepo,
	rdb deliveryStore,
	notifier Notifier,
	metrics *MetricsService,
	cfg config.ReviewConfig,
	logger *zap.Logger,
) *ReviewService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeliveryTTL <= 0 {
		cfg.DeliveryTTL = 10 * time.Minute
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 100
	}
	return &ReviewService{
		states:    states,
		students:  students,
		rdb:       rdb,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func inflightKey(studentID string) string {
	return "review:inflight:" + studentID
}

func pendingKey(studentID string) string {
	return "review:pending:" + studentID
}

// Answer applies one quality-graded answer: it runs the SM-2 update,
// persists the new state, releases the student's in-flight slot and
// delivers the next pending question if one is queued.
func (s *ReviewService) Answer(ctx context.Context, req AnswerReviewRequest) (*models.ReviewState, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if _, err := s.students.FindByID(ctx, nil, req.StudentID); err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("student %s is not registered", req.StudentID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	prev, err := s.states.Get(ctx, req.StudentID, req.QuestionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review state")
	}

	now := s.now()
	next := srs.Review(prev, req.Quality, now)
	next.StudentID = req.StudentID
	next.QuestionID = req.QuestionID
	if err := s.states.Upsert(ctx, &next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store review state")
	}

	s.release(ctx, req.StudentID, req.QuestionID)
	s.deliverNextPending(ctx, req.StudentID)
	return &next, nil
}

// Remove drops the scheduling state for a question, superseding any
// pending delivery of it.
func (s *ReviewService) Remove(ctx context.Context, studentID, questionID string) error {
	if err := s.states.Delete(ctx, studentID, questionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete review state")
	}
	s.release(ctx, studentID, questionID)
	return nil
}

// ScanDue finds due review states and delivers each to its student,
// respecting the single-flight discipline. Safe to re-enter: a student
// whose previous delivery is still outstanding gets the question queued,
// not re-sent.
func (s *ReviewService) ScanDue(ctx context.Context) error {
	due, err := s.states.ListDue(ctx, s.now(), s.cfg.ScanLimit)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due reviews")
	}
	for _, state := range due {
		s.deliver(ctx, state.StudentID, state.QuestionID)
	}
	return nil
}

// deliver sends a question to a student if no other question is
// outstanding for them; otherwise it parks the question on the pending
// list. The in-flight marker expires after DeliveryTTL so an unanswered
// question times out instead of blocking the queue forever.
func (s *ReviewService) deliver(ctx context.Context, studentID, questionID string) {
	acquired, err := s.rdb.SetNX(ctx, inflightKey(studentID), questionID, s.cfg.DeliveryTTL).Result()
	if err != nil {
		s.logger.Sugar().Errorw("failed to acquire delivery slot", "student_id", studentID, "error", err)
		return
	}
	if !acquired {
		current, err := s.rdb.Get(ctx, inflightKey(studentID)).Result()
		if err == nil && current == questionID {
			// Already outstanding for this very question; nothing to do.
			return
		}
		if err := s.rdb.LRem(ctx, pendingKey(studentID), 0, questionID).Err(); err == nil {
			if err := s.rdb.RPush(ctx, pendingKey(studentID), questionID).Err(); err != nil {
				s.logger.Sugar().Errorw("failed to queue pending question", "student_id", studentID, "error", err)
			}
		}
		return
	}

	s.notifier.Emit(models.Event{
		Type:      models.EventReviewQuestionDue,
		StudentID: studentID,
		Data:      map[string]interface{}{"question_id": questionID},
	})
	if s.metrics != nil {
		s.metrics.ObserveReviewDelivered()
	}
}

// release clears the in-flight marker if it belongs to the given question.
func (s *ReviewService) release(ctx context.Context, studentID, questionID string) {
	current, err := s.rdb.Get(ctx, inflightKey(studentID)).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		s.logger.Sugar().Errorw("failed to read delivery slot", "student_id", studentID, "error", err)
		return
	}
	if current != questionID {
		return
	}
	if err := s.rdb.Del(ctx, inflightKey(studentID)).Err(); err != nil {
		s.logger.Sugar().Errorw("failed to release delivery slot", "student_id", studentID, "error", err)
	}
}

// deliverNextPending pops the oldest parked question and delivers it.
// Questions whose state was removed since parking are skipped.
func (s *ReviewService) deliverNextPending(ctx context.Context, studentID string) {
	for {
		questionID, err := s.rdb.LPop(ctx, pendingKey(studentID)).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			s.logger.Sugar().Errorw("failed to pop pending question", "student_id", studentID, "error", err)
			return
		}
		state, err := s.states.Get(ctx, studentID, questionID)
		if err != nil {
			s.logger.Sugar().Errorw("failed to check pending question state", "student_id", studentID, "error", err)
			return
		}
		if state == nil {
			continue
		}
		if !state.Due(s.now()) {
			continue
		}
		s.deliver(ctx, studentID, questionID)
		return
	}
}
