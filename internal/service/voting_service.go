package service

import (
	"context"
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

type votingStudentRepo interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
}

type votingVoteRepo interface {
	HasVoted(ctx context.Context, exec sqlx.ExtContext, voterID, periodID string) (bool, error)
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, votes []models.Vote) error
}

type votingPeriodRepo interface {
	Create(ctx context.Context, period *models.ExamPeriod) error
	ActiveForStudent(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error)
	ListActive(ctx context.Context, now time.Time) ([]models.ExamPeriod, error)
	NextForGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error)
}

type votingRemedialRepo interface {
	ListDueRetries(ctx context.Context, now time.Time) ([]models.RemedialRecord, error)
}

// SchedulePeriodRequest creates an exam period. EndTime defaults to the
// configured exam window after StartTime; the vote window opens the
// configured lead ahead of StartTime.
type SchedulePeriodRequest struct {
	Level      int        `json:"level" validate:"required,min=1,max=5"`
	GroupLabel *string    `json:"group_label,omitempty"`
	StartTime  time.Time  `json:"start_time" validate:"required"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Remedial   bool       `json:"remedial"`
}

// CastVoteRequest is one voting act: 1 to 3 distinct recipients.
type CastVoteRequest struct {
	VoterID      string   `json:"voter_id" validate:"required"`
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1,max=3"`
}

// VotingService owns exam-period scheduling and peer-vote intake.
type VotingService struct {
	students  votingStudentRepo
	votes     votingVoteRepo
	periods   votingPeriodRepo
	remedial  votingRemedialRepo
	tx        txProvider
	metrics   *MetricsService
	cfg       config.ProgramConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewVotingService wires the exam period and voting coordinator.
func NewVotingService(
	students votingStudentRepo,
	votes votingVoteRepo,
	periods votingPeriodRepo,
	remedial votingRemedialRepo,
	tx txProvider,
	metrics *MetricsService,
	cfg config.ProgramConfig,
	logger *zap.Logger,
) *VotingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExamWindow <= 0 {
		cfg.ExamWindow = 6 * time.Hour
	}
	if cfg.VoteLead <= 0 {
		cfg.VoteLead = 24 * time.Hour
	}
	return &VotingService{
		students:  students,
		votes:     votes,
		periods:   periods,
		remedial:  remedial,
		tx:        tx,
		metrics:   metrics,
		cfg:       cfg,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SchedulePeriod creates a new exam period for a level or group.
func (s *VotingService) SchedulePeriod(ctx context.Context, req SchedulePeriodRequest) (*models.ExamPeriod, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	end := req.StartTime.Add(s.cfg.ExamWindow)
	if req.EndTime != nil {
		end = *req.EndTime
	}
	if !end.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	period := &models.ExamPeriod{
		Level:      req.Level,
		GroupLabel: req.GroupLabel,
		VoteStart:  req.StartTime.Add(-s.cfg.VoteLead),
		StartTime:  req.StartTime,
		EndTime:    end,
		Remedial:   req.Remedial,
	}
	if err := s.periods.Create(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create exam period")
	}
	s.logger.Sugar().Infow("exam period scheduled",
		"period_id", period.ID, "level", period.Level, "start", period.StartTime, "remedial", period.Remedial)
	return period, nil
}

// ListActive returns every period whose overall window contains now.
func (s *VotingService) ListActive(ctx context.Context) ([]models.ExamPeriod, error) {
	periods, err := s.periods.ListActive(ctx, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active periods")
	}
	return periods, nil
}

// CastVote records one voting act. The whole set is validated before any
// row is written: a single bad recipient rejects the entire vote.
func (s *VotingService) CastVote(ctx context.Context, req CastVoteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	seen := make(map[string]struct{}, len(req.RecipientIDs))
	for _, id := range req.RecipientIDs {
		if id == req.VoterID {
			return appErrors.Clone(appErrors.ErrInvalidVoteTarget, "voting for yourself is not allowed")
		}
		if _, dup := seen[id]; dup {
			return appErrors.Clone(appErrors.ErrInvalidVoteTarget, fmt.Sprintf("recipient %s listed twice", id))
		}
		seen[id] = struct{}{}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	if err := s.castVoteTx(ctx, tx, req); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit votes")
	}
	if s.metrics != nil {
		for range req.RecipientIDs {
			s.metrics.ObserveVoteCast()
		}
	}
	return nil
}

func (s *VotingService) castVoteTx(ctx context.Context, tx *sqlx.Tx, req CastVoteRequest) error {
	voter, err := s.students.FindByID(ctx, tx, req.VoterID)
	if err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("student %s is not registered", req.VoterID))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load voter")
	}

	period, err := s.periods.ActiveForStudent(ctx, tx, voter.Level, voter.GroupLabel, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up active period")
	}
	if period == nil {
		return appErrors.Clone(appErrors.ErrNoActivePeriod, fmt.Sprintf("no active exam period for level %d", voter.Level))
	}

	voted, err := s.votes.HasVoted(ctx, tx, voter.ID, period.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prior votes")
	}
	if voted {
		return appErrors.Clone(appErrors.ErrDuplicateVote, fmt.Sprintf("student %s already voted in period %s", voter.ID, period.ID))
	}

	batch := make([]models.Vote, 0, len(req.RecipientIDs))
	for _, recipientID := range req.RecipientIDs {
		recipient, err := s.students.FindByID(ctx, tx, recipientID)
		if err != nil {
			if repository.IsNotFound(err) {
				return appErrors.Clone(appErrors.ErrInvalidVoteTarget, fmt.Sprintf("recipient %s is not registered", recipientID))
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipient")
		}
		if recipient.Level != voter.Level {
			return appErrors.Clone(appErrors.ErrInvalidVoteTarget,
				fmt.Sprintf("recipient %s is at level %d, voter at level %d", recipientID, recipient.Level, voter.Level))
		}
		batch = append(batch, models.Vote{
			VoterID:     voter.ID,
			RecipientID: recipientID,
			PeriodID:    period.ID,
		})
	}
	if err := s.votes.InsertBatch(ctx, tx, batch); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert votes")
	}

	voter.HasVoted = true
	voter.CurrentPeriodID = &period.ID
	if err := s.students.Update(ctx, tx, voter); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark voter")
	}
	return nil
}

// EnsureRemedialPeriods opens an immediate remedial exam period for every
// remedial track whose retry date has arrived, unless one is already
// active or scheduled for that track. Re-running is a no-op until the
// retry is actually taken.
func (s *VotingService) EnsureRemedialPeriods(ctx context.Context) error {
	now := s.now()
	due, err := s.remedial.ListDueRetries(ctx, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due retries")
	}

	handled := make(map[string]struct{}, len(due))
	for _, record := range due {
		label := record.TrackLabel
		if _, done := handled[label]; done {
			continue
		}
		handled[label] = struct{}{}

		active, err := s.periods.ActiveForStudent(ctx, nil, record.Level, label, now)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active remedial period")
		}
		if active != nil {
			continue
		}
		upcoming, err := s.periods.NextForGroup(ctx, nil, record.Level, label, now)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check upcoming remedial period")
		}
		if upcoming != nil {
			continue
		}

		trackLabel := label
		period := &models.ExamPeriod{
			Level:      record.Level,
			GroupLabel: &trackLabel,
			VoteStart:  now,
			StartTime:  now,
			EndTime:    now.Add(s.cfg.ExamWindow),
			Remedial:   true,
		}
		if err := s.periods.Create(ctx, period); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create remedial period")
		}
		s.logger.Sugar().Infow("remedial retry period opened",
			"period_id", period.ID, "level", record.Level, "track", label)
	}
	return nil
}
