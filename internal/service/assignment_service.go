package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type assignmentStudentRepo interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	CountInGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string) (int, error)
}

type assignmentGroupRepo interface {
	ListOccupancy(ctx context.Context, exec sqlx.ExtContext, level int) ([]models.GroupOccupancy, error)
	Create(ctx context.Context, exec sqlx.ExtContext, group *models.Group) error
}

type assignmentWaitingRepo interface {
	Enqueue(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitingListEntry) error
	ListByKind(ctx context.Context, exec sqlx.ExtContext, level int, kind models.WaitingKind) ([]models.WaitingListEntry, error)
	HasEntry(ctx context.Context, exec sqlx.ExtContext, studentID string, level int) (bool, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type assignmentRemedialRepo interface {
	ActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.RemedialRecord, error)
	Create(ctx context.Context, exec sqlx.ExtContext, record *models.RemedialRecord) error
}

type assignmentPeriodRepo interface {
	NextForGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error)
	NextShared(ctx context.Context, exec sqlx.ExtContext, level int, now time.Time) (*models.ExamPeriod, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// DecisionKind tags the outcome of a group search.
type DecisionKind string

const (
	DecisionDirect            DecisionKind = "direct"
	DecisionNeedsConfirmation DecisionKind = "needs-confirmation"
	DecisionWaitingList       DecisionKind = "waiting-list"
)

// Decision is the tagged result of FindAvailableGroup. Group is set for
// direct and needs-confirmation outcomes; WaitingKind and Reason for
// waiting-list outcomes.
type Decision struct {
	Kind          DecisionKind       `json:"kind"`
	Group         *models.Group      `json:"group,omitempty"`
	DaysRemaining float64            `json:"days_remaining,omitempty"`
	RequiredDays  int                `json:"required_days,omitempty"`
	WaitingKind   models.WaitingKind `json:"waiting_kind,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// AssignmentService decides which group a student belongs to next and
// executes the resulting membership changes.
type AssignmentService struct {
	students assignmentStudentRepo
	groups   assignmentGroupRepo
	waiting  assignmentWaitingRepo
	remedial assignmentRemedialRepo
	periods  assignmentPeriodRepo
	tx       txProvider
	notifier Notifier
	metrics  *MetricsService
	cfg      config.ProgramConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewAssignmentService wires the group-assignment engine.
func NewAssignmentService(
	students assignmentStudentRepo,
	groups assignmentGroupRepo,
	waiting assignmentWaitingRepo,
	remedial assignmentRemedialRepo,
	periods assignmentPeriodRepo,
	tx txProvider,
	notifier Notifier,
	metrics *MetricsService,
	cfg config.ProgramConfig,
	logger *zap.Logger,
) *AssignmentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GroupCapacity <= 0 {
		cfg.GroupCapacity = 15
	}
	if cfg.NewGroupThreshold <= 0 {
		cfg.NewGroupThreshold = 7
	}
	return &AssignmentService{
		students: students,
		groups:   groups,
		waiting:  waiting,
		remedial: remedial,
		periods:  periods,
		tx:       tx,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindAvailableGroup walks the level's groups in letter order and decides
// where a new member could go. No groups at all for the level means the
// student waits for a fresh group to form; every group full means waiting
// for space.
func (s *AssignmentService) FindAvailableGroup(ctx context.Context, exec sqlx.ExtContext, level int) (Decision, error) {
	if level < 1 || level > config.MaxLevel {
		return Decision{}, appErrors.Clone(appErrors.ErrInvalidLevelTransition, fmt.Sprintf("level %d is outside 1..%d", level, config.MaxLevel))
	}

	occupancy, err := s.groups.ListOccupancy(ctx, exec, level)
	if err != nil {
		return Decision{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect groups")
	}
	if len(occupancy) == 0 {
		return Decision{
			Kind:        DecisionWaitingList,
			WaitingKind: models.WaitingNewGroup,
			Reason:      fmt.Sprintf("no group formed yet for level %d", level),
		}, nil
	}

	now := s.now()
	for i := range occupancy {
		g := occupancy[i]
		if g.Members >= s.cfg.GroupCapacity {
			continue
		}

		period, err := s.nextPeriodFor(ctx, exec, g.Level, g.Label(), now)
		if err != nil {
			return Decision{}, err
		}
		group := g.Group
		if period == nil {
			return Decision{Kind: DecisionDirect, Group: &group}, nil
		}

		daysRemaining := period.StartTime.Sub(now).Hours() / 24
		required := s.cfg.FormationDays[level]
		if daysRemaining >= float64(required) {
			return Decision{Kind: DecisionDirect, Group: &group}, nil
		}
		return Decision{
			Kind:          DecisionNeedsConfirmation,
			Group:         &group,
			DaysRemaining: daysRemaining,
			RequiredDays:  required,
		}, nil
	}

	return Decision{
		Kind:        DecisionWaitingList,
		WaitingKind: models.WaitingSpace,
		Reason:      fmt.Sprintf("every group at level %d is at capacity", level),
	}, nil
}

// nextPeriodFor resolves the exam period governing a group: the
// group-specific schedule wins, then the legacy level-wide one.
func (s *AssignmentService) nextPeriodFor(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error) {
	period, err := s.periods.NextForGroup(ctx, exec, level, groupLabel, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up group period")
	}
	if period != nil {
		return period, nil
	}
	period, err = s.periods.NextShared(ctx, exec, level, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up shared period")
	}
	return period, nil
}

// Assign makes the student a member of the group. The capacity count is
// re-checked against the same executor immediately before the write, so a
// caller running inside a transaction keeps the capacity invariant at
// commit time.
func (s *AssignmentService) Assign(ctx context.Context, exec sqlx.ExtContext, student *models.Student, group *models.Group) error {
	count, err := s.students.CountInGroup(ctx, exec, group.Level, group.Label())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-check capacity")
	}
	if count >= s.cfg.GroupCapacity {
		if s.metrics != nil {
			s.metrics.ObserveCapacityConflict()
		}
		return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("group %s is at capacity", group.Label()))
	}

	student.Level = group.Level
	student.GroupLabel = group.Label()
	student.Remedial = false
	if err := s.students.Update(ctx, exec, student); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student")
	}
	return nil
}

// PlaceStudent applies a fresh FindAvailableGroup decision to a student,
// typically right after registration. A capacity race is retried once by
// recomputing the target group; a needs-confirmation outcome is returned
// without mutation so the caller can present the choice.
func (s *AssignmentService) PlaceStudent(ctx context.Context, student *models.Student) (Decision, error) {
	var decision Decision
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		decision, err = s.FindAvailableGroup(ctx, nil, student.Level)
		if err != nil {
			return Decision{}, err
		}

		switch decision.Kind {
		case DecisionDirect:
			err = s.assignInTx(ctx, student, decision.Group)
			if appErrors.Is(err, appErrors.ErrCapacityExceeded) {
				continue
			}
			if err != nil {
				return Decision{}, err
			}
			s.notifier.Emit(models.Event{
				Type:      models.EventGroupAssigned,
				StudentID: student.ID,
				Data:      map[string]interface{}{"group": student.GroupLabel},
			})
			return decision, nil

		case DecisionNeedsConfirmation:
			return decision, nil

		case DecisionWaitingList:
			if err := s.enqueue(ctx, nil, student, student.Level, decision.WaitingKind, decision.Reason); err != nil {
				return Decision{}, err
			}
			return decision, nil
		}
	}

	// Two capacity conflicts in a row: yield the seat and wait for space.
	decision = Decision{
		Kind:        DecisionWaitingList,
		WaitingKind: models.WaitingSpace,
		Reason:      "lost capacity race twice",
	}
	if err := s.enqueue(ctx, nil, student, student.Level, decision.WaitingKind, decision.Reason); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// ConfirmPlacement resolves a pending needs-confirmation decision. Accept
// assigns the student anyway, bypassing the formation-time check. Decline
// re-runs the search; a still-insufficient window sends the student to the
// awaiting-new-group queue so they join a cohort with a later exam.
func (s *AssignmentService) ConfirmPlacement(ctx context.Context, student *models.Student, accept bool) (Decision, error) {
	decision, err := s.FindAvailableGroup(ctx, nil, student.Level)
	if err != nil {
		return Decision{}, err
	}

	if accept {
		if decision.Kind == DecisionDirect || decision.Kind == DecisionNeedsConfirmation {
			if err := s.assignInTx(ctx, student, decision.Group); err != nil {
				return Decision{}, err
			}
			s.notifier.Emit(models.Event{
				Type:      models.EventGroupAssigned,
				StudentID: student.ID,
				Data:      map[string]interface{}{"group": student.GroupLabel},
			})
			return Decision{Kind: DecisionDirect, Group: decision.Group}, nil
		}
		if err := s.enqueue(ctx, nil, student, student.Level, decision.WaitingKind, decision.Reason); err != nil {
			return Decision{}, err
		}
		return decision, nil
	}

	if decision.Kind == DecisionDirect {
		if err := s.assignInTx(ctx, student, decision.Group); err != nil {
			return Decision{}, err
		}
		s.notifier.Emit(models.Event{
			Type:      models.EventGroupAssigned,
			StudentID: student.ID,
			Data:      map[string]interface{}{"group": student.GroupLabel},
		})
		return decision, nil
	}

	declined := Decision{
		Kind:        DecisionWaitingList,
		WaitingKind: models.WaitingNewGroup,
		Reason:      "declined placement with insufficient formation time",
	}
	if err := s.enqueue(ctx, nil, student, student.Level, declined.WaitingKind, declined.Reason); err != nil {
		return Decision{}, err
	}
	return declined, nil
}

func (s *AssignmentService) assignInTx(ctx context.Context, student *models.Student, group *models.Group) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	if err := s.Assign(ctx, tx, student, group); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit assignment")
	}
	return nil
}

func (s *AssignmentService) enqueue(ctx context.Context, exec sqlx.ExtContext, student *models.Student, level int, kind models.WaitingKind, reason string) error {
	queued, err := s.waiting.HasEntry(ctx, exec, student.ID, level)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check waiting list")
	}
	if queued {
		return nil
	}
	entry := &models.WaitingListEntry{
		StudentID: student.ID,
		Level:     level,
		Kind:      kind,
		Reason:    reason,
	}
	if err := s.waiting.Enqueue(ctx, exec, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue waiting-list entry")
	}
	if s.metrics != nil {
		s.metrics.ObserveWaitingListAdd(kind)
	}
	s.notifier.Emit(models.Event{
		Type:      models.EventWaitingListAdded,
		StudentID: student.ID,
		Data:      map[string]interface{}{"kind": string(kind), "level": level, "reason": reason},
	})
	return nil
}

// ProcessWaitingLists drains both queues for a level. It runs after any
// promotion or exam-period close. The awaiting-new-group queue
// materialises a fresh group per full batch; the awaiting-space queue is
// drained FIFO until the first non-direct decision, preserving order.
func (s *AssignmentService) ProcessWaitingLists(ctx context.Context, level int) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}

	events, err := s.drainWaitingLists(ctx, tx, level)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit waiting-list drain")
	}

	for _, event := range events {
		s.notifier.Emit(event)
	}
	return nil
}

func (s *AssignmentService) drainWaitingLists(ctx context.Context, exec sqlx.ExtContext, level int) ([]models.Event, error) {
	var events []models.Event

	newGroupQueue, err := s.waiting.ListByKind(ctx, exec, level, models.WaitingNewGroup)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waiting list")
	}
	for len(newGroupQueue) >= s.cfg.NewGroupThreshold {
		group, err := s.materializeGroup(ctx, exec, level)
		if err != nil {
			return nil, err
		}
		batch := newGroupQueue[:s.cfg.NewGroupThreshold]
		newGroupQueue = newGroupQueue[s.cfg.NewGroupThreshold:]

		for _, entry := range batch {
			student, err := s.students.FindByID(ctx, exec, entry.StudentID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load queued student")
			}
			if err := s.Assign(ctx, exec, student, group); err != nil {
				return nil, err
			}
			if err := s.waiting.Delete(ctx, exec, entry.ID); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dequeue entry")
			}
			events = append(events, models.Event{
				Type:      models.EventGroupAssigned,
				StudentID: student.ID,
				Data:      map[string]interface{}{"group": group.Label()},
			})
		}
	}

	spaceQueue, err := s.waiting.ListByKind(ctx, exec, level, models.WaitingSpace)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waiting list")
	}
	for _, entry := range spaceQueue {
		decision, err := s.FindAvailableGroup(ctx, exec, level)
		if err != nil {
			return nil, err
		}
		if decision.Kind != DecisionDirect {
			break
		}
		student, err := s.students.FindByID(ctx, exec, entry.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load queued student")
		}
		if err := s.Assign(ctx, exec, student, decision.Group); err != nil {
			return nil, err
		}
		if err := s.waiting.Delete(ctx, exec, entry.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dequeue entry")
		}
		events = append(events, models.Event{
			Type:      models.EventGroupAssigned,
			StudentID: student.ID,
			Data:      map[string]interface{}{"group": student.GroupLabel},
		})
	}

	return events, nil
}

// materializeGroup creates the next unused letter group for a level.
func (s *AssignmentService) materializeGroup(ctx context.Context, exec sqlx.ExtContext, level int) (*models.Group, error) {
	occupancy, err := s.groups.ListOccupancy(ctx, exec, level)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect groups")
	}
	used := make(map[string]struct{}, len(occupancy))
	for _, g := range occupancy {
		used[g.Letter] = struct{}{}
	}
	for c := 'A'; c <= 'Z'; c++ {
		letter := string(c)
		if _, taken := used[letter]; taken {
			continue
		}
		group := &models.Group{Level: level, Letter: letter}
		if err := s.groups.Create(ctx, exec, group); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
		}
		return group, nil
	}
	return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("level %d has exhausted letters A..Z", level))
}

// HandleExamFailure routes a failed exam. Scores below the remedial floor
// go back through group search restricted to groups with a sufficient
// formation window; everything else lands on the remedial track with a
// score-band delay.
func (s *AssignmentService) HandleExamFailure(ctx context.Context, exec sqlx.ExtContext, student *models.Student, score float64) ([]models.Event, error) {
	level := student.Level
	now := s.now()

	if score < 20 {
		group, err := s.findGroupWithLeadTime(ctx, exec, level, now)
		if err != nil {
			return nil, err
		}
		if group != nil {
			if err := s.Assign(ctx, exec, student, group); err != nil {
				return nil, err
			}
			return []models.Event{{
				Type:      models.EventGroupAssigned,
				StudentID: student.ID,
				Data:      map[string]interface{}{"group": group.Label()},
			}}, nil
		}

		reason := fmt.Sprintf("failed level %d exam with %.1f%%, awaiting space", level, score)
		queued, err := s.waiting.HasEntry(ctx, exec, student.ID, level)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check waiting list")
		}
		if !queued {
			entry := &models.WaitingListEntry{StudentID: student.ID, Level: level, Kind: models.WaitingSpace, Reason: reason}
			if err := s.waiting.Enqueue(ctx, exec, entry); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue waiting-list entry")
			}
			if s.metrics != nil {
				s.metrics.ObserveWaitingListAdd(models.WaitingSpace)
			}
		}
		return []models.Event{{
			Type:      models.EventWaitingListAdded,
			StudentID: student.ID,
			Data:      map[string]interface{}{"kind": string(models.WaitingSpace), "level": level, "reason": reason},
		}}, nil
	}

	fraction := s.remedialFraction(score)
	delayDays := fraction * float64(s.cfg.FormationDays[level])
	retryAt := now.Add(time.Duration(delayDays * float64(24*time.Hour)))

	active, err := s.remedial.ActiveByStudent(ctx, exec, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check remedial records")
	}
	if active == nil {
		record := &models.RemedialRecord{
			StudentID:    student.ID,
			Level:        level,
			FailingScore: score,
			DelayDays:    delayDays,
			FailedAt:     now,
			RetryAt:      retryAt,
			TrackLabel:   models.RemedialGroupLabel(level),
		}
		if err := s.remedial.Create(ctx, exec, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create remedial record")
		}
	} else {
		s.logger.Sugar().Warnw("student already on remedial track, keeping existing record",
			"student_id", student.ID, "record_id", active.ID)
	}

	student.GroupLabel = models.RemedialGroupLabel(level)
	student.Remedial = true
	if err := s.students.Update(ctx, exec, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move student to remedial track")
	}

	return []models.Event{{
		Type:      models.EventGroupAssigned,
		StudentID: student.ID,
		Data: map[string]interface{}{
			"group":    student.GroupLabel,
			"remedial": true,
			"retry_at": retryAt,
		},
	}}, nil
}

// remedialFraction maps a failing score onto its delay fraction: bands
// [20,40), [40,60) and [60,100].
func (s *AssignmentService) remedialFraction(score float64) float64 {
	switch {
	case score < 40:
		return s.cfg.RemedialFractions[0]
	case score < 60:
		return s.cfg.RemedialFractions[1]
	default:
		return s.cfg.RemedialFractions[2]
	}
}

// findGroupWithLeadTime scans all groups of a level for one with both a
// free seat and a formation window long enough, unlike FindAvailableGroup
// which stops at the first group with space.
func (s *AssignmentService) findGroupWithLeadTime(ctx context.Context, exec sqlx.ExtContext, level int, now time.Time) (*models.Group, error) {
	occupancy, err := s.groups.ListOccupancy(ctx, exec, level)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect groups")
	}
	required := float64(s.cfg.FormationDays[level])
	for i := range occupancy {
		g := occupancy[i]
		if g.Members >= s.cfg.GroupCapacity {
			continue
		}
		period, err := s.nextPeriodFor(ctx, exec, g.Level, g.Label(), now)
		if err != nil {
			return nil, err
		}
		if period == nil || period.StartTime.Sub(now).Hours()/24 >= required {
			group := g.Group
			return &group, nil
		}
	}
	return nil, nil
}

// Promote advances a student to the next level inside the caller's
// transaction. Passing level 5 makes the student an alumni. autoCreate
// forces a seat by materialising a new group instead of queueing, which
// the bonus-promotion path relies on. The returned events must be emitted
// by the caller after commit.
func (s *AssignmentService) Promote(ctx context.Context, exec sqlx.ExtContext, student *models.Student, reason string, autoCreate bool) ([]models.Event, error) {
	oldGroup := student.GroupLabel
	newLevel := student.Level + 1

	if newLevel > config.MaxLevel {
		student.Alumni = true
		student.Level = config.MaxLevel
		student.LevelsPassed = config.MaxLevel
		student.Remedial = false
		if err := s.students.Update(ctx, exec, student); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark alumni")
		}
		if s.metrics != nil {
			s.metrics.ObservePromotion("alumni")
		}
		return []models.Event{{
			Type:      models.EventPromoted,
			StudentID: student.ID,
			Data: map[string]interface{}{
				"old_group": oldGroup,
				"new_group": student.GroupLabel,
				"reason":    "alumni",
			},
		}}, nil
	}

	decision, err := s.FindAvailableGroup(ctx, exec, newLevel)
	if err != nil {
		return nil, err
	}

	// Promotion bypasses the formation-time confirmation: the student is
	// already committed to the program, so a short window is accepted.
	if decision.Kind == DecisionDirect || decision.Kind == DecisionNeedsConfirmation {
		student.LevelsPassed++
		if err := s.Assign(ctx, exec, student, decision.Group); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObservePromotion(reason)
		}
		return []models.Event{{
			Type:      models.EventPromoted,
			StudentID: student.ID,
			Data: map[string]interface{}{
				"old_group": oldGroup,
				"new_group": student.GroupLabel,
				"reason":    reason,
			},
		}}, nil
	}

	if autoCreate {
		group, err := s.materializeGroup(ctx, exec, newLevel)
		if err != nil {
			return nil, err
		}
		student.LevelsPassed++
		if err := s.Assign(ctx, exec, student, group); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObservePromotion(reason)
		}
		return []models.Event{{
			Type:      models.EventPromoted,
			StudentID: student.ID,
			Data: map[string]interface{}{
				"old_group": oldGroup,
				"new_group": student.GroupLabel,
				"reason":    reason,
			},
		}}, nil
	}

	// Level advances now; the group seat is pending on the waiting list.
	student.Level = newLevel
	student.GroupLabel = ""
	student.Remedial = false
	student.LevelsPassed++
	if err := s.students.Update(ctx, exec, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance student level")
	}

	queued, err := s.waiting.HasEntry(ctx, exec, student.ID, newLevel)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check waiting list")
	}
	if !queued {
		entry := &models.WaitingListEntry{
			StudentID: student.ID,
			Level:     newLevel,
			Kind:      decision.WaitingKind,
			Reason:    decision.Reason,
		}
		if err := s.waiting.Enqueue(ctx, exec, entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue promoted student")
		}
		if s.metrics != nil {
			s.metrics.ObserveWaitingListAdd(decision.WaitingKind)
		}
	}
	if s.metrics != nil {
		s.metrics.ObservePromotion(reason)
	}
	return []models.Event{
		{
			Type:      models.EventPromoted,
			StudentID: student.ID,
			Data: map[string]interface{}{
				"old_group": oldGroup,
				"new_group": "",
				"reason":    reason,
			},
		},
		{
			Type:      models.EventWaitingListAdded,
			StudentID: student.ID,
			Data:      map[string]interface{}{"kind": string(decision.WaitingKind), "level": newLevel, "reason": decision.Reason},
		},
	}, nil
}
