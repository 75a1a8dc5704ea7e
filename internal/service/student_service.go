package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/internal/repository"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
)

type studentRepo interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

// RegisterStudentRequest registers a student by their external identity.
// The ID comes from the chat adapter, so registration must be idempotent
// against adapter retries.
type RegisterStudentRequest struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Level       int    `json:"level" validate:"omitempty,min=1,max=5"`
}

// RegistrationResult reports the created (or pre-existing) student and
// the placement decision taken for a fresh registration.
type RegistrationResult struct {
	Student           *models.Student `json:"student"`
	Decision          *Decision       `json:"decision,omitempty"`
	AlreadyRegistered bool            `json:"already_registered"`
}

// StudentService handles registration and lookups.
type StudentService struct {
	students   studentRepo
	assignment *AssignmentService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewStudentService wires the registration flow.
func NewStudentService(students studentRepo, assignment *AssignmentService, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		students:   students,
		assignment: assignment,
		validator:  validator.New(),
		logger:     logger,
	}
}

// Register creates a student and runs the initial group placement. A
// repeat registration for an existing ID returns the current record
// untouched.
func (s *StudentService) Register(ctx context.Context, req RegisterStudentRequest) (*RegistrationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	level := req.Level
	if level == 0 {
		level = 1
	}

	existing, err := s.students.FindByID(ctx, nil, req.ID)
	if err == nil {
		return &RegistrationResult{Student: existing, AlreadyRegistered: true}, nil
	}
	if !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
	}

	student := &models.Student{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Level:       level,
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	decision, err := s.assignment.PlaceStudent(ctx, student)
	if err != nil {
		return nil, err
	}
	s.logger.Sugar().Infow("student registered",
		"student_id", student.ID, "level", student.Level, "decision", decision.Kind)
	return &RegistrationResult{Student: student, Decision: &decision}, nil
}

// ConfirmPlacement resolves a student's pending needs-confirmation
// decision.
func (s *StudentService) ConfirmPlacement(ctx context.Context, studentID string, accept bool) (*Decision, error) {
	student, err := s.students.FindByID(ctx, nil, studentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("student %s is not registered", studentID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	decision, err := s.assignment.ConfirmPlacement(ctx, student, accept)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, nil, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("student %s is not registered", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// List returns students matching the filter with a total count for
// pagination.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, nil
}
