package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type classSubjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSubject, error)
	FindOpenWindow(ctx context.Context, classID, subjectID string) (*models.ClassSubject, error)
	ListOpenByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error)
	History(ctx context.Context, classID, subjectID string, page, size int) ([]models.ClassSubjectDetail, int, error)
	Create(ctx context.Context, cs *models.ClassSubject) error
	Replace(ctx context.Context, oldID string, effectiveDate time.Time, successor *models.ClassSubject) error
	UpdateCoefficient(ctx context.Context, id string, value float64) error
	Close(ctx context.Context, id string, endDate time.Time) error
	Delete(ctx context.Context, id string) error
	CountAssessments(ctx context.Context, id string) (int, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

// AssignTeacherRequest describes teaching assignment creation payload.
type AssignTeacherRequest struct {
	ClassID     string     `json:"class_id" validate:"required"`
	SubjectID   string     `json:"subject_id" validate:"required"`
	TeacherID   string     `json:"teacher_id" validate:"required"`
	SemesterID  *string    `json:"semester_id,omitempty"`
	Coefficient float64    `json:"coefficient" validate:"required,gt=0"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
}

// ReplaceTeacherRequest describes a mid-year teacher change.
type ReplaceTeacherRequest struct {
	NewTeacherID  string     `json:"new_teacher_id" validate:"required"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

// UpdateCoefficientRequest describes a coefficient change.
type UpdateCoefficientRequest struct {
	Coefficient float64 `json:"coefficient" validate:"required,gt=0"`
}

// ClassSubjectService manages the versioned teaching assignment ledger.
type ClassSubjectService struct {
	repo      classSubjectRepository
	classes   classReader
	subjects  subjectReader
	users     userReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassSubjectService constructs ClassSubjectService.
func NewClassSubjectService(repo classSubjectRepository, classes classReader, subjects subjectReader, users userReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ClassSubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassSubjectService{repo: repo, classes: classes, subjects: subjects, users: users, cache: cache, validator: validate, logger: logger}
}

// Get loads one teaching assignment.
func (s *ClassSubjectService) Get(ctx context.Context, id string) (*models.ClassSubject, error) {
	cs, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	return cs, nil
}

// ListForClass returns the open teaching assignments of a class.
func (s *ClassSubjectService) ListForClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	assignments, err := s.repo.ListOpenByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teaching assignments")
	}
	return assignments, nil
}

// History returns all assignment windows for (class, subject), newest first.
func (s *ClassSubjectService) History(ctx context.Context, classID, subjectID string, page, size int) ([]models.ClassSubjectDetail, *models.Pagination, error) {
	history, total, err := s.repo.History(ctx, classID, subjectID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teaching history")
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return history, pagination, nil
}

// Assign opens a teaching assignment window. Only one open window may exist
// per (class, subject) pair.
func (s *ClassSubjectService) Assign(ctx context.Context, req AssignTeacherRequest) (*models.ClassSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if _, err := s.subjects.FindByID(ctx, req.SubjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if err := s.requireTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindOpenWindow(ctx, req.ClassID, req.SubjectID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject already has an open assignment in this class")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open assignment")
	}
	validFrom := time.Now().UTC()
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}
	cs := &models.ClassSubject{
		ClassID:     req.ClassID,
		SubjectID:   req.SubjectID,
		TeacherID:   req.TeacherID,
		SemesterID:  req.SemesterID,
		Coefficient: req.Coefficient,
		ValidFrom:   validFrom,
	}
	if err := s.repo.Create(ctx, cs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teaching assignment")
	}
	s.invalidateClassCaches(ctx, req.ClassID)
	s.logger.Info("teacher assigned",
		zap.String("class_subject_id", cs.ID),
		zap.String("class_id", req.ClassID),
		zap.String("subject_id", req.SubjectID),
		zap.String("teacher_id", req.TeacherID))
	return cs, nil
}

// ReplaceTeacher closes the current window and opens a successor window under
// the new teacher, atomically. The successor inherits coefficient and
// semester unless the caller later changes them.
func (s *ClassSubjectService) ReplaceTeacher(ctx context.Context, id string, req ReplaceTeacherRequest) (*models.ClassSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid replacement payload")
	}
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	if !current.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment window already closed")
	}
	if current.TeacherID == req.NewTeacherID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher already holds this assignment")
	}
	if err := s.requireTeacher(ctx, req.NewTeacherID); err != nil {
		return nil, err
	}
	effective := time.Now().UTC()
	if req.EffectiveDate != nil {
		effective = req.EffectiveDate.UTC()
	}
	if effective.Before(current.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "effective date precedes current window start")
	}
	successor := &models.ClassSubject{
		ClassID:     current.ClassID,
		SubjectID:   current.SubjectID,
		TeacherID:   req.NewTeacherID,
		SemesterID:  current.SemesterID,
		Coefficient: current.Coefficient,
	}
	if err := s.repo.Replace(ctx, id, effective, successor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace teacher")
	}
	s.invalidateClassCaches(ctx, current.ClassID)
	s.logger.Info("teacher replaced",
		zap.String("closed_window_id", id),
		zap.String("successor_id", successor.ID),
		zap.String("new_teacher_id", req.NewTeacherID))
	return successor, nil
}

// UpdateCoefficient changes the weight of an open assignment in place. The
// new value applies to every future aggregation; no history is kept.
func (s *ClassSubjectService) UpdateCoefficient(ctx context.Context, id string, req UpdateCoefficientRequest) (*models.ClassSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid coefficient payload")
	}
	cs, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	if !cs.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment window already closed")
	}
	if err := s.repo.UpdateCoefficient(ctx, id, req.Coefficient); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update coefficient")
	}
	cs.Coefficient = req.Coefficient
	s.invalidateClassCaches(ctx, cs.ClassID)
	return cs, nil
}

// Terminate closes the open window without a successor, e.g. when a subject
// stops being taught in the class. The row is kept so teaching history stays
// complete even for windows that never produced an assessment.
func (s *ClassSubjectService) Terminate(ctx context.Context, id string, endDate *time.Time) (*models.ClassSubject, error) {
	cs, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	if !cs.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment window already closed")
	}
	end := time.Now().UTC()
	if endDate != nil {
		end = endDate.UTC()
	}
	if end.Before(cs.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date precedes window start")
	}
	if err := s.repo.Close(ctx, id, end); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment window already closed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to terminate teaching assignment")
	}
	cs.ValidTo = &end
	s.invalidateClassCaches(ctx, cs.ClassID)
	s.logger.Info("teaching assignment terminated", zap.String("class_subject_id", id))
	return cs, nil
}

// Delete removes a window that never produced an assessment, e.g. one
// created by mistake. Windows with assessments can only be terminated.
func (s *ClassSubjectService) Delete(ctx context.Context, id string) error {
	cs, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	count, err := s.repo.CountAssessments(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assessments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment has assessments attached")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete teaching assignment")
	}
	s.invalidateClassCaches(ctx, cs.ClassID)
	s.logger.Info("teaching assignment deleted", zap.String("class_subject_id", id))
	return nil
}

func (s *ClassSubjectService) requireTeacher(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrInvalidState, "teacher account inactive")
	}
	isTeacher, err := s.users.HasRole(ctx, userID, models.RoleTeacher)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role")
	}
	if !isTeacher {
		return appErrors.Clone(appErrors.ErrInvalidRole, "user is not a teacher")
	}
	return nil
}

func (s *ClassSubjectService) invalidateClassCaches(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("grades:class:%s:*", classID))
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("results:class:%s", classID))
}
