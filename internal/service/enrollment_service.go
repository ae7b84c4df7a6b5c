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

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActiveInYear(ctx context.Context, studentID, academicYearID, excludeID string) (bool, error)
	FindActiveByStudentAndYear(ctx context.Context, studentID, academicYearID string) (*models.EnrollmentDetail, error)
	CountActiveByClass(ctx context.Context, classID string) (int, error)
	ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Transfer(ctx context.Context, oldID string, replacement *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	HasRole(ctx context.Context, userID string, role models.UserRole) (bool, error)
}

// EnrollStudentRequest describes enrollment creation payload.
type EnrollStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
}

// TransferEnrollmentRequest describes transfer payload.
type TransferEnrollmentRequest struct {
	TargetClassID string `json:"target_class_id" validate:"required"`
}

// EnrollmentService orchestrates the enrollment lifecycle. Every mutation
// keeps the one-active-enrollment-per-student-per-year rule intact.
type EnrollmentService struct {
	repo      enrollmentRepository
	classes   classReader
	users     userReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, classes classReader, users userReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, classes: classes, users: users, cache: cache, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get loads one enrollment with context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// ActiveEnrollmentFor returns the single active enrollment of a student in an
// academic year.
func (s *EnrollmentService) ActiveEnrollmentFor(ctx context.Context, studentID, academicYearID string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindActiveByStudentAndYear(ctx, studentID, academicYearID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active enrollment for student in year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active enrollment")
	}
	return detail, nil
}

// Roster returns the active enrollments of a class.
func (s *EnrollmentService) Roster(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	roster, err := s.repo.ListActiveByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class roster")
	}
	return roster, nil
}

// Enroll registers a student into a class. The target user must hold the
// student role, the class must have room, and the student must not already
// hold an active enrollment in the class's academic year.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student account inactive")
	}
	isStudent, err := s.users.HasRole(ctx, req.StudentID, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role")
	}
	if !isStudent {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "user is not a student")
	}
	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	exists, err := s.repo.ExistsActiveInYear(ctx, req.StudentID, class.AcademicYearID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	}
	if err := s.checkCapacity(ctx, class); err != nil {
		return nil, err
	}
	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		EnrolledAt: time.Now().UTC(),
		Status:     models.EnrollmentStatusActive,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.invalidateClassCaches(ctx, req.ClassID)
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("class_id", req.ClassID))
	return s.detail(ctx, enrollment.ID)
}

// Transfer withdraws the enrollment and creates a replacement in the target
// class in one transaction. The target must belong to the same academic year,
// and the student is re-validated exactly as on a fresh enrollment.
func (s *EnrollmentService) Transfer(ctx context.Context, id string, req TransferEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is not active")
	}
	if enrollment.ClassID == req.TargetClassID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "already in target class")
	}
	student, err := s.users.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student account inactive")
	}
	isStudent, err := s.users.HasRole(ctx, enrollment.StudentID, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role")
	}
	if !isStudent {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "user is not a student")
	}
	source, err := s.classes.FindByID(ctx, enrollment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source class")
	}
	target, err := s.classes.FindByID(ctx, req.TargetClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target class")
	}
	if target.AcademicYearID != source.AcademicYearID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target class belongs to a different academic year")
	}
	if err := s.checkCapacity(ctx, target); err != nil {
		return nil, err
	}
	replacement := &models.Enrollment{
		StudentID:  enrollment.StudentID,
		ClassID:    req.TargetClassID,
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.repo.Transfer(ctx, id, replacement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transfer enrollment")
	}
	s.invalidateClassCaches(ctx, enrollment.ClassID)
	s.invalidateClassCaches(ctx, req.TargetClassID)
	s.logger.Info("student transferred",
		zap.String("enrollment_id", id),
		zap.String("replacement_id", replacement.ID),
		zap.String("target_class_id", req.TargetClassID))
	return s.detail(ctx, replacement.ID)
}

// Withdraw marks an active enrollment as withdrawn.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment already withdrawn")
	}
	withdrawnAt := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusWithdrawn, &withdrawnAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	s.invalidateClassCaches(ctx, enrollment.ClassID)
	s.logger.Info("student withdrawn", zap.String("enrollment_id", id))
	return s.detail(ctx, id)
}

// Reactivate flips a withdrawn enrollment back to active, re-checking the
// duplicate and capacity rules as if enrolling fresh.
func (s *EnrollmentService) Reactivate(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is not withdrawn")
	}
	class, err := s.classes.FindByID(ctx, enrollment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	exists, err := s.repo.ExistsActiveInYear(ctx, enrollment.StudentID, class.AcademicYearID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student holds another active enrollment this year")
	}
	if err := s.checkCapacity(ctx, class); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusActive, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
	}
	s.invalidateClassCaches(ctx, enrollment.ClassID)
	s.logger.Info("enrollment reactivated", zap.String("enrollment_id", id))
	return s.detail(ctx, id)
}

func (s *EnrollmentService) checkCapacity(ctx context.Context, class *models.Class) error {
	if class.MaxStudents <= 0 {
		return nil
	}
	count, err := s.repo.CountActiveByClass(ctx, class.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count class occupancy")
	}
	if count >= class.MaxStudents {
		return appErrors.Clone(appErrors.ErrClassFull, "")
	}
	return nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) invalidateClassCaches(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("grades:class:%s:*", classID))
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("results:class:%s", classID))
}
