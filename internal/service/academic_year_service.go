package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type academicYearRepository interface {
	List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error)
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindCurrent(ctx context.Context) (*models.AcademicYear, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	Update(ctx context.Context, year *models.AcademicYear) error
	SetCurrent(ctx context.Context, id string) error
	ClearCurrent(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	CountClasses(ctx context.Context, id string) (int, error)
	ListSemesters(ctx context.Context, yearID string) ([]models.Semester, error)
	FindSemester(ctx context.Context, id string) (*models.Semester, error)
	ExistsSemesterOrder(ctx context.Context, yearID string, orderNumber int) (bool, error)
	CreateSemester(ctx context.Context, semester *models.Semester) error
}

// CreateAcademicYearRequest describes year creation payload.
type CreateAcademicYearRequest struct {
	Name      string    `json:"name" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// UpdateAcademicYearRequest describes year update payload.
type UpdateAcademicYearRequest struct {
	Name      string    `json:"name" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// CreateSemesterRequest describes semester creation payload.
type CreateSemesterRequest struct {
	Name        string    `json:"name" validate:"required"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	OrderNumber int       `json:"order_number" validate:"required,min=1"`
}

// AcademicYearService manages academic years and their semesters.
type AcademicYearService struct {
	repo      academicYearRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAcademicYearService constructs AcademicYearService.
func NewAcademicYearService(repo academicYearRepository, validate *validator.Validate, logger *zap.Logger) *AcademicYearService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcademicYearService{repo: repo, validator: validate, logger: logger}
}

// List returns academic years with pagination metadata.
func (s *AcademicYearService) List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, *models.Pagination, error) {
	years, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
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
	return years, pagination, nil
}

// Get loads one academic year.
func (s *AcademicYearService) Get(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	return year, nil
}

// GetCurrent returns the year currently flagged as current, or a not-found
// error when none is (possible right after an archive).
func (s *AcademicYearService) GetCurrent(ctx context.Context) (*models.AcademicYear, error) {
	year, err := s.repo.FindCurrent(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current academic year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current academic year")
	}
	return year, nil
}

// Create registers a new academic year. New years are never current on
// creation; switching is an explicit operation.
func (s *AcademicYearService) Create(ctx context.Context, req CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year := &models.AcademicYear{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate, IsCurrent: false}
	if err := s.repo.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}
	return year, nil
}

// Update modifies name and dates of an existing year.
func (s *AcademicYearService) Update(ctx context.Context, id string, req UpdateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	year.Name = req.Name
	year.StartDate = req.StartDate
	year.EndDate = req.EndDate
	if err := s.repo.Update(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update academic year")
	}
	return year, nil
}

// SetCurrent switches the current year to the given one. Deactivation of the
// previous current year and activation of the new one happen in one
// transaction, so at most one year is current at any time.
func (s *AcademicYearService) SetCurrent(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	if year.IsCurrent {
		return year, nil
	}
	if err := s.repo.SetCurrent(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to switch current academic year")
	}
	s.logger.Info("current academic year switched", zap.String("academic_year_id", id))
	year.IsCurrent = true
	return year, nil
}

// Archive clears the current flag on a year, idempotently. The system may be
// left with no current year until the next SetCurrent.
func (s *AcademicYearService) Archive(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	if !year.IsCurrent {
		return year, nil
	}
	if err := s.repo.ClearCurrent(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive academic year")
	}
	s.logger.Info("academic year archived", zap.String("academic_year_id", id))
	year.IsCurrent = false
	return year, nil
}

// Delete removes a year that is not current and has no classes attached.
func (s *AcademicYearService) Delete(ctx context.Context, id string) error {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	if year.IsCurrent {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot delete the current academic year")
	}
	count, err := s.repo.CountClasses(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count classes")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrInvalidState, "academic year has classes attached")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete academic year")
	}
	return nil
}

// ListSemesters returns the ordered semesters of a year.
func (s *AcademicYearService) ListSemesters(ctx context.Context, yearID string) ([]models.Semester, error) {
	if _, err := s.repo.FindByID(ctx, yearID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	semesters, err := s.repo.ListSemesters(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	return semesters, nil
}

// CreateSemester adds a semester to a year. The semester must sit inside the
// year's dates, keep a unique order number and not overlap its siblings.
func (s *AcademicYearService) CreateSemester(ctx context.Context, yearID string, req CreateSemesterRequest) (*models.Semester, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid semester payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year, err := s.repo.FindByID(ctx, yearID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	if req.StartDate.Before(year.StartDate) || req.EndDate.After(year.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester must fall within the academic year")
	}
	taken, err := s.repo.ExistsSemesterOrder(ctx, yearID, req.OrderNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate semester order")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "semester order already in use")
	}
	siblings, err := s.repo.ListSemesters(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	for _, sibling := range siblings {
		if req.StartDate.Before(sibling.EndDate) && sibling.StartDate.Before(req.EndDate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "semester overlaps an existing semester")
		}
	}
	semester := &models.Semester{
		AcademicYearID: yearID,
		Name:           req.Name,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		OrderNumber:    req.OrderNumber,
	}
	if err := s.repo.CreateSemester(ctx, semester); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create semester")
	}
	return semester, nil
}
