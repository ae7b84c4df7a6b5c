package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type stubYearRepo struct {
	years     map[string]*models.AcademicYear
	semesters map[string][]models.Semester
	classes   map[string]int
}

func newStubYearRepo() *stubYearRepo {
	return &stubYearRepo{
		years:     make(map[string]*models.AcademicYear),
		semesters: make(map[string][]models.Semester),
		classes:   make(map[string]int),
	}
}

func (m *stubYearRepo) List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error) {
	var list []models.AcademicYear
	for _, y := range m.years {
		list = append(list, *y)
	}
	return list, len(list), nil
}

func (m *stubYearRepo) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	if y, ok := m.years[id]; ok {
		copy := *y
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubYearRepo) FindCurrent(ctx context.Context) (*models.AcademicYear, error) {
	for _, y := range m.years {
		if y.IsCurrent {
			copy := *y
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *stubYearRepo) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = "year-" + year.Name
	}
	copy := *year
	m.years[year.ID] = &copy
	return nil
}

func (m *stubYearRepo) Update(ctx context.Context, year *models.AcademicYear) error {
	copy := *year
	m.years[year.ID] = &copy
	return nil
}

func (m *stubYearRepo) SetCurrent(ctx context.Context, id string) error {
	for _, y := range m.years {
		y.IsCurrent = y.ID == id
	}
	return nil
}

func (m *stubYearRepo) ClearCurrent(ctx context.Context, id string) error {
	if y, ok := m.years[id]; ok {
		y.IsCurrent = false
	}
	return nil
}

func (m *stubYearRepo) Delete(ctx context.Context, id string) error {
	delete(m.years, id)
	return nil
}

func (m *stubYearRepo) CountClasses(ctx context.Context, id string) (int, error) {
	return m.classes[id], nil
}

func (m *stubYearRepo) ListSemesters(ctx context.Context, yearID string) ([]models.Semester, error) {
	return m.semesters[yearID], nil
}

func (m *stubYearRepo) FindSemester(ctx context.Context, id string) (*models.Semester, error) {
	for _, list := range m.semesters {
		for _, sem := range list {
			if sem.ID == id {
				return &sem, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (m *stubYearRepo) ExistsSemesterOrder(ctx context.Context, yearID string, orderNumber int) (bool, error) {
	for _, sem := range m.semesters[yearID] {
		if sem.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *stubYearRepo) CreateSemester(ctx context.Context, semester *models.Semester) error {
	if semester.ID == "" {
		semester.ID = "sem-" + semester.Name
	}
	m.semesters[semester.AcademicYearID] = append(m.semesters[semester.AcademicYearID], *semester)
	return nil
}

func seedYear(repo *stubYearRepo, id string, current bool) *models.AcademicYear {
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	year := &models.AcademicYear{
		ID:        id,
		Name:      id,
		StartDate: start,
		EndDate:   start.AddDate(0, 10, 0),
		IsCurrent: current,
	}
	repo.years[id] = year
	return year
}

func TestAcademicYearServiceSetCurrentKeepsSingleton(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", true)
	seedYear(repo, "y2", false)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	year, err := svc.SetCurrent(context.Background(), "y2")
	require.NoError(t, err)
	assert.True(t, year.IsCurrent)

	currentCount := 0
	for _, y := range repo.years {
		if y.IsCurrent {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)
	assert.False(t, repo.years["y1"].IsCurrent)
}

func TestAcademicYearServiceSetCurrentIdempotent(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	year, err := svc.SetCurrent(context.Background(), "y1")
	require.NoError(t, err)
	assert.True(t, year.IsCurrent)
}

func TestAcademicYearServiceArchiveMayLeaveNoCurrent(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	year, err := svc.Archive(context.Background(), "y1")
	require.NoError(t, err)
	assert.False(t, year.IsCurrent)

	_, err = svc.GetCurrent(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearServiceArchiveIdempotent(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", false)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	year, err := svc.Archive(context.Background(), "y1")
	require.NoError(t, err)
	assert.False(t, year.IsCurrent)
}

func TestAcademicYearServiceDeleteBlockedByClasses(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", false)
	repo.classes["y1"] = 3
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "y1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearServiceDeleteRejectsCurrentYear(t *testing.T) {
	repo := newStubYearRepo()
	seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "y1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Contains(t, repo.years, "y1")
}

func TestAcademicYearServiceCreateSemesterRejectsOverlap(t *testing.T) {
	repo := newStubYearRepo()
	year := seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	_, err := svc.CreateSemester(context.Background(), "y1", CreateSemesterRequest{
		Name:        "S1",
		StartDate:   year.StartDate,
		EndDate:     year.StartDate.AddDate(0, 4, 0),
		OrderNumber: 1,
	})
	require.NoError(t, err)

	_, err = svc.CreateSemester(context.Background(), "y1", CreateSemesterRequest{
		Name:        "S2",
		StartDate:   year.StartDate.AddDate(0, 3, 0),
		EndDate:     year.StartDate.AddDate(0, 8, 0),
		OrderNumber: 2,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearServiceCreateSemesterRejectsDuplicateOrder(t *testing.T) {
	repo := newStubYearRepo()
	year := seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	_, err := svc.CreateSemester(context.Background(), "y1", CreateSemesterRequest{
		Name:        "S1",
		StartDate:   year.StartDate,
		EndDate:     year.StartDate.AddDate(0, 4, 0),
		OrderNumber: 1,
	})
	require.NoError(t, err)

	_, err = svc.CreateSemester(context.Background(), "y1", CreateSemesterRequest{
		Name:        "S1bis",
		StartDate:   year.StartDate.AddDate(0, 5, 0),
		EndDate:     year.StartDate.AddDate(0, 9, 0),
		OrderNumber: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearServiceCreateSemesterRejectsOutsideYear(t *testing.T) {
	repo := newStubYearRepo()
	year := seedYear(repo, "y1", true)
	svc := NewAcademicYearService(repo, validator.New(), zap.NewNop())

	_, err := svc.CreateSemester(context.Background(), "y1", CreateSemesterRequest{
		Name:        "S1",
		StartDate:   year.StartDate.AddDate(0, -1, 0),
		EndDate:     year.StartDate.AddDate(0, 4, 0),
		OrderNumber: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
