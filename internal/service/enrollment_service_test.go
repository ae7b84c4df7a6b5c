package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type stubEnrollmentRepo struct {
	enrollments map[string]*models.Enrollment
	yearByClass map[string]string
	seq         int
	transfers   []string
}

func newStubEnrollmentRepo(yearByClass map[string]string) *stubEnrollmentRepo {
	return &stubEnrollmentRepo{enrollments: make(map[string]*models.Enrollment), yearByClass: yearByClass}
}

func (m *stubEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *stubEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: *e, AcademicYearID: m.yearByClass[e.ClassID]}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubEnrollmentRepo) ExistsActiveInYear(ctx context.Context, studentID, academicYearID, excludeID string) (bool, error) {
	for id, e := range m.enrollments {
		if id == excludeID {
			continue
		}
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusActive && m.yearByClass[e.ClassID] == academicYearID {
			return true, nil
		}
	}
	return false, nil
}

func (m *stubEnrollmentRepo) FindActiveByStudentAndYear(ctx context.Context, studentID, academicYearID string) (*models.EnrollmentDetail, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusActive && m.yearByClass[e.ClassID] == academicYearID {
			return &models.EnrollmentDetail{Enrollment: *e, AcademicYearID: academicYearID}, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *stubEnrollmentRepo) CountActiveByClass(ctx context.Context, classID string) (int, error) {
	count := 0
	for _, e := range m.enrollments {
		if e.ClassID == classID && e.Status == models.EnrollmentStatusActive {
			count++
		}
	}
	return count, nil
}

func (m *stubEnrollmentRepo) ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if e.ClassID == classID && e.Status == models.EnrollmentStatusActive {
			list = append(list, models.EnrollmentDetail{Enrollment: *e})
		}
	}
	return list, nil
}

func (m *stubEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		m.seq++
		enrollment.ID = fmt.Sprintf("enr-%d", m.seq)
	}
	copy := *enrollment
	m.enrollments[enrollment.ID] = &copy
	return nil
}

func (m *stubEnrollmentRepo) Transfer(ctx context.Context, oldID string, replacement *models.Enrollment) error {
	old, ok := m.enrollments[oldID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	old.Status = models.EnrollmentStatusWithdrawn
	old.WithdrawnAt = &now
	replacement.Status = models.EnrollmentStatusActive
	if replacement.ID == "" {
		m.seq++
		replacement.ID = fmt.Sprintf("enr-%d", m.seq)
	}
	copy := *replacement
	m.enrollments[replacement.ID] = &copy
	m.transfers = append(m.transfers, oldID)
	return nil
}

func (m *stubEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	e.WithdrawnAt = withdrawnAt
	return nil
}

type stubClassReader struct {
	classes map[string]*models.Class
}

func (m *stubClassReader) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type stubUserReader struct {
	users map[string]*models.User
}

func (m *stubUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubUserReader) HasRole(ctx context.Context, userID string, role models.UserRole) (bool, error) {
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	return u.Active && u.Role == role, nil
}

func newEnrollmentFixture() (*stubEnrollmentRepo, *EnrollmentService) {
	repo := newStubEnrollmentRepo(map[string]string{"c1": "y1", "c2": "y1", "c3": "y2"})
	classes := &stubClassReader{classes: map[string]*models.Class{
		"c1": {ID: "c1", AcademicYearID: "y1", MaxStudents: 2},
		"c2": {ID: "c2", AcademicYearID: "y1", MaxStudents: 30},
		"c3": {ID: "c3", AcademicYearID: "y2", MaxStudents: 30},
	}}
	users := &stubUserReader{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Active: true},
		"s2": {ID: "s2", Role: models.RoleStudent, Active: true},
		"s3": {ID: "s3", Role: models.RoleStudent, Active: true},
		"t1": {ID: "t1", Role: models.RoleTeacher, Active: true},
	}}
	svc := NewEnrollmentService(repo, classes, users, nil, validator.New(), zap.NewNop())
	return repo, svc
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	_, svc := newEnrollmentFixture()

	detail, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Equal(t, "c1", detail.ClassID)
}

func TestEnrollmentServiceEnrollRejectsNonStudent(t *testing.T) {
	_, svc := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "t1", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollRejectsDuplicateInYear(t *testing.T) {
	_, svc := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	// Same year, different class.
	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)

	// A different year is fine.
	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c3"})
	require.NoError(t, err)
}

func TestEnrollmentServiceCapacityFreedByWithdrawal(t *testing.T) {
	_, svc := newEnrollmentFixture()

	first, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s2", ClassID: "c1"})
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s3", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrClassFull.Code, appErrors.FromError(err).Code)

	_, err = svc.Withdraw(context.Background(), first.ID)
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s3", ClassID: "c1"})
	require.NoError(t, err)
}

func TestEnrollmentServiceTransfer(t *testing.T) {
	repo, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	detail, err := svc.Transfer(context.Background(), enrolled.ID, TransferEnrollmentRequest{TargetClassID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", detail.ClassID)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.NotEqual(t, enrolled.ID, detail.ID)
	assert.Contains(t, repo.transfers, enrolled.ID)

	old, err := repo.FindByID(context.Background(), enrolled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, old.Status)
	assert.NotNil(t, old.WithdrawnAt)
}

func TestEnrollmentServiceTransferRevalidatesStudentRole(t *testing.T) {
	repo := newStubEnrollmentRepo(map[string]string{"c1": "y1", "c2": "y1"})
	classes := &stubClassReader{classes: map[string]*models.Class{
		"c1": {ID: "c1", AcademicYearID: "y1", MaxStudents: 30},
		"c2": {ID: "c2", AcademicYearID: "y1", MaxStudents: 30},
	}}
	users := &stubUserReader{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Active: true},
	}}
	svc := NewEnrollmentService(repo, classes, users, nil, validator.New(), zap.NewNop())

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	// role changed after enrolling; transfer must fail the same way a fresh
	// enrollment would
	users.users["s1"].Role = models.RoleTeacher

	_, err = svc.Transfer(context.Background(), enrolled.ID, TransferEnrollmentRequest{TargetClassID: "c2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)

	users.users["s1"].Role = models.RoleStudent
	users.users["s1"].Active = false

	_, err = svc.Transfer(context.Background(), enrolled.ID, TransferEnrollmentRequest{TargetClassID: "c2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceTransferRejectsCrossYearTarget(t *testing.T) {
	_, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	_, err = svc.Transfer(context.Background(), enrolled.ID, TransferEnrollmentRequest{TargetClassID: "c3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceTransferRejectsWithdrawnEnrollment(t *testing.T) {
	_, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	_, err = svc.Withdraw(context.Background(), enrolled.ID)
	require.NoError(t, err)

	_, err = svc.Transfer(context.Background(), enrolled.ID, TransferEnrollmentRequest{TargetClassID: "c2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceWithdrawTwiceFails(t *testing.T) {
	_, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)

	detail, err := svc.Withdraw(context.Background(), enrolled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, detail.Status)
	assert.NotNil(t, detail.WithdrawnAt)

	_, err = svc.Withdraw(context.Background(), enrolled.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceReactivate(t *testing.T) {
	_, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	_, err = svc.Withdraw(context.Background(), enrolled.ID)
	require.NoError(t, err)

	detail, err := svc.Reactivate(context.Background(), enrolled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Nil(t, detail.WithdrawnAt)
}

func TestEnrollmentServiceReactivateBlockedByOtherActive(t *testing.T) {
	_, svc := newEnrollmentFixture()

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	_, err = svc.Withdraw(context.Background(), enrolled.ID)
	require.NoError(t, err)

	// Student meanwhile got enrolled elsewhere in the same year.
	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "c2"})
	require.NoError(t, err)

	_, err = svc.Reactivate(context.Background(), enrolled.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}
