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

type stubClassSubjectRepo struct {
	windows     map[string]*models.ClassSubject
	assessments map[string]int
	seq         int
}

func newStubClassSubjectRepo() *stubClassSubjectRepo {
	return &stubClassSubjectRepo{
		windows:     make(map[string]*models.ClassSubject),
		assessments: make(map[string]int),
	}
}

func (m *stubClassSubjectRepo) FindByID(ctx context.Context, id string) (*models.ClassSubject, error) {
	if cs, ok := m.windows[id]; ok {
		copy := *cs
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubClassSubjectRepo) FindOpenWindow(ctx context.Context, classID, subjectID string) (*models.ClassSubject, error) {
	for _, cs := range m.windows {
		if cs.ClassID == classID && cs.SubjectID == subjectID && cs.ValidTo == nil {
			copy := *cs
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *stubClassSubjectRepo) ListOpenByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	var list []models.ClassSubjectDetail
	for _, cs := range m.windows {
		if cs.ClassID == classID && cs.ValidTo == nil {
			list = append(list, models.ClassSubjectDetail{ClassSubject: *cs})
		}
	}
	return list, nil
}

func (m *stubClassSubjectRepo) History(ctx context.Context, classID, subjectID string, page, size int) ([]models.ClassSubjectDetail, int, error) {
	var list []models.ClassSubjectDetail
	for _, cs := range m.windows {
		if cs.ClassID == classID && cs.SubjectID == subjectID {
			list = append(list, models.ClassSubjectDetail{ClassSubject: *cs})
		}
	}
	return list, len(list), nil
}

func (m *stubClassSubjectRepo) Create(ctx context.Context, cs *models.ClassSubject) error {
	if cs.ID == "" {
		m.seq++
		cs.ID = fmt.Sprintf("cs-%d", m.seq)
	}
	copy := *cs
	m.windows[cs.ID] = &copy
	return nil
}

func (m *stubClassSubjectRepo) Replace(ctx context.Context, oldID string, effectiveDate time.Time, successor *models.ClassSubject) error {
	old, ok := m.windows[oldID]
	if !ok {
		return sql.ErrNoRows
	}
	end := effectiveDate
	old.ValidTo = &end
	successor.ValidFrom = effectiveDate
	successor.ValidTo = nil
	if successor.ID == "" {
		m.seq++
		successor.ID = fmt.Sprintf("cs-%d", m.seq)
	}
	copy := *successor
	m.windows[successor.ID] = &copy
	return nil
}

func (m *stubClassSubjectRepo) UpdateCoefficient(ctx context.Context, id string, value float64) error {
	if cs, ok := m.windows[id]; ok {
		cs.Coefficient = value
		return nil
	}
	return sql.ErrNoRows
}

func (m *stubClassSubjectRepo) Close(ctx context.Context, id string, endDate time.Time) error {
	cs, ok := m.windows[id]
	if !ok || cs.ValidTo != nil {
		return sql.ErrNoRows
	}
	end := endDate
	cs.ValidTo = &end
	return nil
}

func (m *stubClassSubjectRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.windows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.windows, id)
	return nil
}

func (m *stubClassSubjectRepo) CountAssessments(ctx context.Context, id string) (int, error) {
	return m.assessments[id], nil
}

type stubSubjectReader struct {
	subjects map[string]*models.Subject
}

func (m *stubSubjectReader) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	if s, ok := m.subjects[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func newClassSubjectFixture() (*stubClassSubjectRepo, *ClassSubjectService) {
	repo := newStubClassSubjectRepo()
	classes := &stubClassReader{classes: map[string]*models.Class{
		"c1": {ID: "c1", AcademicYearID: "y1", MaxStudents: 30},
	}}
	subjects := &stubSubjectReader{subjects: map[string]*models.Subject{
		"math": {ID: "math", Code: "MATH", Name: "Mathematics"},
	}}
	users := &stubUserReader{users: map[string]*models.User{
		"t1": {ID: "t1", Role: models.RoleTeacher, Active: true},
		"t2": {ID: "t2", Role: models.RoleTeacher, Active: true},
		"s1": {ID: "s1", Role: models.RoleStudent, Active: true},
	}}
	svc := NewClassSubjectService(repo, classes, subjects, users, nil, validator.New(), zap.NewNop())
	return repo, svc
}

func TestClassSubjectServiceAssign(t *testing.T) {
	_, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)
	assert.True(t, cs.Open())
	assert.Equal(t, 2.0, cs.Coefficient)
}

func TestClassSubjectServiceAssignRejectsNonTeacher(t *testing.T) {
	_, svc := newClassSubjectFixture()

	_, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "s1", Coefficient: 2,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)
}

func TestClassSubjectServiceAssignRejectsSecondOpenWindow(t *testing.T) {
	_, svc := newClassSubjectFixture()

	_, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	_, err = svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t2", Coefficient: 2,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestClassSubjectServiceReplaceTeacherKeepsWindowsDisjoint(t *testing.T) {
	repo, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	effective := cs.ValidFrom.Add(30 * 24 * time.Hour)
	successor, err := svc.ReplaceTeacher(context.Background(), cs.ID, ReplaceTeacherRequest{
		NewTeacherID: "t2", EffectiveDate: &effective,
	})
	require.NoError(t, err)
	assert.Equal(t, "t2", successor.TeacherID)
	assert.Equal(t, 2.0, successor.Coefficient)
	assert.Equal(t, effective, successor.ValidFrom)
	assert.Nil(t, successor.ValidTo)

	closed := repo.windows[cs.ID]
	require.NotNil(t, closed.ValidTo)
	assert.Equal(t, effective, *closed.ValidTo)

	open, err := repo.FindOpenWindow(context.Background(), "c1", "math")
	require.NoError(t, err)
	assert.Equal(t, successor.ID, open.ID)
}

func TestClassSubjectServiceReplaceTeacherRejectsClosedWindow(t *testing.T) {
	_, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)
	_, err = svc.Terminate(context.Background(), cs.ID, nil)
	require.NoError(t, err)

	_, err = svc.ReplaceTeacher(context.Background(), cs.ID, ReplaceTeacherRequest{NewTeacherID: "t2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestClassSubjectServiceReplaceTeacherRejectsSameTeacher(t *testing.T) {
	_, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	_, err = svc.ReplaceTeacher(context.Background(), cs.ID, ReplaceTeacherRequest{NewTeacherID: "t1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestClassSubjectServiceUpdateCoefficient(t *testing.T) {
	repo, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateCoefficient(context.Background(), cs.ID, UpdateCoefficientRequest{Coefficient: 3})
	require.NoError(t, err)
	assert.Equal(t, 3.0, updated.Coefficient)
	assert.Equal(t, 3.0, repo.windows[cs.ID].Coefficient)
}

func TestClassSubjectServiceTerminateTwiceFails(t *testing.T) {
	_, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	terminated, err := svc.Terminate(context.Background(), cs.ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, terminated.ValidTo)

	_, err = svc.Terminate(context.Background(), cs.ID, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestClassSubjectServiceTerminateKeepsWindowForHistory(t *testing.T) {
	repo, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	// no assessment was ever created under this window; the row must still
	// survive termination so the teaching period stays in the history
	terminated, err := svc.Terminate(context.Background(), cs.ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, terminated.ValidTo)

	require.Contains(t, repo.windows, cs.ID)
	assert.NotNil(t, repo.windows[cs.ID].ValidTo)

	history, _, err := svc.History(context.Background(), "c1", "math", 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestClassSubjectServiceDeleteRemovesUnusedWindow(t *testing.T) {
	repo, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), cs.ID))
	assert.NotContains(t, repo.windows, cs.ID)
}

func TestClassSubjectServiceDeleteRejectsWindowWithAssessments(t *testing.T) {
	repo, svc := newClassSubjectFixture()

	cs, err := svc.Assign(context.Background(), AssignTeacherRequest{
		ClassID: "c1", SubjectID: "math", TeacherID: "t1", Coefficient: 2,
	})
	require.NoError(t, err)
	repo.assessments[cs.ID] = 1

	err = svc.Delete(context.Background(), cs.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Contains(t, repo.windows, cs.ID)
}
