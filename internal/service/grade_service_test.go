package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type stubGradeRepo struct {
	studentRows map[string][]models.GradeRow
	classRows   map[string][]models.ClassResultRow
}

func (m *stubGradeRepo) ListStudentRows(ctx context.Context, studentID, classID string) ([]models.GradeRow, error) {
	return m.studentRows[studentID], nil
}

func (m *stubGradeRepo) ListClassRows(ctx context.Context, classID string) ([]models.ClassResultRow, error) {
	return m.classRows[classID], nil
}

type stubSubjectLister struct {
	windows []models.ClassSubjectDetail
}

func (m *stubSubjectLister) ListByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	return m.windows, nil
}

type stubMembership struct {
	enrolled map[string]bool
}

func (m *stubMembership) ExistsActiveInClass(ctx context.Context, studentID, classID string) (bool, error) {
	return m.enrolled[studentID], nil
}

func openSubject(id, name, teacherID string, coefficient float64) models.ClassSubjectDetail {
	return models.ClassSubjectDetail{
		ClassSubject: models.ClassSubject{
			ID:          "cs-" + id,
			ClassID:     "c1",
			SubjectID:   id,
			TeacherID:   teacherID,
			Coefficient: coefficient,
		},
		SubjectName: name,
	}
}

func closedSubject(id, name, teacherID string, coefficient float64, from, to time.Time) models.ClassSubjectDetail {
	w := openSubject(id, name, teacherID, coefficient)
	w.ValidFrom = from
	w.ValidTo = &to
	return w
}

func gradedRow(subjectID, assessmentID string, totalPoints, score float64) models.GradeRow {
	return models.GradeRow{
		SubjectID:      subjectID,
		ClassSubjectID: "cs-" + subjectID,
		AssessmentID:   assessmentID,
		TotalPoints:    totalPoints,
		Status:         models.AssignmentStatusGraded,
		Score:          &score,
	}
}

func newGradeFixture(repo *stubGradeRepo, subjects []models.ClassSubjectDetail) *GradeService {
	lister := &stubSubjectLister{windows: subjects}
	membership := &stubMembership{enrolled: map[string]bool{"s1": true, "s2": true}}
	classes := &stubClassReader{classes: map[string]*models.Class{
		"c1": {ID: "c1", AcademicYearID: "y1"},
	}}
	return NewGradeService(repo, lister, membership, classes, nil, nil, 20, 0, zap.NewNop())
}

func TestGradeServiceBreakdownWeightsByCoefficient(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			gradedRow("math", "a1", 20, 16),
			gradedRow("hist", "a2", 20, 10),
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
		openSubject("hist", "History", "t2", 1),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.Len(t, breakdown.Subjects, 2)
	require.NotNil(t, breakdown.Subjects[0].Average)
	assert.Equal(t, 16.0, *breakdown.Subjects[0].Average)
	require.NotNil(t, breakdown.Subjects[1].Average)
	assert.Equal(t, 10.0, *breakdown.Subjects[1].Average)

	// (16*2 + 10*1) / 3
	require.NotNil(t, breakdown.AnnualAverage)
	assert.Equal(t, 14.0, *breakdown.AnnualAverage)
}

func TestGradeServiceBreakdownExcludesUngradedSubjects(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			gradedRow("math", "a1", 20, 12),
			{SubjectID: "hist", ClassSubjectID: "cs-hist", AssessmentID: "a2", TotalPoints: 20, Status: models.AssignmentStatusSubmitted},
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
		openSubject("hist", "History", "t2", 3),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)

	var hist models.SubjectGrade
	for _, subject := range breakdown.Subjects {
		if subject.SubjectID == "hist" {
			hist = subject
		}
	}
	assert.Nil(t, hist.Average)
	assert.Equal(t, 1, hist.AssessmentCount)
	assert.Equal(t, 0, hist.CompletedCount)

	// history has no graded work, so its coefficient must not drag the
	// annual average toward zero
	require.NotNil(t, breakdown.AnnualAverage)
	assert.Equal(t, 12.0, *breakdown.AnnualAverage)
}

func TestGradeServiceBreakdownNilAnnualWhenNothingGraded(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			{SubjectID: "math", ClassSubjectID: "cs-math", AssessmentID: "a1", TotalPoints: 20, Status: models.AssignmentStatusNotStarted},
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Nil(t, breakdown.AnnualAverage)
	assert.Equal(t, 1, breakdown.TotalAssessments)
	assert.Equal(t, 0, breakdown.CompletedAssessments)
}

func TestGradeServiceBreakdownNormalisesAndRounds(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {gradedRow("math", "a1", 9, 7)},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 1),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.NotNil(t, breakdown.Subjects[0].Average)
	// 7/9 * 20 = 15.555... rounds to 15.56
	assert.Equal(t, 15.56, *breakdown.Subjects[0].Average)
}

func TestGradeServiceBreakdownPoolsPointsAcrossAssessments(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			gradedRow("math", "a1", 10, 8),
			gradedRow("math", "a2", 40, 20),
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 1),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	// (8+20)/(10+40) * 20 = 11.2, not the mean of the per-assessment marks
	require.NotNil(t, breakdown.Subjects[0].Average)
	assert.Equal(t, 11.2, *breakdown.Subjects[0].Average)
}

func TestGradeServiceBreakdownKeepsGradesFromClosedWindows(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			gradedRow("math", "a1", 20, 16),
			gradedRow("math", "a2", 20, 12),
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		closedSubject("math", "Mathematics", "t1", 2,
			time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)),
		openSubject("math", "Mathematics", "t2", 2),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.Len(t, breakdown.Subjects, 1)

	// grades earned under the replaced teacher's window still count, and the
	// subject row carries the current teacher
	math := breakdown.Subjects[0]
	assert.Equal(t, "t2", math.TeacherID)
	assert.Equal(t, 2, math.AssessmentCount)
	require.NotNil(t, math.Average)
	assert.Equal(t, 14.0, *math.Average)
}

func TestGradeServiceBreakdownFallsBackToNewestClosedWindow(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{
		"s1": {
			gradedRow("math", "a1", 20, 16),
			gradedRow("hist", "a2", 20, 10),
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
		closedSubject("hist", "History", "t2", 3,
			time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)),
		closedSubject("hist", "History", "t3", 1,
			time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)),
	})

	breakdown, err := svc.Breakdown(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.Len(t, breakdown.Subjects, 2)

	// no open history window, so the most recently started one supplies the
	// teacher and coefficient
	hist := breakdown.Subjects[1]
	assert.Equal(t, "hist", hist.SubjectID)
	assert.Equal(t, "t3", hist.TeacherID)
	assert.Equal(t, 1.0, hist.Coefficient)

	// (16*2 + 10*1) / 3
	require.NotNil(t, breakdown.AnnualAverage)
	assert.Equal(t, 14.0, *breakdown.AnnualAverage)
}

func TestGradeServiceBreakdownRejectsNonMember(t *testing.T) {
	repo := &stubGradeRepo{studentRows: map[string][]models.GradeRow{}}
	svc := newGradeFixture(repo, nil)

	_, err := svc.Breakdown(context.Background(), "outsider", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceClassResultsCountsAndDistribution(t *testing.T) {
	score12, score18 := 12.0, 18.0
	repo := &stubGradeRepo{classRows: map[string][]models.ClassResultRow{
		"c1": {
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s1", StudentName: "Alice Dupont", Status: models.AssignmentStatusGraded, Score: &score12},
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s2", StudentName: "Bob Martin", Status: models.AssignmentStatusGraded, Score: &score18},
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s3", StudentName: "Carol Petit", Status: models.AssignmentStatusSubmitted},
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s4", StudentName: "Dan Noel", Status: models.AssignmentStatusNotStarted},
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
	})

	results, err := svc.ClassResults(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, results.Assessments, 1)

	quiz := results.Assessments[0]
	assert.Equal(t, 2, quiz.Statuses.Graded)
	assert.Equal(t, 1, quiz.Statuses.Submitted)
	assert.Equal(t, 1, quiz.Statuses.NotStarted)
	require.NotNil(t, quiz.Distribution)
	assert.Equal(t, 12.0, quiz.Distribution.Min)
	assert.Equal(t, 18.0, quiz.Distribution.Max)
	assert.Equal(t, 15.0, quiz.Distribution.Mean)
}

func TestGradeServiceClassResultsPerStudentAnnualAverages(t *testing.T) {
	mathScore, histScore := 16.0, 10.0
	repo := &stubGradeRepo{classRows: map[string][]models.ClassResultRow{
		"c1": {
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s1", StudentName: "Alice Dupont", Status: models.AssignmentStatusGraded, Score: &mathScore},
			{AssessmentID: "a2", Title: "Revolution essay", SubjectID: "hist", TotalPoints: 20, StudentID: "s1", StudentName: "Alice Dupont", Status: models.AssignmentStatusGraded, Score: &histScore},
			{AssessmentID: "a1", Title: "Algebra quiz", SubjectID: "math", TotalPoints: 20, StudentID: "s2", StudentName: "Bob Martin", Status: models.AssignmentStatusInProgress},
		},
	}}
	svc := newGradeFixture(repo, []models.ClassSubjectDetail{
		openSubject("math", "Mathematics", "t1", 2),
		openSubject("hist", "History", "t2", 1),
	})

	results, err := svc.ClassResults(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, results.Students, 2)

	// students come back sorted by ID
	alice, bob := results.Students[0], results.Students[1]
	assert.Equal(t, "s1", alice.StudentID)
	require.NotNil(t, alice.AnnualAverage)
	assert.Equal(t, 14.0, *alice.AnnualAverage)
	assert.Equal(t, 2, alice.GradedCount)

	assert.Equal(t, "s2", bob.StudentID)
	assert.Nil(t, bob.AnnualAverage)
	assert.Equal(t, 0, bob.GradedCount)
}
