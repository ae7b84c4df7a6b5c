package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
)

type gradeRepository interface {
	ListStudentRows(ctx context.Context, studentID, classID string) ([]models.GradeRow, error)
	ListClassRows(ctx context.Context, classID string) ([]models.ClassResultRow, error)
}

type classSubjectLister interface {
	ListByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error)
}

type membershipChecker interface {
	ExistsActiveInClass(ctx context.Context, studentID, classID string) (bool, error)
}

// GradeService computes grade breakdowns and class result reports. Subject
// averages are normalised to the grading scale from the sum of scores over
// the sum of total points; subjects with no graded work average nil and are
// excluded from the annual weighting instead of dragging it to zero. Grades
// earned under a since-closed teaching window stay attributed to the subject;
// subject metadata and coefficient come from the open window, or the most
// recent one when none is open.
type GradeService struct {
	repo        gradeRepository
	assignments classSubjectLister
	enrollments membershipChecker
	classes     classReader
	cache       *CacheService
	metrics     *MetricsService
	scale       float64
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(repo gradeRepository, assignments classSubjectLister, enrollments membershipChecker, classes classReader, cache *CacheService, metrics *MetricsService, scale float64, cacheTTL time.Duration, logger *zap.Logger) *GradeService {
	if scale <= 0 {
		scale = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		repo:        repo,
		assignments: assignments,
		enrollments: enrollments,
		classes:     classes,
		cache:       cache,
		metrics:     metrics,
		scale:       scale,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// effectiveWindows reduces the full window history of a class to one row per
// subject. The open window wins; for subjects taught only in the past the most
// recently started window supplies the teacher and coefficient.
func effectiveWindows(windows []models.ClassSubjectDetail) []models.ClassSubjectDetail {
	best := make(map[string]int, len(windows))
	var order []string
	for i, w := range windows {
		j, seen := best[w.SubjectID]
		if !seen {
			best[w.SubjectID] = i
			order = append(order, w.SubjectID)
			continue
		}
		cur := windows[j]
		if cur.Open() {
			continue
		}
		if w.Open() || w.ValidFrom.After(cur.ValidFrom) {
			best[w.SubjectID] = i
		}
	}
	out := make([]models.ClassSubjectDetail, 0, len(order))
	for _, id := range order {
		out = append(out, windows[best[id]])
	}
	return out
}

// Breakdown returns the per-subject averages and weighted annual average of a
// student within a class.
func (s *GradeService) Breakdown(ctx context.Context, studentID, classID string) (*models.GradeBreakdown, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	enrolled, err := s.enrollments.ExistsActiveInClass(ctx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not enrolled in class")
	}

	cacheKey := fmt.Sprintf("grades:class:%s:student:%s", classID, studentID)
	if s.cache != nil {
		var cached models.GradeBreakdown
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return &cached, nil
		}
	}

	breakdown, err := s.computeBreakdown(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, breakdown, s.cacheTTL)
	}
	return breakdown, nil
}

func (s *GradeService) computeBreakdown(ctx context.Context, studentID, classID string) (*models.GradeBreakdown, error) {
	windows, err := s.assignments.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class subjects")
	}
	subjects := effectiveWindows(windows)
	rows, err := s.repo.ListStudentRows(ctx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade rows")
	}

	type subjectAccumulator struct {
		scoreSum  float64
		pointsSum float64
		total     int
		graded    int
	}
	acc := make(map[string]*subjectAccumulator, len(subjects))
	for _, row := range rows {
		a := acc[row.SubjectID]
		if a == nil {
			a = &subjectAccumulator{}
			acc[row.SubjectID] = a
		}
		a.total++
		if row.Status == models.AssignmentStatusGraded && row.Score != nil {
			a.graded++
			a.scoreSum += *row.Score
			a.pointsSum += row.TotalPoints
		}
	}

	breakdown := &models.GradeBreakdown{
		StudentID: studentID,
		ClassID:   classID,
		Subjects:  make([]models.SubjectGrade, 0, len(subjects)),
	}
	var weightedSum, coefficientSum float64
	for _, subject := range subjects {
		grade := models.SubjectGrade{
			SubjectID:   subject.SubjectID,
			SubjectName: subject.SubjectName,
			TeacherID:   subject.TeacherID,
			TeacherName: subject.TeacherName,
			Coefficient: subject.Coefficient,
		}
		if a := acc[subject.SubjectID]; a != nil {
			grade.AssessmentCount = a.total
			grade.CompletedCount = a.graded
			if a.graded > 0 && a.pointsSum > 0 {
				avg := round2(a.scoreSum / a.pointsSum * s.scale)
				grade.Average = &avg
				weightedSum += avg * subject.Coefficient
				coefficientSum += subject.Coefficient
			}
		}
		breakdown.TotalAssessments += grade.AssessmentCount
		breakdown.CompletedAssessments += grade.CompletedCount
		breakdown.Subjects = append(breakdown.Subjects, grade)
	}
	if coefficientSum > 0 {
		annual := round2(weightedSum / coefficientSum)
		breakdown.AnnualAverage = &annual
	}

	if s.metrics != nil {
		s.metrics.RecordGradeAggregation()
	}
	return breakdown, nil
}

// ClassResults builds the per-assessment and per-student reporting aggregate
// for a whole class.
func (s *GradeService) ClassResults(ctx context.Context, classID string) (*models.ClassResults, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	cacheKey := fmt.Sprintf("results:class:%s", classID)
	if s.cache != nil {
		var cached models.ClassResults
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return &cached, nil
		}
	}

	results, err := s.computeClassResults(ctx, classID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, results, s.cacheTTL)
	}
	return results, nil
}

func (s *GradeService) computeClassResults(ctx context.Context, classID string) (*models.ClassResults, error) {
	windows, err := s.assignments.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class subjects")
	}
	subjects := effectiveWindows(windows)
	rows, err := s.repo.ListClassRows(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class result rows")
	}

	coefficients := make(map[string]float64, len(subjects))
	for _, subject := range subjects {
		coefficients[subject.SubjectID] = subject.Coefficient
	}

	type assessmentAccumulator struct {
		result AssessmentBucket
		scores []float64
	}
	assessments := make(map[string]*assessmentAccumulator)
	var assessmentOrder []string

	type studentSubject struct {
		scoreSum  float64
		pointsSum float64
	}
	type studentAccumulator struct {
		name     string
		graded   int
		subjects map[string]*studentSubject
	}
	students := make(map[string]*studentAccumulator)

	for _, row := range rows {
		a := assessments[row.AssessmentID]
		if a == nil {
			a = &assessmentAccumulator{result: AssessmentBucket{
				AssessmentID: row.AssessmentID,
				Title:        row.Title,
				SubjectID:    row.SubjectID,
				TotalPoints:  row.TotalPoints,
			}}
			assessments[row.AssessmentID] = a
			assessmentOrder = append(assessmentOrder, row.AssessmentID)
		}
		switch row.Status {
		case models.AssignmentStatusNotStarted:
			a.result.Statuses.NotStarted++
		case models.AssignmentStatusInProgress:
			a.result.Statuses.InProgress++
		case models.AssignmentStatusSubmitted:
			a.result.Statuses.Submitted++
		case models.AssignmentStatusGraded:
			a.result.Statuses.Graded++
			if row.Score != nil {
				a.scores = append(a.scores, *row.Score)
			}
		}

		st := students[row.StudentID]
		if st == nil {
			st = &studentAccumulator{name: row.StudentName, subjects: make(map[string]*studentSubject)}
			students[row.StudentID] = st
		}
		if row.Status == models.AssignmentStatusGraded && row.Score != nil {
			st.graded++
			sub := st.subjects[row.SubjectID]
			if sub == nil {
				sub = &studentSubject{}
				st.subjects[row.SubjectID] = sub
			}
			sub.scoreSum += *row.Score
			sub.pointsSum += row.TotalPoints
		}
	}

	results := &models.ClassResults{ClassID: classID}
	for _, id := range assessmentOrder {
		a := assessments[id]
		out := models.AssessmentResult{
			AssessmentID: a.result.AssessmentID,
			Title:        a.result.Title,
			SubjectID:    a.result.SubjectID,
			TotalPoints:  a.result.TotalPoints,
			Statuses:     a.result.Statuses,
		}
		if len(a.scores) > 0 {
			min, max, sum := a.scores[0], a.scores[0], 0.0
			for _, score := range a.scores {
				if score < min {
					min = score
				}
				if score > max {
					max = score
				}
				sum += score
			}
			out.Distribution = &models.ScoreDistribution{
				Min:  round2(min),
				Max:  round2(max),
				Mean: round2(sum / float64(len(a.scores))),
			}
		}
		results.Assessments = append(results.Assessments, out)
	}

	studentIDs := make([]string, 0, len(students))
	for id := range students {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)
	for _, id := range studentIDs {
		st := students[id]
		out := models.StudentResult{StudentID: id, StudentName: st.name, GradedCount: st.graded}
		var weightedSum, coefficientSum float64
		for subjectID, sub := range st.subjects {
			if sub.pointsSum <= 0 {
				continue
			}
			coefficient := coefficients[subjectID]
			if coefficient <= 0 {
				continue
			}
			avg := round2(sub.scoreSum / sub.pointsSum * s.scale)
			weightedSum += avg * coefficient
			coefficientSum += coefficient
		}
		if coefficientSum > 0 {
			annual := round2(weightedSum / coefficientSum)
			out.AnnualAverage = &annual
		}
		results.Students = append(results.Students, out)
	}

	if s.metrics != nil {
		s.metrics.RecordGradeAggregation()
	}
	return results, nil
}

// AssessmentBucket carries per-assessment tallies while aggregating.
type AssessmentBucket struct {
	AssessmentID string
	Title        string
	SubjectID    string
	TotalPoints  float64
	Statuses     models.AssignmentStatusCounts
}

// WarmClassResults recomputes and re-caches the class results aggregate,
// bypassing any cached copy. Used by the background warmer after grading.
func (s *GradeService) WarmClassResults(ctx context.Context, classID string) error {
	results, err := s.computeClassResults(ctx, classID)
	if err != nil {
		return err
	}
	if s.cache != nil {
		return s.cache.Set(ctx, fmt.Sprintf("results:class:%s", classID), results, s.cacheTTL)
	}
	return nil
}
