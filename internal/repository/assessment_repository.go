package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecoleops/academia-api/internal/models"
)

// AssessmentRepository persists assessments, their questions and the
// per-student assignment rows.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs the repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// FindByID returns an assessment by its ID.
func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	const query = `SELECT id, class_subject_id, teacher_id, title, type, delivery_mode, settings, total_points, created_at, updated_at
        FROM assessments WHERE id = $1`
	var assessment models.Assessment
	if err := r.db.GetContext(ctx, &assessment, query, id); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// ListByClassSubject returns assessments of one teaching assignment.
func (r *AssessmentRepository) ListByClassSubject(ctx context.Context, classSubjectID string) ([]models.Assessment, error) {
	const query = `SELECT id, class_subject_id, teacher_id, title, type, delivery_mode, settings, total_points, created_at, updated_at
        FROM assessments WHERE class_subject_id = $1 ORDER BY created_at DESC`
	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, classSubjectID); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return assessments, nil
}

// ListByClass returns all assessments of a class across its open teaching
// assignments.
func (r *AssessmentRepository) ListByClass(ctx context.Context, classID string) ([]models.Assessment, error) {
	const query = `SELECT a.id, a.class_subject_id, a.teacher_id, a.title, a.type, a.delivery_mode, a.settings, a.total_points, a.created_at, a.updated_at
        FROM assessments a
        JOIN class_subjects cs ON cs.id = a.class_subject_id
        WHERE cs.class_id = $1 AND cs.valid_to IS NULL
        ORDER BY a.created_at DESC`
	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, classID); err != nil {
		return nil, fmt.Errorf("list class assessments: %w", err)
	}
	return assessments, nil
}

// Create persists a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = now
	}
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, class_subject_id, teacher_id, title, type, delivery_mode, settings, total_points, created_at, updated_at)
        VALUES (:id, :class_subject_id, :teacher_id, :title, :type, :delivery_mode, :settings, :total_points, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// Update modifies an assessment's mutable fields.
func (r *AssessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	assessment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessments SET title = :title, type = :type, delivery_mode = :delivery_mode, settings = :settings, total_points = :total_points, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	return nil
}

// Delete removes an assessment together with its questions and assignments.
func (r *AssessmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM assessment_assignments WHERE assessment_id = $1`, id); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM assessment_questions WHERE assessment_id = $1`, id); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM assessments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// ListQuestions returns the ordered questions of an assessment.
func (r *AssessmentRepository) ListQuestions(ctx context.Context, assessmentID string) ([]models.AssessmentQuestion, error) {
	const query = `SELECT id, assessment_id, order_number, prompt, points FROM assessment_questions WHERE assessment_id = $1 ORDER BY order_number ASC`
	var questions []models.AssessmentQuestion
	if err := r.db.SelectContext(ctx, &questions, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

// ReplaceQuestions swaps the question set of an assessment and refreshes the
// denormalised total_points in the same transaction.
func (r *AssessmentRepository) ReplaceQuestions(ctx context.Context, assessmentID string, questions []models.AssessmentQuestion) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin questions tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM assessment_questions WHERE assessment_id = $1`, assessmentID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	var total float64
	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.AssessmentID = assessmentID
		q.OrderNumber = i + 1
		total += q.Points
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO assessment_questions (id, assessment_id, order_number, prompt, points)
            VALUES (:id, :assessment_id, :order_number, :prompt, :points)`, q); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE assessments SET total_points = $2, updated_at = $3 WHERE id = $1`,
		assessmentID, total, time.Now().UTC()); err != nil {
		return fmt.Errorf("refresh total points: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit questions tx: %w", err)
	}
	return nil
}

// FindAssignment returns the assignment row for (assessment, student).
func (r *AssessmentRepository) FindAssignment(ctx context.Context, assessmentID, studentID string) (*models.AssessmentAssignment, error) {
	const query = `SELECT id, assessment_id, student_id, status, started_at, submitted_at, graded_at, score
        FROM assessment_assignments WHERE assessment_id = $1 AND student_id = $2`
	var assignment models.AssessmentAssignment
	if err := r.db.GetContext(ctx, &assignment, query, assessmentID, studentID); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// FindAssignmentByID returns an assignment row by its own identifier.
func (r *AssessmentRepository) FindAssignmentByID(ctx context.Context, id string) (*models.AssessmentAssignment, error) {
	const query = `SELECT id, assessment_id, student_id, status, started_at, submitted_at, graded_at, score
        FROM assessment_assignments WHERE id = $1`
	var assignment models.AssessmentAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListAssignments returns assignment rows of one assessment.
func (r *AssessmentRepository) ListAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentAssignment, error) {
	const query = `SELECT id, assessment_id, student_id, status, started_at, submitted_at, graded_at, score
        FROM assessment_assignments WHERE assessment_id = $1`
	var assignments []models.AssessmentAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// CreateAssignment inserts the per-student row for an assessment.
func (r *AssessmentRepository) CreateAssignment(ctx context.Context, assignment *models.AssessmentAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.Status == "" {
		assignment.Status = models.AssignmentStatusNotStarted
	}
	const query = `INSERT INTO assessment_assignments (id, assessment_id, student_id, status, started_at, submitted_at, graded_at, score)
        VALUES (:id, :assessment_id, :student_id, :status, :started_at, :submitted_at, :graded_at, :score)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// UpdateAssignment persists status, lifecycle timestamps and score.
func (r *AssessmentRepository) UpdateAssignment(ctx context.Context, assignment *models.AssessmentAssignment) error {
	const query = `UPDATE assessment_assignments SET status = :status, started_at = :started_at, submitted_at = :submitted_at, graded_at = :graded_at, score = :score
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}
