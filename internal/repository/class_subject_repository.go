package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecoleops/academia-api/internal/models"
)

// ClassSubjectRepository persists versioned teaching assignments.
type ClassSubjectRepository struct {
	db *sqlx.DB
}

// NewClassSubjectRepository constructs the repository.
func NewClassSubjectRepository(db *sqlx.DB) *ClassSubjectRepository {
	return &ClassSubjectRepository{db: db}
}

const classSubjectDetailColumns = `cs.id, cs.class_id, cs.subject_id, cs.teacher_id, cs.semester_id, cs.coefficient, cs.valid_from, cs.valid_to, cs.created_at,
       s.name AS subject_name, s.code AS subject_code, u.full_name AS teacher_name, c.name AS class_name`

const classSubjectDetailJoins = `
FROM class_subjects cs
JOIN subjects s ON s.id = cs.subject_id
JOIN users u ON u.id = cs.teacher_id
JOIN classes c ON c.id = cs.class_id`

// FindByID returns a teaching assignment by its ID.
func (r *ClassSubjectRepository) FindByID(ctx context.Context, id string) (*models.ClassSubject, error) {
	const query = `SELECT id, class_id, subject_id, teacher_id, semester_id, coefficient, valid_from, valid_to, created_at FROM class_subjects WHERE id = $1`
	var cs models.ClassSubject
	if err := r.db.GetContext(ctx, &cs, query, id); err != nil {
		return nil, err
	}
	return &cs, nil
}

// FindOpenWindow returns the open assignment row for (class, subject), if any.
func (r *ClassSubjectRepository) FindOpenWindow(ctx context.Context, classID, subjectID string) (*models.ClassSubject, error) {
	const query = `SELECT id, class_id, subject_id, teacher_id, semester_id, coefficient, valid_from, valid_to, created_at
        FROM class_subjects WHERE class_id = $1 AND subject_id = $2 AND valid_to IS NULL LIMIT 1`
	var cs models.ClassSubject
	if err := r.db.GetContext(ctx, &cs, query, classID, subjectID); err != nil {
		return nil, err
	}
	return &cs, nil
}

// ListOpenByClass returns the open assignment rows of a class.
func (r *ClassSubjectRepository) ListOpenByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE cs.class_id = $1 AND cs.valid_to IS NULL ORDER BY s.name ASC`, classSubjectDetailColumns, classSubjectDetailJoins)
	var assignments []models.ClassSubjectDetail
	if err := r.db.SelectContext(ctx, &assignments, query, classID); err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}
	return assignments, nil
}

// ListByClass returns every assignment row of a class, open or closed.
func (r *ClassSubjectRepository) ListByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE cs.class_id = $1 ORDER BY s.name ASC, cs.valid_from DESC`, classSubjectDetailColumns, classSubjectDetailJoins)
	var assignments []models.ClassSubjectDetail
	if err := r.db.SelectContext(ctx, &assignments, query, classID); err != nil {
		return nil, fmt.Errorf("list class subject history: %w", err)
	}
	return assignments, nil
}

// History returns assignment rows for (class, subject), newest window first.
func (r *ClassSubjectRepository) History(ctx context.Context, classID, subjectID string, page, size int) ([]models.ClassSubjectDetail, int, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s WHERE cs.class_id = $1 AND cs.subject_id = $2
ORDER BY cs.valid_from DESC LIMIT %d OFFSET %d`, classSubjectDetailColumns, classSubjectDetailJoins, size, offset)

	var history []models.ClassSubjectDetail
	if err := r.db.SelectContext(ctx, &history, query, classID, subjectID); err != nil {
		return nil, 0, fmt.Errorf("list teaching history: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM class_subjects WHERE class_id = $1 AND subject_id = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, classID, subjectID); err != nil {
		return nil, 0, fmt.Errorf("count teaching history: %w", err)
	}
	return history, total, nil
}

// Create inserts a new assignment row with an open window.
func (r *ClassSubjectRepository) Create(ctx context.Context, cs *models.ClassSubject) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_subjects (id, class_id, subject_id, teacher_id, semester_id, coefficient, valid_from, valid_to, created_at)
        VALUES (:id, :class_id, :subject_id, :teacher_id, :semester_id, :coefficient, :valid_from, :valid_to, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cs); err != nil {
		return fmt.Errorf("create class subject: %w", err)
	}
	return nil
}

// Replace closes the old window and inserts the successor row in one
// transaction, keeping (class, subject) windows non-overlapping.
func (r *ClassSubjectRepository) Replace(ctx context.Context, oldID string, effectiveDate time.Time, successor *models.ClassSubject) error {
	if successor.ID == "" {
		successor.ID = uuid.NewString()
	}
	if successor.CreatedAt.IsZero() {
		successor.CreatedAt = time.Now().UTC()
	}
	successor.ValidFrom = effectiveDate
	successor.ValidTo = nil

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE class_subjects SET valid_to = $2 WHERE id = $1`, oldID, effectiveDate); err != nil {
		return fmt.Errorf("close old window: %w", err)
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO class_subjects (id, class_id, subject_id, teacher_id, semester_id, coefficient, valid_from, valid_to, created_at)
        VALUES (:id, :class_id, :subject_id, :teacher_id, :semester_id, :coefficient, :valid_from, :valid_to, :created_at)`, successor); err != nil {
		return fmt.Errorf("create successor window: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

// UpdateCoefficient applies an in-place coefficient change.
func (r *ClassSubjectRepository) UpdateCoefficient(ctx context.Context, id string, value float64) error {
	const query = `UPDATE class_subjects SET coefficient = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, value); err != nil {
		return fmt.Errorf("update coefficient: %w", err)
	}
	return nil
}

// Close terminates the open window at the given end date.
func (r *ClassSubjectRepository) Close(ctx context.Context, id string, endDate time.Time) error {
	const query = `UPDATE class_subjects SET valid_to = $2 WHERE id = $1 AND valid_to IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, endDate)
	if err != nil {
		return fmt.Errorf("terminate class subject: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check terminated rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an assignment row permanently.
func (r *ClassSubjectRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM class_subjects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class subject: %w", err)
	}
	return nil
}

// CountAssessments returns assessments referencing the assignment.
func (r *ClassSubjectRepository) CountAssessments(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM assessments WHERE class_subject_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count assessments: %w", err)
	}
	return count, nil
}
