package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ecoleops/academia-api/internal/models"
)

// GradeRepository serves the read-side rows the aggregator works from.
// Assessments are attributed to their subject regardless of whether the
// teaching window they were created under has since been closed.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// ListStudentRows returns one row per assignment of the student inside the
// class, tagged with the owning subject.
func (r *GradeRepository) ListStudentRows(ctx context.Context, studentID, classID string) ([]models.GradeRow, error) {
	const query = `SELECT cs.subject_id, cs.id AS class_subject_id, a.id AS assessment_id, a.total_points, aa.status, aa.score
        FROM assessment_assignments aa
        JOIN assessments a ON a.id = aa.assessment_id
        JOIN class_subjects cs ON cs.id = a.class_subject_id
        WHERE aa.student_id = $1 AND cs.class_id = $2
        ORDER BY cs.subject_id, a.created_at`
	var rows []models.GradeRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("list student grade rows: %w", err)
	}
	return rows, nil
}

// ListClassRows returns one row per (assessment, student) inside the class for
// the reporting aggregate.
func (r *GradeRepository) ListClassRows(ctx context.Context, classID string) ([]models.ClassResultRow, error) {
	const query = `SELECT a.id AS assessment_id, a.title, cs.subject_id, a.total_points,
        aa.student_id, u.full_name AS student_name, aa.status, aa.score
        FROM assessment_assignments aa
        JOIN assessments a ON a.id = aa.assessment_id
        JOIN class_subjects cs ON cs.id = a.class_subject_id
        JOIN users u ON u.id = aa.student_id
        WHERE cs.class_id = $1
        ORDER BY a.created_at, u.full_name`
	var rows []models.ClassResultRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("list class result rows: %w", err)
	}
	return rows, nil
}
