package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecoleops/academia-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN classes c ON c.id = e.class_id
LEFT JOIN academic_years y ON y.id = c.academic_year_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.AcademicYearID != "" {
		conditions = append(conditions, fmt.Sprintf("c.academic_year_id = $%d", len(args)+1))
		args = append(args, filter.AcademicYearID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "u.full_name",
		"class_name":   "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.class_id, e.student_id, e.enrolled_at, e.withdrawn_at, e.status,
        u.full_name AS student_name, c.name AS class_name, c.academic_year_id, y.name AS academic_year_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, class_id, student_id, enrolled_at, withdrawn_at, status FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.class_id, e.student_id, e.enrolled_at, e.withdrawn_at, e.status,
        u.full_name AS student_name, c.name AS class_name, c.academic_year_id, y.name AS academic_year_name
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        LEFT JOIN academic_years y ON y.id = c.academic_year_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActiveInYear checks whether the student already holds an active
// enrollment in any class belonging to the academic year.
func (r *EnrollmentRepository) ExistsActiveInYear(ctx context.Context, studentID, academicYearID, excludeID string) (bool, error) {
	query := `SELECT 1 FROM enrollments e
        JOIN classes c ON c.id = e.class_id
        WHERE e.student_id = $1 AND c.academic_year_id = $2 AND e.status = $3`
	args := []interface{}{studentID, academicYearID, models.EnrollmentStatusActive}
	if excludeID != "" {
		query += fmt.Sprintf(" AND e.id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// FindActiveByStudentAndYear returns the single active enrollment of a
// student scoped to an academic year. An empty academicYearID resolves to
// the current year.
func (r *EnrollmentRepository) FindActiveByStudentAndYear(ctx context.Context, studentID, academicYearID string) (*models.EnrollmentDetail, error) {
	query := `SELECT e.id, e.class_id, e.student_id, e.enrolled_at, e.withdrawn_at, e.status,
        u.full_name AS student_name, c.name AS class_name, c.academic_year_id, y.name AS academic_year_name
        FROM enrollments e
        JOIN classes c ON c.id = e.class_id
        LEFT JOIN users u ON u.id = e.student_id
        JOIN academic_years y ON y.id = c.academic_year_id
        WHERE e.student_id = $1 AND e.status = $2`
	args := []interface{}{studentID, models.EnrollmentStatusActive}
	if academicYearID != "" {
		query += fmt.Sprintf(" AND c.academic_year_id = $%d", len(args)+1)
		args = append(args, academicYearID)
	} else {
		query += " AND y.is_current = TRUE"
	}
	query += " LIMIT 1"
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, args...); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActiveInClass checks whether the student is actively enrolled in the
// given class.
func (r *EnrollmentRepository) ExistsActiveInClass(ctx context.Context, studentID, classID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, classID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class membership: %w", err)
	}
	return true, nil
}

// CountActiveByClass returns the number of active enrollments in a class.
func (r *EnrollmentRepository) CountActiveByClass(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// ListActiveByClass returns active enrollments for a class.
func (r *EnrollmentRepository) ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.class_id, e.student_id, e.enrolled_at, e.withdrawn_at, e.status,
        u.full_name AS student_name, c.name AS class_name, c.academic_year_id, y.name AS academic_year_name
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        LEFT JOIN academic_years y ON y.id = c.academic_year_id
        WHERE e.class_id = $1 AND e.status = $2
        ORDER BY u.full_name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, classID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list class enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, class_id, student_id, enrolled_at, withdrawn_at, status)
        VALUES (:id, :class_id, :student_id, :enrolled_at, :withdrawn_at, :status)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Transfer withdraws the old enrollment and inserts the replacement in one
// transaction so both legs succeed or neither does.
func (r *EnrollmentRepository) Transfer(ctx context.Context, oldID string, replacement *models.Enrollment) error {
	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	if replacement.EnrolledAt.IsZero() {
		replacement.EnrolledAt = time.Now().UTC()
	}
	replacement.Status = models.EnrollmentStatusActive

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE enrollments SET status = $2, withdrawn_at = $3 WHERE id = $1`,
		oldID, models.EnrollmentStatusWithdrawn, now); err != nil {
		return fmt.Errorf("withdraw old enrollment: %w", err)
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO enrollments (id, class_id, student_id, enrolled_at, withdrawn_at, status)
        VALUES (:id, :class_id, :student_id, :enrolled_at, :withdrawn_at, :status)`, replacement); err != nil {
		return fmt.Errorf("create replacement enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer tx: %w", err)
	}
	return nil
}

// UpdateStatus updates status and withdrawn_at for an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $2, withdrawn_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, withdrawnAt); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}
