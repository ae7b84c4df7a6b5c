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

// AcademicYearRepository handles persistence for academic years and semesters.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository instantiates the repository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

// List returns academic years matching the provided filters.
func (r *AcademicYearRepository) List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error) {
	base := "FROM academic_years WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.IsCurrent != nil {
		conditions = append(conditions, fmt.Sprintf("is_current = $%d", len(args)+1))
		args = append(args, *filter.IsCurrent)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"start_date": true,
		"end_date":   true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
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

	query := fmt.Sprintf("SELECT id, name, start_date, end_date, is_current, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)

	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list academic years: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count academic years: %w", err)
	}

	return years, total, nil
}

// FindByID loads an academic year by identifier.
func (r *AcademicYearRepository) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	const query = `SELECT id, name, start_date, end_date, is_current, created_at, updated_at FROM academic_years WHERE id = $1`
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindCurrent returns the academic year flagged as current.
func (r *AcademicYearRepository) FindCurrent(ctx context.Context) (*models.AcademicYear, error) {
	const query = `SELECT id, name, start_date, end_date, is_current, created_at, updated_at FROM academic_years WHERE is_current = TRUE LIMIT 1`
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query); err != nil {
		return nil, err
	}
	return &year, nil
}

// Create inserts a new academic year record.
func (r *AcademicYearRepository) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now

	const query = `INSERT INTO academic_years (id, name, start_date, end_date, is_current, created_at, updated_at) VALUES (:id, :name, :start_date, :end_date, :is_current, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create academic year: %w", err)
	}
	return nil
}

// Update modifies an existing academic year.
func (r *AcademicYearRepository) Update(ctx context.Context, year *models.AcademicYear) error {
	year.UpdatedAt = time.Now().UTC()
	const query = `UPDATE academic_years SET name = :name, start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("update academic year: %w", err)
	}
	return nil
}

// SetCurrent marks the provided year as current and deactivates the rest in
// one transaction so readers never observe two current years.
func (r *AcademicYearRepository) SetCurrent(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET is_current = FALSE, updated_at = $1 WHERE is_current = TRUE AND id <> $2`, now, id); err != nil {
		return fmt.Errorf("deactivate other years: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET is_current = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("activate year: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set current tx: %w", err)
	}
	return nil
}

// ClearCurrent unsets the current flag on a single year.
func (r *AcademicYearRepository) ClearCurrent(ctx context.Context, id string) error {
	const query = `UPDATE academic_years SET is_current = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive academic year: %w", err)
	}
	return nil
}

// Delete removes an academic year permanently.
func (r *AcademicYearRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM academic_years WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete academic year: %w", err)
	}
	return nil
}

// CountClasses returns the number of classes referencing the year.
func (r *AcademicYearRepository) CountClasses(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM classes WHERE academic_year_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count year classes: %w", err)
	}
	return count, nil
}

// ListSemesters returns the semesters of a year ordered by order_number.
func (r *AcademicYearRepository) ListSemesters(ctx context.Context, yearID string) ([]models.Semester, error) {
	const query = `SELECT id, academic_year_id, name, start_date, end_date, order_number, created_at FROM semesters WHERE academic_year_id = $1 ORDER BY order_number ASC`
	var semesters []models.Semester
	if err := r.db.SelectContext(ctx, &semesters, query, yearID); err != nil {
		return nil, fmt.Errorf("list semesters: %w", err)
	}
	return semesters, nil
}

// FindSemester loads one semester by identifier.
func (r *AcademicYearRepository) FindSemester(ctx context.Context, id string) (*models.Semester, error) {
	const query = `SELECT id, academic_year_id, name, start_date, end_date, order_number, created_at FROM semesters WHERE id = $1`
	var semester models.Semester
	if err := r.db.GetContext(ctx, &semester, query, id); err != nil {
		return nil, err
	}
	return &semester, nil
}

// ExistsSemesterOrder checks order_number uniqueness inside a year.
func (r *AcademicYearRepository) ExistsSemesterOrder(ctx context.Context, yearID string, orderNumber int) (bool, error) {
	const query = `SELECT 1 FROM semesters WHERE academic_year_id = $1 AND order_number = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, yearID, orderNumber); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check semester order: %w", err)
	}
	return true, nil
}

// CreateSemester inserts a semester row.
func (r *AcademicYearRepository) CreateSemester(ctx context.Context, semester *models.Semester) error {
	if semester.ID == "" {
		semester.ID = uuid.NewString()
	}
	if semester.CreatedAt.IsZero() {
		semester.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO semesters (id, academic_year_id, name, start_date, end_date, order_number, created_at) VALUES (:id, :academic_year_id, :name, :start_date, :end_date, :order_number, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, semester); err != nil {
		return fmt.Errorf("create semester: %w", err)
	}
	return nil
}
