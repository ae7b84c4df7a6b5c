package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newAcademicYearRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAcademicYearRepositoryFindCurrent(t *testing.T) {
	db, mock, cleanup := newAcademicYearRepoMock(t)
	defer cleanup()
	repo := NewAcademicYearRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "start_date", "end_date", "is_current", "created_at", "updated_at"}).
		AddRow("year-1", "2025-2026", time.Now(), time.Now().AddDate(1, 0, 0), true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, start_date, end_date, is_current, created_at, updated_at FROM academic_years WHERE is_current = TRUE LIMIT 1")).
		WillReturnRows(rows)

	year, err := repo.FindCurrent(context.Background())
	require.NoError(t, err)
	require.Equal(t, "year-1", year.ID)
	require.True(t, year.IsCurrent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcademicYearRepositorySetCurrentUsesTransaction(t *testing.T) {
	db, mock, cleanup := newAcademicYearRepoMock(t)
	defer cleanup()
	repo := NewAcademicYearRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_years SET is_current = FALSE, updated_at = $1 WHERE is_current = TRUE AND id <> $2")).
		WithArgs(sqlmock.AnyArg(), "year-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_years SET is_current = TRUE, updated_at = $2 WHERE id = $1")).
		WithArgs("year-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetCurrent(context.Background(), "year-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcademicYearRepositorySetCurrentRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newAcademicYearRepoMock(t)
	defer cleanup()
	repo := NewAcademicYearRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_years SET is_current = FALSE")).
		WithArgs(sqlmock.AnyArg(), "year-2").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	require.Error(t, repo.SetCurrent(context.Background(), "year-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcademicYearRepositoryExistsSemesterOrder(t *testing.T) {
	db, mock, cleanup := newAcademicYearRepoMock(t)
	defer cleanup()
	repo := NewAcademicYearRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM semesters WHERE academic_year_id = $1 AND order_number = $2 LIMIT 1")).
		WithArgs("year-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	taken, err := repo.ExistsSemesterOrder(context.Background(), "year-1", 1)
	require.NoError(t, err)
	require.True(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}
