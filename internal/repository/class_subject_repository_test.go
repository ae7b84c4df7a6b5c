package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ecoleops/academia-api/internal/models"
)

func newClassSubjectRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestClassSubjectRepositoryFindOpenWindow(t *testing.T) {
	db, mock, cleanup := newClassSubjectRepoMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	rows := sqlmock.NewRows([]string{"id", "class_id", "subject_id", "teacher_id", "semester_id", "coefficient", "valid_from", "valid_to", "created_at"}).
		AddRow("cs-1", "class-1", "subj-1", "teach-1", nil, 2.0, time.Now(), nil, time.Now())
	mock.ExpectQuery("SELECT id, class_id, subject_id, teacher_id, semester_id, coefficient, valid_from, valid_to, created_at").
		WithArgs("class-1", "subj-1").
		WillReturnRows(rows)

	window, err := repo.FindOpenWindow(context.Background(), "class-1", "subj-1")
	require.NoError(t, err)
	require.Equal(t, "cs-1", window.ID)
	require.True(t, window.Open())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectRepositoryReplaceUsesTransaction(t *testing.T) {
	db, mock, cleanup := newClassSubjectRepoMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	effective := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_subjects SET valid_to = $2 WHERE id = $1")).
		WithArgs("cs-old", effective).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO class_subjects").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	successor := &models.ClassSubject{ClassID: "class-1", SubjectID: "subj-1", TeacherID: "teach-2", Coefficient: 2.0}
	require.NoError(t, repo.Replace(context.Background(), "cs-old", effective, successor))
	require.NotEmpty(t, successor.ID)
	require.Equal(t, effective, successor.ValidFrom)
	require.Nil(t, successor.ValidTo)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectRepositoryReplaceRollsBackWhenInsertFails(t *testing.T) {
	db, mock, cleanup := newClassSubjectRepoMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	effective := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_subjects SET valid_to = $2 WHERE id = $1")).
		WithArgs("cs-old", effective).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO class_subjects").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	successor := &models.ClassSubject{ClassID: "class-1", SubjectID: "subj-1", TeacherID: "teach-2", Coefficient: 2.0}
	require.Error(t, repo.Replace(context.Background(), "cs-old", effective, successor))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectRepositoryCloseReportsAlreadyClosed(t *testing.T) {
	db, mock, cleanup := newClassSubjectRepoMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	end := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_subjects SET valid_to = $2 WHERE id = $1 AND valid_to IS NULL")).
		WithArgs("cs-1", end).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Close(context.Background(), "cs-1", end)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectRepositoryHistoryCountsRows(t *testing.T) {
	db, mock, cleanup := newClassSubjectRepoMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	detailRows := sqlmock.NewRows([]string{"id", "class_id", "subject_id", "teacher_id", "semester_id", "coefficient", "valid_from", "valid_to", "created_at", "subject_name", "subject_code", "teacher_name", "class_name"}).
		AddRow("cs-2", "class-1", "subj-1", "teach-2", nil, 2.0, time.Now(), nil, time.Now(), "Maths", "MATH", "New Teacher", "6A").
		AddRow("cs-1", "class-1", "subj-1", "teach-1", nil, 2.0, time.Now().AddDate(0, -3, 0), time.Now(), time.Now(), "Maths", "MATH", "Old Teacher", "6A")
	mock.ExpectQuery("FROM class_subjects cs").
		WithArgs("class-1", "subj-1").
		WillReturnRows(detailRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_subjects WHERE class_id = $1 AND subject_id = $2")).
		WithArgs("class-1", "subj-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	history, total, err := repo.History(context.Background(), "class-1", "subj-1", 1, 20)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
