package records

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

func mockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLPutUniqueViolationIsConflict(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research_records SET is_active = \$1`).
		WithArgs(false, "i1", "h", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO research_records`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	_, err := s.Put(context.Background(), record("i1", "h", time.Time{}, 10))
	if !errors.Is(err, domain.ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLPutOtherErrorPassesThrough(t *testing.T) {
	s, mock := mockStore(t)
	boom := errors.New("connection lost")
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research_records`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := s.Put(context.Background(), record("i1", "h", time.Time{}, 10))
	if !errors.Is(err, boom) || errors.Is(err, domain.ErrWriteConflict) {
		t.Fatalf("got %v", err)
	}
}

func TestSQLActiveNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`SELECT \* FROM research_records WHERE item_id = \$1`).
		WithArgs("i1", "h", true).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Active(context.Background(), "i1", "h"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLHistoryDecodeError(t *testing.T) {
	s, mock := mockStore(t)
	rows := sqlmock.NewRows([]string{"id", "item_id", "context_hash", "query", "analysis", "researched_at", "is_active"}).
		AddRow("r1", "i1", "h", "{}", "not json", int64(1), true)
	mock.ExpectQuery(`ORDER BY researched_at DESC LIMIT \$2`).WithArgs("i1", 5).WillReturnRows(rows)

	if _, err := s.History(context.Background(), "i1", 5); err == nil {
		t.Fatal("expected decode error")
	}
}
