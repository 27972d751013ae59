package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshalyana/letterflow/pkg/models"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewWithDB(db, observability.NewNoopLogger()), mock
}

func TestReadSnapshot(t *testing.T) {
	t.Run("returns stored content", func(t *testing.T) {
		d, mock := newMockDatabase(t)
		modified := time.Now()

		mock.ExpectQuery(`SELECT id, content, last_modified FROM documents`).
			WithArgs("doc1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "content", "last_modified"}).
				AddRow("doc1", "Hello", modified))

		snap, err := d.ReadSnapshot(context.Background(), "doc1")
		require.NoError(t, err)
		assert.Equal(t, "doc1", snap.DocumentID)
		assert.Equal(t, "Hello", snap.Content)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing document returns ErrNotFound", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectQuery(`SELECT id, content, last_modified FROM documents`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "content", "last_modified"}))

		_, err := d.ReadSnapshot(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWriteSnapshot(t *testing.T) {
	t.Run("updates existing row", func(t *testing.T) {
		d, mock := newMockDatabase(t)
		modified := time.Now()

		mock.ExpectExec(`UPDATE documents SET content`).
			WithArgs("doc1", "new content", modified).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := d.WriteSnapshot(context.Background(), "doc1", "new content", modified)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row returns ErrNotFound", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectExec(`UPDATE documents SET content`).
			WithArgs("missing", "x", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := d.WriteSnapshot(context.Background(), "missing", "x", time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDocumentRole(t *testing.T) {
	t.Run("owner resolves without share lookup", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectQuery(`SELECT owner_uid FROM documents`).
			WithArgs("doc1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_uid"}).AddRow("user1"))

		role, err := d.DocumentRole(context.Background(), "doc1", "user1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("share row grants its role", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectQuery(`SELECT owner_uid FROM documents`).
			WithArgs("doc1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_uid"}).AddRow("user1"))
		mock.ExpectQuery(`SELECT role FROM document_shares`).
			WithArgs("doc1", "user2").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("viewer"))

		role, err := d.DocumentRole(context.Background(), "doc1", "user2")
		require.NoError(t, err)
		assert.Equal(t, models.RoleViewer, role)
	})

	t.Run("no share means no access", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectQuery(`SELECT owner_uid FROM documents`).
			WithArgs("doc1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_uid"}).AddRow("user1"))
		mock.ExpectQuery(`SELECT role FROM document_shares`).
			WithArgs("doc1", "stranger").
			WillReturnRows(sqlmock.NewRows([]string{"role"}))

		_, err := d.DocumentRole(context.Background(), "doc1", "stranger")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown document", func(t *testing.T) {
		d, mock := newMockDatabase(t)

		mock.ExpectQuery(`SELECT owner_uid FROM documents`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"owner_uid"}))

		_, err := d.DocumentRole(context.Background(), "nope", "user1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
