package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongorunner/internal/domain"
	"mongorunner/internal/storage"
)

func TestDBConnectionStore_RoundTrip(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewDBConnectionStore(db)

	conn := &domain.DatabaseConnection{
		ID:              "c1",
		Name:            "local",
		Host:            "localhost",
		Port:            27017,
		Database:        "shop",
		ActiveOnStartup: true,
	}
	require.NoError(t, store.CreateConnection(conn))
	assert.Equal(t, "{}", conn.ExtraJSON)

	got, err := store.GetConnection("c1")
	require.NoError(t, err)
	assert.Equal(t, "local", got.Name)
	assert.Equal(t, "shop", got.Database)
	assert.True(t, got.ActiveOnStartup)

	got.Name = "renamed"
	require.NoError(t, store.UpdateConnection(got))

	list, err := store.ListConnections()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)

	require.NoError(t, store.DeleteConnection("c1"))
	_, err = store.GetConnection("c1")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestDB_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.db")

	db, err := storage.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestDBConnectionStore_GetNotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT (.+) FROM db_connections WHERE id = ?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := storage.NewDBConnectionStore(storage.Wrap(sqlDB))
	_, err = store.GetConnection("missing")

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBConnectionStore_ListScansRows(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "host", "port", "database_name", "username", "extra_json", "active_on_startup", "created_at", "updated_at"}).
		AddRow("a", "alpha", "h1", 27017, "db1", "", "{}", false, now, now).
		AddRow("b", "beta", "mongodb+srv://x", 0, "", "u", "{}", true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM db_connections ORDER BY name").WillReturnRows(rows)

	store := storage.NewDBConnectionStore(storage.Wrap(sqlDB))
	list, err := store.ListConnections()

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.True(t, list[1].ActiveOnStartup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBConnectionStore_UpdateMissingRow(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("UPDATE db_connections SET").WillReturnResult(sqlmock.NewResult(0, 0))

	store := storage.NewDBConnectionStore(storage.Wrap(sqlDB))
	err = store.UpdateConnection(&domain.DatabaseConnection{ID: "ghost"})

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
