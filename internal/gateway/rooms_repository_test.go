package gateway

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (RoomsDBStorer, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRoomsRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestRoomsRepositoryTouch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO rooms`).
		WithArgs("main").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Touch("main"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomsRepositoryLeave(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE rooms`).
		WithArgs("main").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Leave("main"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomsRepositoryGetAll(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rooms`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(51))
	mock.ExpectQuery(`SELECT(.|\n)+FROM rooms`).
		WithArgs(roomsPerPageDefault, 0).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "participants_count", "created_at", "updated_at"},
		).
			AddRow(1, "main", 3, now, now).
			AddRow(2, "standup", 1, now, now))

	active, err := repo.GetAll(0, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, active.TotalPages)
	require.Len(t, active.Rooms, 2)
	assert.Equal(t, "main", active.Rooms[0].Name)
	assert.Equal(t, 3, active.Rooms[0].ParticipantsCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomsRepositoryGetAllPagination(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rooms`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT(.|\n)+FROM rooms`).
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "participants_count", "created_at", "updated_at"},
		))

	active, err := repo.GetAll(3, 10)
	require.NoError(t, err)

	assert.Zero(t, active.TotalPages)
	assert.Empty(t, active.Rooms)
	assert.NoError(t, mock.ExpectationsWereMet())
}
