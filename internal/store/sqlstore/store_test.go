package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/coursechat/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite3", ":memory:")
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { s.Close() })
	return s
}

func createUsers(t *testing.T, s *SQLStore, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		u := &models.User{Username: name, DisplayName: name, Password: "hash"}
		require.NoError(t, s.CreateUser(context.Background(), u))
		ids = append(ids, u.ID)
	}
	return ids
}

func countRows(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newClock(func() time.Time { return frozen })

	first := c.next()
	second := c.next()
	third := c.next()

	require.True(t, second.After(first))
	require.True(t, third.After(second))
}

func TestClockSurvivesBackwardsStep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newClock(func() time.Time { return now })

	first := c.next()
	now = now.Add(-time.Hour)
	second := c.next()

	require.True(t, second.After(first))
}

func TestRebindPostgres(t *testing.T) {
	s := &SQLStore{driverName: "postgres"}
	require.Equal(t, "SELECT $1, $2", s.rebind("SELECT ?, ?"))

	s.driverName = "sqlite3"
	require.Equal(t, "SELECT ?, ?", s.rebind("SELECT ?, ?"))
}
