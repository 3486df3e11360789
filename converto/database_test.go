package converto

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t testing.TB) *database {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "converto_test.sqlite3")
	gormDB, err := CreateDB(context.Background(), dbTypeSQLite, dsn)
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, dbErr := gormDB.DB()
			if dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return newDatabase(gormDB, slog.Default(), false)
}

func TestGetOrCreateUser(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	du := discordgo.User{ID: "user-1", Username: "tester", GlobalName: "Tester"}

	user, created, err := db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "tester", user.Username)
	assert.False(t, user.Ignored)
	firstSeen := user.LastSeen
	assert.Positive(t, firstSeen)

	user, created, err = db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	assert.False(t, created)
	assert.GreaterOrEqual(t, user.LastSeen, firstSeen)
}

func TestGetOrCreateUserBotsAreIgnored(t *testing.T) {
	db := newTestDatabase(t)

	user, created, err := db.GetOrCreateUser(
		context.Background(),
		discordgo.User{ID: "bot-1", Username: "beepboop", Bot: true},
	)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, user.Ignored)
}

func TestRecentQueries(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	for _, state := range []QueryState{
		QueryStateCompleted,
		QueryStateFailed,
		QueryStateRateLimited,
	} {
		require.NoError(
			t, db.Create(
				ctx, &QueryRecord{
					UserID:   "user-1",
					Question: "q",
					Source:   QuerySourceCommandPrefix,
					State:    state,
				},
			),
		)
	}

	records, err := db.RecentQueries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = db.RecentQueries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestVectorRoundTrip(t *testing.T) {
	v := Vector{0.25, -1, 3.5}

	value, err := v.Value()
	require.NoError(t, err)

	var scanned Vector
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, v, scanned)

	require.NoError(t, scanned.Scan([]byte("[1,2]")))
	assert.Equal(t, Vector{1, 2}, scanned)

	assert.Error(t, scanned.Scan(42))
}
