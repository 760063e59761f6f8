package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"studysched/internal/schedule"
	logx "studysched/pkg/logx"
)

var noLog = logx.Nop()

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db", "studysched.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, noLog)
	require.NoError(t, err)
	runContract(t, st)
	require.NoError(t, st.Close())

	// Data survives a reopen.
	st, err = Open(Config{Driver: "sqlite", Path: path}, noLog)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Persisted(context.Background(), "h1", contractNow)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store.json")
	st, err := Open(Config{Driver: "file", Path: path}, noLog)
	require.NoError(t, err)
	runContract(t, st)

	// Reopen without Close: only the journal carries the state.
	fs := st.(*fileStore)
	require.NoError(t, fs.journal.Sync())
	again, err := Open(Config{Driver: "file", Path: path}, noLog)
	require.NoError(t, err)
	got, err := again.Persisted(context.Background(), "h1", contractNow)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NoError(t, again.Close())

	// After Close the snapshot alone is enough.
	require.NoError(t, st.Close())
	_, err = os.Stat(filepath.Join(filepath.Dir(path), "store.snapshot.json"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(path), "store.journal.jsonl")))
	third, err := Open(Config{Driver: "file", Path: path}, noLog)
	require.NoError(t, err)
	defer third.Close()
	events, err := third.EventMap(context.Background(), "h1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	one, err := third.Get(context.Background(), "h1", instanceAt("h1", "a", 9).GUID)
	require.NoError(t, err)
	require.NotNil(t, one.StartedOn)
}

// TestRedisStore requires a running Redis; it is skipped otherwise.
// Set STUDYSCHED_REDIS_ADDR to point it at a server other than localhost.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STUDYSCHED_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Skipping Redis integration test: redis not available")
	}

	prefix := "studysched-test:" + time.Now().Format("150405.000000") + ":"
	st := newRedisStore(client, prefix, noLog)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
		_ = st.Close()
	})
	runContract(t, st)

	require.NoError(t, st.Delete(context.Background(), []schedule.ScheduledActivity{instanceAt("h9", "nothing", 1)}))
}
