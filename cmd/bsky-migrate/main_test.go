package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-migrate/internal/config"
	"github.com/blackmichael/bluesky-migrate/internal/pdstest"
)

const testArchive = `window.YTD.tweets.part0 = [
  { "tweet" : { "id_str" : "3", "created_at" : "Wed Oct 16 22:18:35 +0000 2024", "full_text" : "third #go",
    "entities" : { "hashtags" : [ { "text" : "go" } ], "user_mentions" : [ ], "urls" : [ ] } } },
  { "tweet" : { "id_str" : "1", "created_at" : "Mon Oct 14 08:00:00 +0000 2024", "full_text" : "first",
    "entities" : { "hashtags" : [ ], "user_mentions" : [ ], "urls" : [ ] } } },
  { "tweet" : { "id_str" : "9", "created_at" : "Tue Oct 15 09:00:00 +0000 2024", "full_text" : "@bob agreed",
    "in_reply_to_status_id_str" : "8", "in_reply_to_screen_name" : "bob",
    "entities" : { "hashtags" : [ ], "user_mentions" : [ { "screen_name" : "bob" } ], "urls" : [ ] } } },
  { "tweet" : { "id_str" : "2", "created_at" : "Tue Oct 15 12:00:00 +0000 2024", "full_text" : "second",
    "entities" : { "hashtags" : [ ], "user_mentions" : [ ], "urls" : [ ] } } }
]`

var envKeys = []string{
	"BLUESKY_HANDLE", "BLUESKY_PASSWORD", "BLUESKY_PDS_URL", "TWITTER_DATA_ROOT_FOLDER",
	"SLEEP_INTERVAL_SECONDS", "MAX_IN_FLIGHT", "CHECKPOINT_BACKEND", "CHECKPOINT_FILE",
	"DATABASE_PATH", "STATUS_ADDR", "JETSTREAM_URL", "LOG_LEVEL", "LOG_FORMAT",
}

// setup writes the test archive into a fresh working directory and points
// the configuration at it.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(filepath.Join(data, "tweets_media"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "tweets.js"), []byte(testArchive), 0o644))
	t.Setenv("TWITTER_DATA_ROOT_FOLDER", data)
	t.Setenv("SLEEP_INTERVAL_SECONDS", "0")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestStats(t *testing.T) {
	setup(t)

	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Posts:          3\n")
	assert.Contains(t, out, "First post:     2024-10-14 08:00:00 UTC")
	assert.Contains(t, out, "Span:           3 days")
	assert.Contains(t, out, "Hashtags:       1")
	assert.NotContains(t, out, "Replies:")

	out, err = execute(t, "stats", "--include-replies")
	require.NoError(t, err)
	assert.Contains(t, out, "Posts:          4\n")
	assert.Contains(t, out, "Replies:        1")
}

func TestStats_Export(t *testing.T) {
	dir := setup(t)
	path := filepath.Join(dir, "tweet_metadata.json")

	out, err := execute(t, "stats", "--export", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 posts to "+path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var exported []map[string]any
	require.NoError(t, json.Unmarshal(b, &exported))
	require.Len(t, exported, 3)
	assert.Equal(t, "1", exported[0]["tweet_id"])
	assert.Equal(t, "2024-10-14 08:00:00", exported[0]["timestamp"])
	assert.Equal(t, []any{"go"}, exported[2]["hashtags"])
}

func TestRun_DryRun(t *testing.T) {
	dir := setup(t)

	out, err := execute(t, "run", "--dry-run")
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(out, "🔎"))
	assert.Contains(t, out, "Would publish 3 of 3 posts.")
	assert.NoFileExists(t, filepath.Join(dir, "last_processed_timestamp.txt"))
}

func TestRun_RequiresCredentials(t *testing.T) {
	setup(t)

	_, err := execute(t, "run")
	var missing *config.MissingConfigError
	require.ErrorAs(t, err, &missing)
}

func TestRun_ConflictingModes(t *testing.T) {
	setup(t)

	_, err := execute(t, "run", "--dry-run", "--start-from", "2024-10-15", "--reprocess", "video")
	assert.Error(t, err)
}

func TestRun_Publishes(t *testing.T) {
	dir := setup(t)
	pds := pdstest.New()
	defer pds.Close()
	t.Setenv("BLUESKY_PDS_URL", pds.URL)
	t.Setenv("BLUESKY_HANDLE", pdstest.Identifier)
	t.Setenv("BLUESKY_PASSWORD", pdstest.Password)

	out, err := execute(t, "run", "--max-in-flight", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Published 3 of 3 posts.")
	assert.Contains(t, out, "Checkpoint: 2024-10-16 22:18:35 UTC")
	assert.Len(t, pds.Records(), 3)

	checkpoint, err := os.ReadFile(filepath.Join(dir, "last_processed_timestamp.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2024-10-16 22:18:35", string(checkpoint))

	// a second run resumes after the checkpoint and has nothing left
	out, err = execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to publish.")
	assert.Len(t, pds.Records(), 3)
}

func TestRun_SQLiteBackend(t *testing.T) {
	dir := setup(t)
	pds := pdstest.New()
	defer pds.Close()
	t.Setenv("BLUESKY_PDS_URL", pds.URL)
	t.Setenv("BLUESKY_HANDLE", pdstest.Identifier)
	t.Setenv("BLUESKY_PASSWORD", pdstest.Password)
	t.Setenv("CHECKPOINT_BACKEND", "sqlite")

	_, err := execute(t, "run", "--start-from", "2024-10-15 00:00:00")
	require.NoError(t, err)
	assert.Len(t, pds.Records(), 2)
	assert.FileExists(t, filepath.Join(dir, "bsky-migrate.db"))

	// reprocessing everything again skips what the ledger already holds
	_, err = execute(t, "run", "--start-from", "2024-10-01")
	require.NoError(t, err)
	assert.Len(t, pds.Records(), 3)
}

func TestRun_LoginFailureIsPerPost(t *testing.T) {
	t.Run("initial login", func(t *testing.T) {
		setup(t)
		pds := pdstest.New()
		defer pds.Close()
		pds.SetFailLogins(1)
		t.Setenv("BLUESKY_PDS_URL", pds.URL)
		t.Setenv("BLUESKY_HANDLE", pdstest.Identifier)
		t.Setenv("BLUESKY_PASSWORD", pdstest.Password)

		out, err := execute(t, "run", "--max-in-flight", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "Published 3 of 3 posts.")
		assert.Len(t, pds.Records(), 3)
		assert.Equal(t, 1, pds.Logins())
	})

	t.Run("first publish", func(t *testing.T) {
		setup(t)
		pds := pdstest.New()
		defer pds.Close()
		pds.SetFailLogins(2)
		t.Setenv("BLUESKY_PDS_URL", pds.URL)
		t.Setenv("BLUESKY_HANDLE", pdstest.Identifier)
		t.Setenv("BLUESKY_PASSWORD", pdstest.Password)

		out, err := execute(t, "run", "--max-in-flight", "1")
		require.Error(t, err)
		assert.Contains(t, out, "Published 2 of 3 posts, 1 failed.")

		records := pds.Records()
		require.Len(t, records, 2)
		assert.Contains(t, records[0].Text(), "second")
		assert.Contains(t, records[1].Text(), "third")
	})
}

func TestRun_BadCredentials(t *testing.T) {
	setup(t)
	pds := pdstest.New()
	defer pds.Close()
	t.Setenv("BLUESKY_PDS_URL", pds.URL)
	t.Setenv("BLUESKY_HANDLE", pdstest.Identifier)
	t.Setenv("BLUESKY_PASSWORD", "wrong")

	_, err := execute(t, "run")
	assert.Error(t, err)
	assert.Empty(t, pds.Records())
}
