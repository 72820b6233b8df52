package firehose

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

const did = "did:plc:alice"

func commitEvent(op, rkey, cid string, timeUS int64) string {
	return `{"did":"` + did + `","time_us":` + strconv.FormatInt(timeUS, 10) + `,"kind":"commit","commit":{"rev":"r","operation":"` + op +
		`","collection":"app.bsky.feed.post","rkey":"` + rkey + `","cid":"` + cid +
		`","record":{"$type":"app.bsky.feed.post","text":"hello","createdAt":"2024-10-16T22:18:35Z"}}}`
}

// jetstream is a fake Jetstream endpoint that sends each connection the
// queued messages and then holds it open.
type jetstream struct {
	*httptest.Server

	mu       sync.Mutex
	messages []string
	queries  []url.Values
}

func newJetstream(t *testing.T, messages ...string) *jetstream {
	t.Helper()
	j := &jetstream{messages: messages}
	upgrader := websocket.Upgrader{}

	j.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		j.mu.Lock()
		j.queries = append(j.queries, r.URL.Query())
		msgs := append([]string(nil), j.messages...)
		j.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// wait for the client to go away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(j.Close)
	return j
}

func (j *jetstream) wsURL() string {
	return "ws" + strings.TrimPrefix(j.URL, "http") + "/subscribe"
}

func (j *jetstream) firstQuery() url.Values {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queries) == 0 {
		return nil
	}
	return j.queries[0]
}

func TestWatcher_ConfirmsExpectedPosts(t *testing.T) {
	js := newJetstream(t,
		commitEvent("create", "rkey1", "bafyrec1", 1_700_000_000_000_001),
		`not json`,
		`{"did":"`+did+`","time_us":1700000000000002,"kind":"identity"}`,
		commitEvent("create", "rkey3", "bafyrec3", 1_700_000_000_000_003),
	)

	w := NewWatcher(js.wsURL(), did, slog.New(slog.DiscardHandler))
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey1", CID: "bafyrec1"})
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey2", CID: "bafyrec2"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		confirmed, _ := w.Counts()
		return confirmed == 1
	}, 2*time.Second, 10*time.Millisecond)

	// a post whose create arrived before it was expected is confirmed at once
	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.seen["at://did:plc:alice/app.bsky.feed.post/rkey3"]
	}, 2*time.Second, 10*time.Millisecond)
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey3", CID: "bafyrec3"})

	confirmed, pending := w.Counts()
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 1, pending)
	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/rkey2"}, w.Unconfirmed())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	q := js.firstQuery()
	require.NotNil(t, q)
	assert.Equal(t, []string{"app.bsky.feed.post"}, q["wantedCollections"])
	assert.Equal(t, did, q.Get("wantedDids"))
	assert.NotEmpty(t, q.Get("cursor"))
}

func TestWatcher_Reconnects(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			// drop the first connection straight away
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(commitEvent("create", "rkey1", "bafyrec1", 5)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	w := NewWatcher("ws"+strings.TrimPrefix(srv.URL, "http"), did, slog.New(slog.DiscardHandler))
	w.retry = 10 * time.Millisecond
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	assert.Eventually(t, func() bool {
		confirmed, _ := w.Counts()
		return confirmed == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connections, 2)
}

func TestHandleCommit_IgnoresOtherRepos(t *testing.T) {
	w := NewWatcher("ws://unused", did, slog.New(slog.DiscardHandler))
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey1"})

	event, err := parseEvent([]byte(strings.Replace(commitEvent("create", "rkey1", "c", 1), did, "did:plc:mallory", 1)))
	require.NoError(t, err)
	w.handleCommit(event)

	confirmed, pending := w.Counts()
	assert.Zero(t, confirmed)
	assert.Equal(t, 1, pending)
}

func TestHandleCommit_LogsConfirmedPost(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := NewWatcher("ws://unused", did, logger)
	w.Expect(domain.StrongRef{URI: "at://did:plc:alice/app.bsky.feed.post/rkey1", CID: "c"})

	event, err := parseEvent([]byte(commitEvent("create", "rkey1", "c", 1)))
	require.NoError(t, err)
	w.handleCommit(event)

	var line struct {
		Msg  string `json:"msg"`
		URI  string `json:"uri"`
		Rev  string `json:"rev"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "post confirmed", line.Msg)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/rkey1", line.URI)
	assert.Equal(t, "r", line.Rev)
	assert.Equal(t, "hello", line.Text)
}

func TestParseEvent(t *testing.T) {
	event, err := parseEvent([]byte(commitEvent("create", "rkey9", "bafyrec9", 42)))
	require.NoError(t, err)
	assert.Equal(t, did, event.DID)
	assert.Equal(t, int64(42), event.TimeUS)
	require.NotNil(t, event.Commit)
	assert.Equal(t, "create", event.Commit.Operation)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/rkey9", event.uri())
	require.NotNil(t, event.Commit.Record)
	assert.Equal(t, "hello", event.Commit.Record.Text)

	_, err = parseEvent([]byte("{"))
	assert.Error(t, err)
}
