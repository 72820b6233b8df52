// Package firehose watches the Jetstream firehose for the posts a migration
// creates, so a run can report which of them the network has seen.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

const reconnectDelay = 5 * time.Second

// wantedCollections is the set of collection NSIDs requested from
// Jetstream.
var wantedCollections = []string{
	bluesky.PostCollection,
}

// Watcher follows one account's post commits on Jetstream and matches them
// against the posts a run has published.
type Watcher struct {
	url    string
	did    string
	logger *slog.Logger

	// retry is the pause before reconnecting after a dropped connection.
	retry time.Duration

	mu        sync.Mutex
	pending   map[string]string
	confirmed map[string]bool
	seen      map[string]bool
	cursor    int64
}

// NewWatcher creates a watcher for the posts of did.
func NewWatcher(jetstreamURL, did string, logger *slog.Logger) *Watcher {
	return &Watcher{
		url:       jetstreamURL,
		did:       did,
		logger:    logger,
		retry:     reconnectDelay,
		pending:   map[string]string{},
		confirmed: map[string]bool{},
		seen:      map[string]bool{},
	}
}

// Expect registers a published post to be confirmed.
func (w *Watcher) Expect(ref domain.StrongRef) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[ref.URI] {
		w.confirmed[ref.URI] = true
		return
	}
	w.pending[ref.URI] = ref.CID
}

// Counts returns how many expected posts have been confirmed and how many
// are still pending.
func (w *Watcher) Counts() (confirmed, pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.confirmed), len(w.pending)
}

// Unconfirmed returns the URIs of expected posts not seen yet.
func (w *Watcher) Unconfirmed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	uris := make([]string, 0, len(w.pending))
	for uri := range w.pending {
		uris = append(uris, uri)
	}
	return uris
}

// Start connects to Jetstream and processes events until the context is
// cancelled. It reconnects on transient errors, resuming from the last
// event seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cursor == 0 {
		w.cursor = time.Now().UnixMicro()
	}
	w.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.subscribe(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("jetstream connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.retry):
				}
			}
		}
	}
}

func (w *Watcher) buildURL() (string, error) {
	u, err := url.Parse(w.url)
	if err != nil {
		return "", fmt.Errorf("parse jetstream url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	q.Set("wantedDids", w.did)

	w.mu.Lock()
	cursor := w.cursor
	w.mu.Unlock()
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *Watcher) subscribe(ctx context.Context) error {
	wsURL, err := w.buildURL()
	if err != nil {
		return err
	}
	w.logger.Debug("connecting to jetstream", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial jetstream: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage when the run ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("connected to jetstream", "did", w.did)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			w.logger.Warn("failed to parse event", "error", err)
			continue
		}

		w.mu.Lock()
		if event.TimeUS > w.cursor {
			w.cursor = event.TimeUS
		}
		w.mu.Unlock()

		if event.Kind == "commit" && event.Commit != nil {
			w.handleCommit(event)
		}
	}
}

func (w *Watcher) handleCommit(event *jetstreamEvent) {
	commit := event.Commit
	if event.DID != w.did || commit.Collection != bluesky.PostCollection {
		return
	}
	uri := event.uri()

	w.mu.Lock()
	defer w.mu.Unlock()

	switch commit.Operation {
	case "create":
		cid, ok := w.pending[uri]
		if !ok {
			w.seen[uri] = true
			return
		}
		if cid != "" && commit.CID != "" && cid != commit.CID {
			w.logger.Warn("confirmed post has a different cid", "uri", uri, "expected", cid, "got", commit.CID)
		}
		delete(w.pending, uri)
		w.confirmed[uri] = true
		w.logger.Debug("post confirmed", "uri", uri, "rev", commit.Rev, "text", commit.text())

	case "delete":
		_, expected := w.pending[uri]
		if expected || w.confirmed[uri] {
			w.logger.Warn("migrated post was deleted", "uri", uri)
		}
	}
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.Kind != "commit" {
		event.Commit = nil
	}
	return &event, nil
}
