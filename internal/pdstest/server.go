// Package pdstest provides an in-process fake PDS that speaks the subset of
// XRPC used by the migrator, for tests.
package pdstest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	Identifier = "alice.test"
	Password   = "app-password"
	DID        = "did:plc:alice"
)

// CreatedRecord is a record received through createRecord.
type CreatedRecord struct {
	Repo       string
	Collection string
	Record     map[string]any
	URI        string
	CID        string
}

// Text returns the record's text field.
func (r CreatedRecord) Text() string {
	s, _ := r.Record["text"].(string)
	return s
}

// Embed returns the record's embed object, or nil.
func (r CreatedRecord) Embed() map[string]any {
	e, _ := r.Record["embed"].(map[string]any)
	return e
}

// Server is a fake PDS.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	handles     map[string]string
	expiresIn   int
	failResolve bool
	failLogins  int
	failText    string
	extraBlob   map[string]any

	logins  int
	blobs   int
	records []CreatedRecord
	tokens  map[string]bool
}

// New starts a fake PDS. The caller must Close it.
func New() *Server {
	s := &Server{
		handles: map[string]string{},
		tokens:  map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", s.handleCreateSession)
	mux.HandleFunc("GET /xrpc/com.atproto.identity.resolveHandle", s.handleResolveHandle)
	mux.HandleFunc("POST /xrpc/com.atproto.repo.uploadBlob", s.handleUploadBlob)
	mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", s.handleCreateRecord)

	s.Server = httptest.NewServer(mux)
	return s
}

// SetHandle makes handle resolve to did.
func (s *Server) SetHandle(handle, did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle] = did
}

// SetExpiresIn sets the session lifetime, in seconds, returned on login.
// Zero omits it from the response.
func (s *Server) SetExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// SetFailResolve makes resolveHandle return 500.
func (s *Server) SetFailResolve(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failResolve = fail
}

// SetFailLogins makes the next n createSession calls return 500.
func (s *Server) SetFailLogins(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogins = n
}

// SetFailText makes createRecord return 500 for records whose text
// contains text.
func (s *Server) SetFailText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failText = text
}

// SetExtraBlobFields merges fields into every uploadBlob response.
func (s *Server) SetExtraBlobFields(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraBlob = fields
}

// Logins returns the number of successful createSession calls.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Blobs returns the number of uploaded blobs.
func (s *Server) Blobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs
}

// Records returns the created records in arrival order.
func (s *Server) Records() []CreatedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedRecord(nil), s.records...)
}

// RevokeTokens makes every issued token fail with 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]bool{}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if body.Identifier != Identifier || body.Password != Password {
		writeError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
		return
	}

	s.mu.Lock()
	if s.failLogins > 0 {
		s.failLogins--
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "InternalServerError", "session service unavailable")
		return
	}
	s.logins++
	token := fmt.Sprintf("token-%d", s.logins)
	s.tokens[token] = true
	expiresIn := s.expiresIn
	s.mu.Unlock()

	resp := map[string]any{
		"accessJwt":  token,
		"refreshJwt": "refresh-" + token,
		"did":        DID,
		"handle":     Identifier,
	}
	if expiresIn > 0 {
		resp["expires_in"] = expiresIn
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolveHandle(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")

	s.mu.Lock()
	did, ok := s.handles[handle]
	fail := s.failResolve
	s.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "InternalServerError", "resolver unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Unable to resolve handle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"did": did})
}

func (s *Server) handleUploadBlob(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "ExpiredToken", "Token has expired")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	s.mu.Lock()
	s.blobs++
	n := s.blobs
	extra := s.extraBlob
	s.mu.Unlock()

	blob := map[string]any{
		"$type":    "blob",
		"ref":      map[string]string{"$link": fmt.Sprintf("bafkblob%d", n)},
		"mimeType": r.Header.Get("Content-Type"),
		"size":     len(data),
	}
	for k, v := range extra {
		blob[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"blob": blob})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "ExpiredToken", "Token has expired")
		return
	}
	var body struct {
		Repo       string         `json:"repo"`
		Collection string         `json:"collection"`
		Record     map[string]any `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	text, _ := body.Record["text"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failText != "" && strings.Contains(text, s.failText) {
		writeError(w, http.StatusInternalServerError, "InternalServerError", "record rejected")
		return
	}

	n := len(s.records) + 1
	rec := CreatedRecord{
		Repo:       body.Repo,
		Collection: body.Collection,
		Record:     body.Record,
		URI:        fmt.Sprintf("at://%s/%s/rkey%d", body.Repo, body.Collection, n),
		CID:        fmt.Sprintf("bafyrec%d", n),
	}
	s.records = append(s.records, rec)

	writeJSON(w, http.StatusOK, map[string]string{"uri": rec.URI, "cid": rec.CID})
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}
