package annotation

import (
	"context"
	"net/http"
	"sync"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const sessionKey contextKey = "session"

// Session holds the upload and outcome of a single interactive request.
type Session struct {
	mu       sync.RWMutex
	filename string
	metadata *ImageMetadata
	result   *Result
	err      error
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) SetUpload(filename string, metadata *ImageMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filename = filename
	s.metadata = metadata
}

func (s *Session) Upload() (string, *ImageMetadata) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filename, s.metadata
}

func (s *Session) SetOutcome(result *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.err = err
}

func (s *Session) Outcome() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.err
}

// WithSession adds a fresh session to the context
func WithSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey, NewSession())
}

// GetSession retrieves the session from context, or nil
func GetSession(ctx context.Context) *Session {
	if session, ok := ctx.Value(sessionKey).(*Session); ok {
		return session
	}
	return nil
}

// sessionMiddleware gives every request its own session
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSession(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
