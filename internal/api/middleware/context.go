package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
	traceKey        contextKey = "trace"
)

// API key scopes.
const (
	ScopeJobs      = "jobs"
	ScopeAdmin     = "admin"
	ScopeProcessor = "processor"
)

// SetUserID stores the authenticated user. Outer middleware that installed a
// request trace sees it as well.
func SetUserID(ctx context.Context, id uuid.UUID) context.Context {
	if t, ok := ctx.Value(traceKey).(*requestTrace); ok {
		t.setUser(id)
	}
	return context.WithValue(ctx, userIDKey, id)
}

// requestTrace carries identity set deep in the chain back out to Recovery,
// which only holds the outer request.
type requestTrace struct {
	mu     sync.Mutex
	userID uuid.UUID
}

func (t *requestTrace) setUser(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID = id
}

func (t *requestTrace) user() (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID, t.userID != uuid.Nil
}

func GetUserID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// GetKeyPrefix returns the prefix of the API key that authenticated r.
func GetKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes stores the scopes granted to the caller.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// HasScope reports whether the caller was granted scope.
func HasScope(r *http.Request, scope string) bool {
	for _, s := range getScopes(r) {
		if s == scope {
			return true
		}
	}
	return false
}
