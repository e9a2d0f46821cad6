// ABOUTME: Caller and user identity extraction for HTTP chat requests
// ABOUTME: Derives the network caller id from proxy headers and the user id from an optional JWT

package auth

import (
	"net"
	"net/http"
	"strings"
)

// Identity is who a request comes from.
type Identity struct {
	// CallerID is the network identity used for rate limiting and dedupe keys.
	CallerID string

	// UserID scopes sessions. It is the JWT subject when a token was
	// verified, otherwise the caller id.
	UserID string

	// Authenticated is true when UserID came from a verified token.
	Authenticated bool
}

// CallerIdentity returns the first hop of X-Forwarded-For, else X-Real-IP,
// else CF-Connecting-IP, else the host part of RemoteAddr.
func CallerIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdentityResolver builds an Identity for each request.
type IdentityResolver struct {
	verifier TokenVerifier
}

// NewIdentityResolver creates a resolver. A nil verifier disables tokens and
// every request's user id is its caller id.
func NewIdentityResolver(verifier TokenVerifier) *IdentityResolver {
	return &IdentityResolver{verifier: verifier}
}

// Resolve returns the request identity. When a verifier is configured and a
// bearer token is present, an invalid token is an error.
func (ir *IdentityResolver) Resolve(r *http.Request) (*Identity, error) {
	caller := CallerIdentity(r)
	id := &Identity{CallerID: caller, UserID: caller}

	if ir.verifier == nil {
		return id, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return id, nil
	}

	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		return nil, &TokenError{Reason: errMsg}
	}

	userID, err := ir.verifier.Verify(token)
	if err != nil {
		return nil, &TokenError{Reason: "invalid token", Err: err}
	}

	id.UserID = userID
	id.Authenticated = true
	return id, nil
}

// TokenError reports an unusable bearer token.
type TokenError struct {
	Reason string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
