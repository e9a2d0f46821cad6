// Package auth identifies the caller and user behind each chat request.
//
// # Caller Identity
//
// CallerIdentity derives a network identity from proxy headers, in order:
// the first hop of X-Forwarded-For, X-Real-IP, CF-Connecting-IP, and finally
// the host part of RemoteAddr. It keys rate limiting and request dedupe.
//
// # User Identity
//
// When auth.jwt_secret is configured, a request may carry
//
//	Authorization: Bearer <jwt>
//
// signed with HS256. The token's "sub" claim becomes the user id that scopes
// sessions. An invalid or expired token is rejected with 401. Requests
// without a token use the caller identity as the user id.
//
// Use JWTVerifier.Generate (exposed as the `persona-gateway token` command)
// to mint development tokens.
package auth
