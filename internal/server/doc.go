// Package server provides HTTP routing, middleware, and the handlers behind `replay serve` and `replay spotify link`.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [BasicRouter] uses [http.ServeMux] method patterns; [Middleware] wraps
// handlers in reverse order (last added executes first).
//
// # Token broker
//
// [TokenHandler] serves GET /token?uid=. It exchanges the stored refresh
// token for a short-lived access token and persists a rotated refresh token
// when the accounts service returns one. Status mapping:
//   - 400: uid missing
//   - 404: user has no refresh token (the ingest pipeline treats this as "not linked")
//   - 502: refresh rejected upstream
//   - 503: client credentials not configured
//
// # Manual trigger
//
// [IngestHandler] serves POST /ingest. The caller presents an HS256 bearer
// token whose subject is the user id. Failures carry a stable kind:
// "unauthenticated" (401) or "internal" (500, with message).
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the authorization code flow used to link an
// account. It validates the state parameter, exchanges the code, and sends
// the result through a channel. Only one callback is processed.
package server
