// Package services implements the HTTP clients consumed by the ingestion pipeline.
//
// # Spotify Web API
//
// [SpotifyService] reads the recently-played feed and the batched audio-features
// endpoint. It holds no per-user state: every call takes the user's bearer token,
// so one instance is shared by every worker in a run. Requests pass through a
// shared [rate.Limiter] and a [gobreaker.CircuitBreaker] that trips only on
// transport failures and 5xx responses.
//
// # Token Broker
//
// [BrokerClient] resolves a short-lived access token for a user id. A 404 from
// the broker is the normal "account not linked" outcome and maps to
// [shared.ErrNotLinked].
//
// # OAuth
//
// [SpotifyAuth] wraps [oauth2.Config] for the authorization-code flow used when
// linking an account and for refresh-token exchange inside the token broker.
//
// # Error Handling
//
// Failures use typed errors from the shared package:
//   - [shared.ErrAPIRequest] : upstream request failed; [StatusError] carries the HTTP status
//   - [shared.ErrCredentialFetch] : broker failure other than not linked
//   - [shared.ErrNotLinked] : user never linked an account
//   - [shared.ErrValidation] : response body did not have the expected shape
//   - [shared.ErrRefreshFailed] : accounts service rejected a refresh token
package services
