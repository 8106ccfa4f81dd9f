package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotLinked        = fmt.Errorf("user has not linked a Spotify account")
	ErrCredentialFetch  = fmt.Errorf("credential fetch failed")
	ErrUnauthenticated  = fmt.Errorf("unauthenticated")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrInvalidAuthState = fmt.Errorf("invalid oauth state")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrValidation         = fmt.Errorf("validation failed")

	// Persistence errors
	ErrWriteFailed = fmt.Errorf("write failed")
	ErrNotFound    = fmt.Errorf("not found")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrTimeout         = fmt.Errorf("operation timed out")
)
