package auth

import "errors"

var (
	// ErrInvalidState indicates the callback carried an unknown, expired, or
	// already-used state parameter.
	ErrInvalidState = errors.New("auth: invalid oauth state")
	// ErrTokenExchangeFailed indicates the upstream token endpoint rejected
	// the grant request.
	ErrTokenExchangeFailed = errors.New("auth: token exchange failed")
	// ErrTokenEndpointUnavailable indicates the token endpoint could not be
	// reached or produced no usable response (connection failure, request
	// timeout). The grant was never rejected, so the stored record is left
	// intact and the operation may succeed on retry.
	ErrTokenEndpointUnavailable = errors.New("auth: token endpoint unavailable")
	// ErrCorruptedUpstreamResponse indicates the token endpoint replied with
	// a body that does not match the expected token schema.
	ErrCorruptedUpstreamResponse = errors.New("auth: corrupted upstream token response")
	// ErrNotAuthenticated indicates no token record exists; the operator must
	// run the authorization flow.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrCorruptedTokenData indicates the stored token record failed to
	// parse. The record is purged so subsequent calls fail fast with
	// ErrNotAuthenticated instead of retrying against known-bad state.
	ErrCorruptedTokenData = errors.New("auth: corrupted token data")
	// ErrReauthenticationRequired indicates the refresh token was rejected
	// upstream; only a new authorization flow can recover.
	ErrReauthenticationRequired = errors.New("auth: reauthentication required")
)
