// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTenantNotFound indicates the request could not be mapped to an active
// tenant. Inactive and unknown tenants are deliberately indistinguishable.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrBlacklisted indicates the client identity is on the permanent blocklist.
var ErrBlacklisted = errors.New("identity is blacklisted")

// ErrRateLimited indicates the token bucket for this identity is exhausted.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrLockedOut indicates too many recent login failures for this identity.
var ErrLockedOut = errors.New("login temporarily locked")

// ErrInfraUnavailable indicates the cache or script substrate could not be
// reached. Traffic control converts this to a fail-open allow; tenant
// resolution treats it as fatal for the request.
var ErrInfraUnavailable = errors.New("infrastructure unavailable")
