package sentinel

import "errors"

// Sentinel dependency errors. Collaborators (token store, credential
// provider, connectivity observer) should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrNoTokens     = errors.New("no stored tokens")
	ErrExpired      = errors.New("expired")
	ErrInvalidInput = errors.New("invalid input")
	ErrOffline      = errors.New("device offline")
	ErrUnavailable  = errors.New("unavailable")
	ErrSignedOut    = errors.New("signed out")
)
