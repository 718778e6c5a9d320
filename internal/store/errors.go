package store

import "errors"

var (
	// ErrRecordNotFound wraps GORM's not found error for consistency
	ErrRecordNotFound = errors.New("record not found")

	// ErrAuthCodeAlreadyUsed is returned by RedeemAuthorizationCode when the
	// code was already consumed by a concurrent request (0 rows updated).
	ErrAuthCodeAlreadyUsed = errors.New("authorization code already used")

	// ErrRefreshTokenAlreadyUsed is returned by RotateRefreshToken when the
	// presented refresh token was revoked before the claim (0 rows updated).
	ErrRefreshTokenAlreadyUsed = errors.New("refresh token already used")
)
