package permissions

import "errors"

var (
	ErrAPIConnection      = errors.New("failed to reach permissions API")
	ErrAPIRejected        = errors.New("permissions API rejected the request")
	ErrAPIInvalidResponse = errors.New("invalid response from permissions API")
)
