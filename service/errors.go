package service

import (
	"errors"

	"serialbridge/bridge"
)

// Errors returned by Service operations. Transports map them to status codes
// with Code.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadyOpen       = bridge.ErrAlreadyOpen
	ErrNotFound          = bridge.ErrNotFound
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrEnumerationFailed = errors.New("port enumeration failed")
)

// Error codes reported by transports
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeAlreadyOpen       = "already_open"
	CodeNotFound          = "not_found"
	CodeDeviceUnavailable = "unavailable"
	CodeEnumerationFailed = "enumeration_failed"
	CodeInternal          = "internal"
)

// Code classifies err. nil yields the empty string.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrAlreadyOpen):
		return CodeAlreadyOpen
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDeviceUnavailable):
		return CodeDeviceUnavailable
	case errors.Is(err, ErrEnumerationFailed):
		return CodeEnumerationFailed
	default:
		return CodeInternal
	}
}
