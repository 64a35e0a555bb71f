// Package core defines sentinel errors.
package core

import "errors"

var (
	// Frame codec errors
	ErrMalformedFrame   = errors.New("v2x: malformed frame")
	ErrUnexpectedFormat = errors.New("v2x: unexpected frame format")
	ErrPayloadTooLarge  = errors.New("v2x: payload too large")

	// Packet record store errors
	ErrStoreExhausted = errors.New("v2x: packet record store exhausted")
	ErrStaleToken     = errors.New("v2x: stale correlation token")
	ErrDoubleRelease  = errors.New("v2x: packet record released twice")

	// Secure-message engine errors
	ErrQueueFull       = errors.New("v2x: secure-message queue full")
	ErrEngineClosed    = errors.New("v2x: secure-message engine closed")
	ErrEmptyPayload    = errors.New("v2x: empty payload")
	ErrInvalidKey      = errors.New("v2x: invalid key material")
	ErrMalformedSPDU   = errors.New("v2x: malformed secured message")
	ErrConstructFailed = errors.New("v2x: secured message construction failed")

	// Transport errors
	ErrTransportClosed     = errors.New("v2x: transport closed")
	ErrUnknownTransport    = errors.New("v2x: unknown transport type")
	ErrUnsupportedPlatform = errors.New("v2x: transport not supported on this platform")

	// Configuration errors
	ErrConfigInvalid = errors.New("v2x: invalid configuration")
)
