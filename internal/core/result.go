// Package core defines the secure-message processing result.
package core

import "time"

// ResultCode is the outcome of processing a secured message.
type ResultCode uint8

const (
	ResultOK ResultCode = iota
	ResultMalformed
	ResultInvalidSignature
	ResultUnknownSigner
	ResultExpired
	ResultAIDMismatch
)

var resultNames = [...]string{
	ResultOK:               "ok",
	ResultMalformed:        "malformed",
	ResultInvalidSignature: "invalid_signature",
	ResultUnknownSigner:    "unknown_signer",
	ResultExpired:          "expired",
	ResultAIDMismatch:      "aid_mismatch",
}

func (c ResultCode) String() string {
	if int(c) < len(resultNames) {
		return resultNames[c]
	}
	return "unknown"
}

// ContentType classifies a secured message.
type ContentType uint8

const (
	ContentUnsecured ContentType = iota
	ContentSigned
)

func (c ContentType) String() string {
	if c == ContentSigned {
		return "signed"
	}
	return "unsecured"
}

// SignerType identifies how a signed message names its signer.
type SignerType uint8

const (
	SignerNone SignerType = iota
	SignerDigest
	SignerCertificate
)

func (s SignerType) String() string {
	switch s {
	case SignerDigest:
		return "digest"
	case SignerCertificate:
		return "certificate"
	}
	return "none"
}

// Result is what the secure-message engine learned about a received message.
// Optional fields are zero when the message did not carry them.
type Result struct {
	Code    ResultCode
	Content ContentType

	Signer         SignerType
	AID            uint32
	HasAID         bool
	GenerationTime time.Time
	Location       Position // Location.Valid is false when absent

	// Data is the application payload inside the secured message.
	Data []byte
}

// OK reports whether processing succeeded.
func (r *Result) OK() bool {
	return r != nil && r.Code == ResultOK
}
