package signing

import "errors"

var (
	ErrUnknownKey   = errors.New("unknown signing key")
	ErrBadSignature = errors.New("signature mismatch")
	ErrEmptySecret  = errors.New("empty secret")
)
