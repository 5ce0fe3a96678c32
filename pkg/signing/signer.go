package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Meta is the signed header of an envelope.
type Meta struct {
	TS    string `json:"ts"`
	Sig   string `json:"sig"`
	Algo  string `json:"algo"`
	KeyID string `json:"key_id"`
}

type Signer struct {
	keys *KeyRing
	now  func() time.Time
}

func NewSigner(keys *KeyRing) *Signer {
	return &Signer{keys: keys, now: time.Now}
}

func (s *Signer) Keys() *KeyRing { return s.keys }

// Sign canonicalizes payload and signs ts|data with the active key.
func (s *Signer) Sign(payload any) (Meta, json.RawMessage, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	kid, secret := s.keys.Active()
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return Meta{
		TS:    ts,
		Sig:   mac(secret, ts, data),
		Algo:  Algorithm,
		KeyID: kid,
	}, data, nil
}

// Verify checks meta against data using the key named in meta.
func (s *Signer) Verify(meta Meta, data []byte) error {
	secret, ok := s.keys.Secret(meta.KeyID)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKey, meta.KeyID)
	}
	want, err := base64.StdEncoding.DecodeString(meta.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	got, _ := base64.StdEncoding.DecodeString(mac(secret, meta.TS, data))
	if !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

func mac(secret []byte, ts string, data []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("|"))
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
