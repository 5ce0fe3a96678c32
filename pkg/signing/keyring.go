package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	Algorithm  = "HMAC-SHA256"
	DefaultKID = "default"
)

// KeyConfig is one configured key. Secret is base64, hex or raw text.
type KeyConfig struct {
	Kid    string `yaml:"kid" json:"kid"`
	Secret string `yaml:"secret" json:"secret"`
}

type Config struct {
	Keys []KeyConfig `yaml:"keys"`
}

// KeyInfo is the public description of a key.
type KeyInfo struct {
	Kid         string `json:"kid"`
	Alg         string `json:"alg"`
	Fingerprint string `json:"fingerprint"`
}

type Discovery struct {
	Keys   []KeyInfo `json:"keys"`
	Active string    `json:"active"`
}

// KeyRing holds every known secret and the one used for new signatures.
type KeyRing struct {
	mu      sync.RWMutex
	secrets map[string][]byte
	active  string
}

func NewKeyRing() *KeyRing {
	return &KeyRing{secrets: make(map[string][]byte)}
}

// LoadKeyRing builds the ring from cfg, then HMAC_KEYS_JSON, then
// HMAC_SECRET, and finally a random secret. The first key of a list is active.
func LoadKeyRing(cfg Config, log *zap.Logger) (*KeyRing, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keys := cfg.Keys
	if len(keys) == 0 {
		if raw := os.Getenv("HMAC_KEYS_JSON"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &keys); err != nil {
				log.Warn("invalid HMAC_KEYS_JSON, ignoring", zap.Error(err))
				keys = nil
			}
		}
	}
	if len(keys) == 0 {
		if s := os.Getenv("HMAC_SECRET"); s != "" {
			keys = []KeyConfig{{Kid: DefaultKID, Secret: s}}
		}
	}

	r := NewKeyRing()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := r.Rotate(keys[i].Kid, keys[i].Secret); err != nil {
			return nil, fmt.Errorf("key %q: %w", keys[i].Kid, err)
		}
	}
	if r.active != "" {
		return r, nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	log.Warn("no signing keys configured, using a random secret")
	r.add(DefaultKID, secret)
	return r, nil
}

// DecodeSecret tries base64, then hex, then takes the raw bytes.
func DecodeSecret(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) > 0 {
		return b
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return b
	}
	return []byte(s)
}

// Rotate adds kid and makes it the active key. Older keys keep verifying.
func (r *KeyRing) Rotate(kid, secret string) error {
	if kid == "" {
		return fmt.Errorf("%w: kid is required", ErrUnknownKey)
	}
	if secret == "" {
		return ErrEmptySecret
	}
	r.add(kid, DecodeSecret(secret))
	return nil
}

func (r *KeyRing) add(kid string, secret []byte) {
	r.mu.Lock()
	r.secrets[kid] = secret
	r.active = kid
	r.mu.Unlock()
}

func (r *KeyRing) Active() (string, []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.secrets[r.active]
}

func (r *KeyRing) Secret(kid string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[kid]
	return s, ok
}

func Fingerprint(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:16]
}

func (r *KeyRing) Discovery() Discovery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Discovery{Active: r.active, Keys: make([]KeyInfo, 0, len(r.secrets))}
	for kid, s := range r.secrets {
		out.Keys = append(out.Keys, KeyInfo{Kid: kid, Alg: Algorithm, Fingerprint: Fingerprint(s)})
	}
	sort.Slice(out.Keys, func(i, j int) bool { return out.Keys[i].Kid < out.Keys[j].Kid })
	return out
}
