package integrity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fineu/fineu-core/internal/domain"
)

// DefaultObfuscationKey is the key shared with the web front-end storage layout.
const DefaultObfuscationKey = "fineu_secure_key_2024"

// ErrEmptyKey is returned when an Obfuscator is built without a key.
var ErrEmptyKey = errors.New("obfuscation key must not be empty")

// Obfuscator applies a repeating-key XOR followed by base64.
// It is NOT encryption: anyone holding the binary can reverse it.
type Obfuscator struct {
	key []byte
}

// NewObfuscator builds an Obfuscator for key.
func NewObfuscator(key string) (*Obfuscator, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Obfuscator{key: []byte(key)}, nil
}

// Obfuscate transforms raw bytes into a text-safe blob.
func (o *Obfuscator) Obfuscate(raw []byte) string {
	return base64.StdEncoding.EncodeToString(o.xor(raw))
}

// Reveal is the exact inverse of Obfuscate.
func (o *Obfuscator) Reveal(blob string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBlob, err)
	}
	return o.xor(decoded), nil
}

// Encode serializes and obfuscates rec.
func (o *Obfuscator) Encode(rec domain.UserRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal user record: %w", err)
	}
	return o.Obfuscate(payload), nil
}

// Decode reveals and deserializes a blob produced by Encode.
func (o *Obfuscator) Decode(blob string) (domain.UserRecord, error) {
	raw, err := o.Reveal(blob)
	if err != nil {
		return domain.UserRecord{}, err
	}

	var rec domain.UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.UserRecord{}, fmt.Errorf("%w: %v", ErrCorruptedBlob, err)
	}
	return rec, nil
}

func (o *Obfuscator) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ o.key[i%len(o.key)]
	}
	return out
}
