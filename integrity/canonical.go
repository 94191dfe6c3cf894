package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hash is a content digest rendered as "sha256:<hex>"
type Hash string

const hashPrefix = "sha256:"

// Equal compares two digests in constant time
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare([]byte(h), []byte(other)) == 1
}

// Valid reports whether the digest is well formed
func (h Hash) Valid() bool {
	s := string(h)
	if !strings.HasPrefix(s, hashPrefix) {
		return false
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, hashPrefix))
	return err == nil && len(raw) == sha256.Size
}

// Canonicalize renders v as JSON with object keys sorted at every level,
// numbers kept verbatim and no insignificant whitespace. Two values with the
// same structure produce the same bytes whatever order their keys arrived in.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	// encoding/json writes map keys in sorted order
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode canonical content: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Digest hashes the canonical form of v with SHA-256
func Digest(v any) (Hash, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return Hash(hashPrefix + hex.EncodeToString(sum[:])), nil
}
