package integrity

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLength is the shortest shared secret accepted for HS256
const MinHMACSecretLength = 32

// Signer produces compact signed tokens
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
}

// Verifier checks a token's signature and fills claims
type Verifier interface {
	Verify(token string, claims jwt.Claims, opts ...jwt.ParserOption) error
}

// Key is a single signing key. A key built from a public key only can
// verify but not sign.
type Key struct {
	method  jwt.SigningMethod
	kid     string
	private any
	public  any
}

// NewHMACKey creates a shared-secret HS256 key
func NewHMACKey(kid string, secret []byte) (*Key, error) {
	if len(secret) < MinHMACSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", MinHMACSecretLength)
	}
	s := append([]byte(nil), secret...)
	return &Key{method: jwt.SigningMethodHS256, kid: kid, private: s, public: s}, nil
}

// NewECDSAKey creates an ES256 key from a P-256 private key
func NewECDSAKey(kid string, priv *ecdsa.PrivateKey) (*Key, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("ES256 requires a P-256 private key")
	}
	return &Key{method: jwt.SigningMethodES256, kid: kid, private: priv, public: &priv.PublicKey}, nil
}

// NewECDSAVerifier creates a verify-only ES256 key
func NewECDSAVerifier(kid string, pub *ecdsa.PublicKey) *Key {
	return &Key{method: jwt.SigningMethodES256, kid: kid, public: pub}
}

// GenerateECDSAKey creates a fresh ES256 key
func GenerateECDSAKey(kid string) (*Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return NewECDSAKey(kid, priv)
}

// NewEd25519Key creates an EdDSA key
func NewEd25519Key(kid string, priv ed25519.PrivateKey) (*Key, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key size %d", len(priv))
	}
	return &Key{method: jwt.SigningMethodEdDSA, kid: kid, private: priv, public: priv.Public()}, nil
}

// NewEd25519Verifier creates a verify-only EdDSA key
func NewEd25519Verifier(kid string, pub ed25519.PublicKey) *Key {
	return &Key{method: jwt.SigningMethodEdDSA, kid: kid, public: pub}
}

// GenerateEd25519Key creates a fresh EdDSA key
func GenerateEd25519Key(kid string) (*Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return NewEd25519Key(kid, priv)
}

// KeyID returns the key identifier placed in token headers
func (k *Key) KeyID() string {
	return k.kid
}

// Algorithm returns the JWS algorithm name
func (k *Key) Algorithm() string {
	return k.method.Alg()
}

// Public returns a verify-only copy of the key
func (k *Key) Public() *Key {
	return &Key{method: k.method, kid: k.kid, public: k.public}
}

// Sign implements Signer
func (k *Key) Sign(claims jwt.Claims) (string, error) {
	if k.private == nil {
		return "", fmt.Errorf("key %s cannot sign: no private key", k.kid)
	}
	token := jwt.NewWithClaims(k.method, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier
func (k *Key) Verify(token string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	return NewKeySet(k).Verify(token, claims, opts...)
}

// KeySet verifies tokens from several parties, selecting the key by the
// token's kid header.
type KeySet struct {
	keys map[string]*Key
}

// NewKeySet creates a key set. Later keys replace earlier keys with the same id.
func NewKeySet(keys ...*Key) *KeySet {
	ks := &KeySet{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		if k != nil {
			ks.keys[k.kid] = k
		}
	}
	return ks
}

// Add registers another key
func (ks *KeySet) Add(k *Key) {
	ks.keys[k.kid] = k
}

// Verify implements Verifier
func (ks *KeySet) Verify(token string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods(ks.methods())}, opts...)
	_, err := jwt.ParseWithClaims(token, claims, ks.keyFunc, opts...)
	return err
}

func (ks *KeySet) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	if token.Method.Alg() != key.method.Alg() {
		return nil, fmt.Errorf("algorithm %s does not match key %s", token.Method.Alg(), kid)
	}
	return key.public, nil
}

func (ks *KeySet) methods() []string {
	seen := make(map[string]bool)
	for _, k := range ks.keys {
		seen[k.method.Alg()] = true
	}
	methods := make([]string, 0, len(seen))
	for alg := range seen {
		methods = append(methods, alg)
	}
	sort.Strings(methods)
	return methods
}
