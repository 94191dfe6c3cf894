package integrity

import (
	"errors"
	"fmt"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token audiences
const (
	AudiencePaymentProcessor = "payment-processor"
	AudienceMerchant         = "merchant"
)

// Default token lifetimes
const (
	DefaultCartTokenTTL    = 15 * time.Minute
	DefaultPaymentTokenTTL = time.Hour
)

// Claims are the JWS claims of cart and payment authorizations
type Claims struct {
	CartID           string `json:"cart_id,omitempty"`
	CartHash         Hash   `json:"cart_hash,omitempty"`
	PaymentMandateID string `json:"payment_mandate_id,omitempty"`
	PaymentHash      Hash   `json:"payment_hash,omitempty"`
	jwt.RegisteredClaims
}

// Decoded is an unverified view of a token, for debugging only
type Decoded struct {
	Header map[string]any `json:"header"`
	Claims map[string]any `json:"claims"`
}

// Service signs and verifies mandates
type Service struct {
	signer          Signer
	verifier        Verifier
	now             func() time.Time
	cartTokenTTL    time.Duration
	paymentTokenTTL time.Duration
	merchantIssuer  string
	merchantSubject string
	userIssuer      string
	userSubject     string
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithVerifier sets the verifier, e.g. a KeySet holding every party's public key
func WithVerifier(v Verifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

// WithCartTokenTTL sets the lifetime of merchant authorizations
func WithCartTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.cartTokenTTL = ttl
	}
}

// WithPaymentTokenTTL sets the lifetime of user authorizations
func WithPaymentTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.paymentTokenTTL = ttl
	}
}

// WithMerchantIdentity sets issuer and subject of cart tokens
func WithMerchantIdentity(issuer, subject string) Option {
	return func(s *Service) {
		s.merchantIssuer = issuer
		s.merchantSubject = subject
	}
}

// WithUserIdentity sets issuer and subject of payment tokens
func WithUserIdentity(issuer, subject string) Option {
	return func(s *Service) {
		s.userIssuer = issuer
		s.userSubject = subject
	}
}

// NewService creates a mandate signing service. When signer also verifies
// and no verifier option is given, it verifies its own tokens.
func NewService(signer Signer, opts ...Option) (*Service, error) {
	s := &Service{
		signer:          signer,
		now:             time.Now,
		cartTokenTTL:    DefaultCartTokenTTL,
		paymentTokenTTL: DefaultPaymentTokenTTL,
		merchantIssuer:  "merchant",
		merchantSubject: "merchant_agent",
		userIssuer:      "user",
		userSubject:     "user-credential",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		if v, ok := signer.(Verifier); ok {
			s.verifier = v
		}
	}
	if s.signer == nil && s.verifier == nil {
		return nil, fmt.Errorf("integrity service needs a signer or a verifier")
	}
	return s, nil
}

// Now returns the service clock's current time
func (s *Service) Now() time.Time {
	return s.now()
}

// SignCart produces the merchant authorization for cart contents
func (s *Service) SignCart(contents contracts.CartContents) (string, error) {
	digest, err := Digest(contents)
	if err != nil {
		return "", fmt.Errorf("failed to digest cart: %w", err)
	}
	claims := &Claims{
		CartID:           contents.ID,
		CartHash:         digest,
		RegisteredClaims: s.registered(s.merchantIssuer, s.merchantSubject, AudiencePaymentProcessor, s.cartTokenTTL),
	}
	return s.sign(claims)
}

// SignPayment produces the user authorization for payment contents. The
// claims carry the signed cart's digest so the two mandates stay chained.
func (s *Service) SignPayment(contents contracts.PaymentMandateContents, cartHash Hash) (string, error) {
	digest, err := Digest(contents)
	if err != nil {
		return "", fmt.Errorf("failed to digest payment mandate: %w", err)
	}
	claims := &Claims{
		PaymentMandateID: contents.PaymentMandateID,
		PaymentHash:      digest,
		CartHash:         cartHash,
		RegisteredClaims: s.registered(s.userIssuer, s.userSubject, AudienceMerchant, s.paymentTokenTTL),
	}
	return s.sign(claims)
}

func (s *Service) registered(issuer, subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.New().String(),
	}
}

func (s *Service) sign(claims *Claims) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("integrity service has no signing key")
	}
	return s.signer.Sign(claims)
}

// Verify checks the token signature and expiry and returns its claims
func (s *Service) Verify(token string) (*Claims, error) {
	return s.verify("verify token", token, true)
}

// VerifySignature checks only the signature, ignoring expiry
func (s *Service) VerifySignature(token string) (*Claims, error) {
	return s.verify("verify signature", token, false)
}

func (s *Service) verify(op, token string, checkExpiry bool) (*Claims, error) {
	if token == "" {
		return nil, contracts.Integrity(op, "missing token")
	}
	if s.verifier == nil {
		return nil, contracts.Integrity(op, "no verification key configured")
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	if err := s.verifier.Verify(token, claims, opts...); err != nil {
		return nil, classify(op, err)
	}
	return claims, nil
}

func classify(op string, err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return &contracts.MandateError{Kind: contracts.ErrExpired, Op: op, Detail: "token expired", Err: err}
	}
	return &contracts.MandateError{Kind: contracts.ErrIntegrity, Op: op, Err: err}
}

// Decode returns the header and claims of a token without verifying it
func Decode(token string) (*Decoded, error) {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, &contracts.MandateError{Kind: contracts.ErrValidation, Op: "decode token", Err: err}
	}
	return &Decoded{Header: parsed.Header, Claims: claims}, nil
}

// VerifyCartMandate checks the merchant authorization against the cart
// contents and the cart window. It returns the verified claims.
func (s *Service) VerifyCartMandate(cart contracts.CartMandate) (*Claims, error) {
	return s.verifyCart(cart, true)
}

func (s *Service) verifyCart(cart contracts.CartMandate, checkExpiry bool) (*Claims, error) {
	const op = "verify cart mandate"

	claims, err := s.verify(op, cart.MerchantAuthorization, checkExpiry)
	if err != nil {
		return nil, err
	}
	if !hasAudience(claims, AudiencePaymentProcessor) {
		return nil, contracts.Integrity(op, "token is not a merchant authorization")
	}
	if claims.CartID != cart.ID() {
		return nil, contracts.Integrity(op, "token cart id %q does not match cart %q", claims.CartID, cart.ID())
	}
	digest, err := Digest(cart.Contents)
	if err != nil {
		return nil, fmt.Errorf("failed to digest cart: %w", err)
	}
	if !digest.Equal(claims.CartHash) {
		return nil, contracts.Integrity(op, "cart %s contents do not match signed digest", cart.ID())
	}
	if checkExpiry && cart.Contents.Expired(s.now()) {
		return nil, contracts.Expired(op, "cart %s expired at %s", cart.ID(), cart.Contents.CartExpiry.Format(time.RFC3339))
	}
	return claims, nil
}

// VerifyPaymentMandate checks the user authorization, that the payment
// matches the cart's details and total, and that it is chained to the
// signed cart.
func (s *Service) VerifyPaymentMandate(payment contracts.PaymentMandate, cart contracts.CartMandate) (*Claims, error) {
	return s.verifyPayment(payment, cart, true)
}

func (s *Service) verifyPayment(payment contracts.PaymentMandate, cart contracts.CartMandate, checkExpiry bool) (*Claims, error) {
	const op = "verify payment mandate"

	claims, err := s.verify(op, payment.UserAuthorization, checkExpiry)
	if err != nil {
		return nil, err
	}
	if !hasAudience(claims, AudienceMerchant) {
		return nil, contracts.Integrity(op, "token is not a user authorization")
	}
	if claims.PaymentMandateID != payment.ID() {
		return nil, contracts.Integrity(op, "token mandate id %q does not match mandate %q", claims.PaymentMandateID, payment.ID())
	}
	digest, err := Digest(payment.Contents)
	if err != nil {
		return nil, fmt.Errorf("failed to digest payment mandate: %w", err)
	}
	if !digest.Equal(claims.PaymentHash) {
		return nil, contracts.Integrity(op, "payment mandate %s contents do not match signed digest", payment.ID())
	}
	if payment.Contents.PaymentDetailsID != cart.PaymentDetailsID() {
		return nil, contracts.Integrity(op, "payment details id %q does not match cart %q",
			payment.Contents.PaymentDetailsID, cart.PaymentDetailsID())
	}
	if !payment.Contents.PaymentDetailsTotal.Amount.Equal(cart.Total().Amount) {
		return nil, contracts.Integrity(op, "payment total does not match cart total")
	}
	cartDigest, err := Digest(cart.Contents)
	if err != nil {
		return nil, fmt.Errorf("failed to digest cart: %w", err)
	}
	if !cartDigest.Equal(claims.CartHash) {
		return nil, contracts.Integrity(op, "payment mandate %s is not bound to cart %s", payment.ID(), cart.ID())
	}
	return claims, nil
}

// VerifyChain re-checks a settled cart and payment pair after the fact.
// Token lifetimes are ignored; signatures, digests and the chain are not.
func (s *Service) VerifyChain(cart contracts.CartMandate, payment contracts.PaymentMandate) error {
	if _, err := s.verifyCart(cart, false); err != nil {
		return err
	}
	_, err := s.verifyPayment(payment, cart, false)
	return err
}

func hasAudience(claims *Claims, audience string) bool {
	for _, aud := range claims.Audience {
		if aud == audience {
			return true
		}
	}
	return false
}
