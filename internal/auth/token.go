package auth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mrlokans/crudkit/internal/config"
)

// DefaultTokenExpiresIn is the token lifetime when none is configured.
const DefaultTokenExpiresIn = time.Hour

var (
	ErrBadSignature     = errors.New("bad signature")
	ErrBadHeader        = errors.New("bad header")
	ErrSignatureExpired = errors.New("signature expired")
)

var signingMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// Serializer signs payloads into expiring JWS tokens. The issue and expiry
// times travel in the protected header as iat and exp.
type Serializer struct {
	secret    []byte
	method    *jwt.SigningMethodHMAC
	expiresIn time.Duration
	now       func() time.Time
}

// NewSerializer creates a serializer. An empty algorithm means HS512 and a
// non-positive expiresIn means DefaultTokenExpiresIn.
func NewSerializer(secret []byte, algorithm string, expiresIn time.Duration) (*Serializer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if algorithm == "" {
		algorithm = "HS512"
	}
	method, ok := signingMethods[strings.ToUpper(algorithm)]
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	if expiresIn <= 0 {
		expiresIn = DefaultTokenExpiresIn
	}
	return &Serializer{secret: secret, method: method, expiresIn: expiresIn, now: time.Now}, nil
}

// SerializerFromConfig creates a serializer from the auth configuration.
func SerializerFromConfig(cfg config.Auth) (*Serializer, error) {
	return NewSerializer([]byte(cfg.SecretKey), cfg.TokenAlgorithm, cfg.TokenExpiresIn)
}

// ExpiresIn returns the lifetime of issued tokens.
func (s *Serializer) ExpiresIn() time.Duration { return s.expiresIn }

// Dumps signs payload.
func (s *Serializer) Dumps(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	iat := s.now().Unix()
	token := jwt.NewWithClaims(s.method, jwt.MapClaims(payload))
	token.Header["iat"] = iat
	token.Header["exp"] = iat + int64(s.expiresIn/time.Second)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Loads verifies token and returns its payload. Errors wrap
// ErrBadSignature, ErrBadHeader or ErrSignatureExpired.
func (s *Serializer) Loads(token string) (map[string]any, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if alg, _ := unverified.Header["alg"].(string); alg != s.method.Alg() {
		return nil, fmt.Errorf("%w: algorithm mismatch", ErrBadHeader)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithoutClaimsValidation())
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	exp, ok := parsed.Header["exp"]
	if !ok {
		return nil, fmt.Errorf("%w: missing expiry date", ErrBadHeader)
	}
	expiry, ok := exp.(float64)
	if !ok || expiry != math.Trunc(expiry) || expiry < 0 {
		return nil, fmt.Errorf("%w: expiry date is not an IntDate", ErrBadHeader)
	}
	if int64(expiry) < s.now().Unix() {
		return nil, ErrSignatureExpired
	}
	return claims, nil
}

// TokenFromRequest returns the bearer token of the Authorization header, or
// an empty string.
func TokenFromRequest(c *gin.Context) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IsBearerRequest reports whether the request carries a bearer token.
func IsBearerRequest(c *gin.Context) bool {
	return TokenFromRequest(c) != ""
}
