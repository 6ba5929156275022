// Package auth provides the authentication building blocks used by the
// login, permission and logging hooks of the rest package.
//
// # Tokens
//
// Serializer issues timed JWS tokens signed with HS256, HS384 or HS512.
// The issue time and the expiry travel in the protected header (iat, exp)
// and the payload is the caller's claim map:
//
//	s, _ := auth.NewSerializer(secret, "HS512", time.Hour)
//	token, _ := s.Dumps(map[string]any{"id": 1})
//	payload, err := s.Loads(token) // ErrBadSignature, ErrBadHeader, ErrSignatureExpired
//
// Clients send tokens as "Authorization: Bearer <token>".
//
// # Sessions
//
// SessionManager keeps browser sessions in the application's sqlite
// database via scs. LoadAndSave adapts scs to gin; CSRFMiddleware guards
// session authenticated requests and is skipped for bearer requests.
//
// # Login throttling
//
// RateLimiter locks an IP+username pair out for one window after
// MaxAttempts failed logins.
package auth
