package auth

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
)

// Context keys for identity data
const (
	ContextKeyUserID   = "auth_user_id"
	ContextKeyUsername = "auth_username"
	ContextKeyAuthType = "auth_type"
)

// Token payload keys
const (
	TokenKeyUserID   = "id"
	TokenKeyUsername = "username"
)

// AuthType indicates how the user was authenticated.
type AuthType string

const (
	AuthTypeNone    AuthType = "none"
	AuthTypeSession AuthType = "session"
	AuthTypeBearer  AuthType = "bearer"
)

// ErrAuthRequired is returned when a request carries no valid credentials.
var ErrAuthRequired = errors.New("authentication required")

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   uint
	Username string
	Type     AuthType
}

// SetIdentity stores id in the gin context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(ContextKeyUserID, id.UserID)
	c.Set(ContextKeyUsername, id.Username)
	c.Set(ContextKeyAuthType, id.Type)
}

// CurrentIdentity returns the identity stored by SetIdentity, or nil.
func CurrentIdentity(c *gin.Context) *Identity {
	t, ok := c.Get(ContextKeyAuthType)
	if !ok {
		return nil
	}
	authType, _ := t.(AuthType)
	return &Identity{
		UserID:   GetUserID(c),
		Username: GetUsername(c),
		Type:     authType,
	}
}

// GetUserID returns the authenticated user ID, 0 when unknown.
func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get(ContextKeyUserID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// GetUsername returns the authenticated username, empty when unknown.
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}

// Authenticator resolves the identity of a request from a bearer token or,
// failing that, from the session. Either source may be nil.
type Authenticator struct {
	tokens   *Serializer
	sessions *SessionManager
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(tokens *Serializer, sessions *SessionManager) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions}
}

// Tokens returns the token serializer.
func (a *Authenticator) Tokens() *Serializer { return a.tokens }

// Sessions returns the session manager.
func (a *Authenticator) Sessions() *SessionManager { return a.sessions }

// Authenticate resolves the caller. A present but invalid bearer token is an
// error even when a session exists.
func (a *Authenticator) Authenticate(c *gin.Context) (*Identity, error) {
	if token := TokenFromRequest(c); token != "" {
		if a.tokens == nil {
			return nil, ErrAuthRequired
		}
		payload, err := a.tokens.Loads(token)
		if err != nil {
			return nil, err
		}
		return identityFromPayload(payload)
	}

	if a.sessions != nil && a.sessions.IsAuthenticated(c.Request) {
		return &Identity{
			UserID:   a.sessions.GetUserID(c.Request),
			Username: a.sessions.GetUsername(c.Request),
			Type:     AuthTypeSession,
		}, nil
	}
	return nil, ErrAuthRequired
}

// IssueToken signs a bearer token for the user.
func (a *Authenticator) IssueToken(userID uint, username string) (string, error) {
	if a.tokens == nil {
		return "", errors.New("token serializer is not configured")
	}
	return a.tokens.Dumps(map[string]any{
		TokenKeyUserID:   userID,
		TokenKeyUsername: username,
	})
}

func identityFromPayload(payload map[string]any) (*Identity, error) {
	// JSON numbers decode as float64
	raw, ok := payload[TokenKeyUserID].(float64)
	if !ok || raw <= 0 || raw != float64(uint(raw)) {
		return nil, fmt.Errorf("%w: token carries no user id", ErrBadSignature)
	}
	username, _ := payload[TokenKeyUsername].(string)
	return &Identity{UserID: uint(raw), Username: username, Type: AuthTypeBearer}, nil
}
