package relay

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rili-live/therr-app-sub008/metrics"
)

const defaultLocale = "en-us"

// Claims is the decoded handshake credential. The transport-level handshake
// token is treated as the credential for the lifetime of the connection; it
// is re-verified per inbound privileged action so an expiry mid-connection
// drops only the action, not the connection.
type Claims struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Locale    string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator is the authentication gate in front of privileged actions.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(jwtSecret string) *Authenticator {
	return &Authenticator{secret: []byte(jwtSecret)}
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is invalid", ErrUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims shape", ErrUnauthorized)
	}
	if claims.Locale == "" {
		claims.Locale = defaultLocale
	}
	return claims, nil
}

// authenticate gates one inbound action. On failure it emits UNAUTHORIZED
// to the connection and returns nil; callers must not dispatch privileged
// actions on a nil result. No state is touched beyond the emit.
func (a *Authenticator) authenticate(c *Client) *Claims {
	claims, err := a.Verify(c.token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		c.Emit(EventUnauthorized, map[string]string{
			"message": "Unauthorized: invalid or missing token",
		})
		return nil
	}
	return claims
}
