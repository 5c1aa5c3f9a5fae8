package session

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nodemesh/streamgate/internal/authority"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Claims are the session token claims streamgate understands.
type Claims struct {
	UserID int64 `json:"user_id"`
	Admin  bool  `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver resolves HMAC-signed session tokens. Invalid, expired or
// malformed tokens resolve to a guest; only the signature scheme is
// checked here, session revocation lives with the issuer.
type JWTResolver struct {
	secret []byte
	logger *logger.Logger
}

// NewJWTResolver creates a resolver validating tokens with the given
// shared secret.
func NewJWTResolver(secret []byte, lg *logger.Logger) *JWTResolver {
	if lg == nil {
		lg = logger.NewDefault("session")
	}
	return &JWTResolver{secret: secret, logger: lg}
}

func (r *JWTResolver) Resolve(ctx context.Context, sessionKey string) (*authority.Principal, error) {
	if sessionKey == "" {
		return nil, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(sessionKey, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == 0 {
		r.logger.WithError(err).Debug("session token rejected")
		return nil, nil
	}

	return &authority.Principal{ID: claims.UserID, Admin: claims.Admin}, nil
}

// Issue signs a session token for the given principal, used by tests and
// the development tooling.
func (r *JWTResolver) Issue(p authority.Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: p.ID, Admin: p.Admin})
	return token.SignedString(r.secret)
}
