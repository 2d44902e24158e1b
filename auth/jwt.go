package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ferreirogomes/matricula/models"

	"github.com/golang-jwt/jwt/v4"
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer emite tokens HS256 com sub = carteira e role = papel.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIssuer(secret string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JWTIssuer) Issue(user models.User) (string, error) {
	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   models.CanonicalWallet(user.Wallet),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	})
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("falha ao assinar token: %w", err)
	}
	return signed, nil
}

func (j *JWTIssuer) Parse(raw string) (models.Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("algoritmo inesperado %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, errors.New("token sem sub"))
	}
	role := models.RoleUser
	if c.Role != "" {
		if role, err = models.ParseRole(c.Role); err != nil {
			return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
		}
	}
	return models.Identity{Wallet: models.CanonicalWallet(c.Subject), Role: role}, nil
}
