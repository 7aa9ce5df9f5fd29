package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleSystem   Role = "system"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Actor is whoever drives an operation. Staff actors act on behalf of ShopID.
type Actor struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	ShopID string `json:"shop_id,omitempty"`
}

// Label is what audit entries record as the actor.
func (a Actor) Label() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

func (a Actor) IsStaffOf(shopID string) bool {
	return a.Role == RoleStaff && a.ShopID != "" && a.ShopID == shopID
}

// System is used by background jobs such as the payment expiry sweeper.
var System = Actor{ID: "system", Email: "system", Role: RoleSystem}

type Claims struct {
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	ShopID string `json:"shopId,omitempty"`
	jwt.StandardClaims
}

func Issue(secret string, a Actor, ttl time.Duration) (string, error) {
	claims := &Claims{
		Email:  a.Email,
		Role:   a.Role,
		ShopID: a.ShopID,
		StandardClaims: jwt.StandardClaims{
			Subject:   a.ID,
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func Parse(secret, tokenString string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Actor{}, ErrInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	if role == RoleStaff && claims.ShopID == "" {
		return Actor{}, fmt.Errorf("%w: staff token without shop", ErrInvalidToken)
	}
	return Actor{ID: claims.Subject, Email: claims.Email, Role: role, ShopID: claims.ShopID}, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
