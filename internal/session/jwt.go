package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrBearerDisabled = errors.New("bearer tokens are not enabled")

// Claims is the HS256 bearer token payload. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for data that expires after lifetime.
func (m *Manager) IssueToken(data *Data, lifetime time.Duration) (string, error) {
	if len(m.jwtSecret) == 0 {
		return "", ErrBearerDisabled
	}
	if data == nil || data.UserID == uuid.Nil {
		return "", fmt.Errorf("session data with a user id is required")
	}
	now := time.Now()
	claims := Claims{
		Email: data.Email,
		Role:  data.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   data.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

// ParseBearer validates a bearer token and returns the session it carries.
func (m *Manager) ParseBearer(tokenString string) (*Data, error) {
	if len(m.jwtSecret) == 0 {
		return nil, ErrBearerDisabled
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid bearer token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid bearer subject: %w", err)
	}
	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	data := &Data{UserID: userID, Email: claims.Email, Role: role}
	if claims.IssuedAt != nil {
		data.CreatedAt = claims.IssuedAt.Unix()
	}
	return data, nil
}
