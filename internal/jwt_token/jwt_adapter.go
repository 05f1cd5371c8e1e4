package jwttoken

import (
	"pawbase/internal/platform/middleware"
)

// JWTServiceAdapter bridges JWTService to the middleware's validator
// interface without coupling the middleware to this package's claim type.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		ClientID:  claims.ClientID,
	}, nil
}
