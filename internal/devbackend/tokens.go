package devbackend

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceAccess  = "walletgate:access"
	audienceRefresh = "walletgate:refresh"
)

var errInvalidToken = errors.New("invalid token")

// AccessClaims are carried by access tokens
type AccessClaims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}

func (s *Server) issue(userID int64, wallet, audience string, ttl time.Duration) (string, error) {
	now := s.cfg.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{audience},
		},
		Wallet: wallet,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// issuePair returns an access and a refresh token for the user
func (s *Server) issuePair(userID int64, wallet string) (string, string, error) {
	access, err := s.issue(userID, wallet, audienceAccess, s.cfg.AccessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.issue(userID, wallet, audienceRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// parseAccess validates an access token and returns the user id it names
func (s *Server) parseAccess(tokenStr string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithAudience(audienceAccess), jwt.WithTimeFunc(s.cfg.Now))
	if err != nil {
		return 0, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return 0, errInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok {
		return 0, errInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errInvalidToken
	}
	return id, nil
}
