package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtside/internal/access"
	"courtside/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims carried by bearer tokens. Subject holds the numeric user id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the identity service.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for p. Used by tooling and tests.
func (a *Authenticator) IssueToken(p access.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  string(p.Role),
		Email: p.Email,
		Name:  p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates tokenStr and returns the principal it names.
func (a *Authenticator) Parse(tokenStr string) (access.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return access.Principal{}, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return access.Principal{}, errors.New("invalid token")
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return access.Principal{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	role := models.Role(c.Role)
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return access.Principal{}, fmt.Errorf("invalid role %q", c.Role)
	}
	return access.Principal{UserID: id, Role: role, Email: c.Email, Name: c.Name}, nil
}

// authenticate rejects requests without a valid bearer token and records
// the caller's profile before passing the principal on.
func (s *HTTPServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		p, err := s.auth.Parse(token)
		if err != nil {
			s.log.Debug().Err(err).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.users.UpsertUser(ctx, &models.User{ID: p.UserID, Email: p.Email, Name: p.Name, Role: p.Role}); err != nil {
			s.log.Error().Err(err).Int64("user_id", p.UserID).Msg("failed to record user")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		next(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
	}
}

func principal(r *http.Request) access.Principal {
	p, _ := access.FromContext(r.Context())
	return p
}
