package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/domain"
)

// TokenRegistry answers revocation and group-activeness questions.
// Implemented by the graph store's auth tables.
type TokenRegistry interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	ActiveGroups(ctx context.Context, groupIDs []string) ([]string, error)
}

// Claims is the JWT payload for service tokens. The first group is the
// primary write group.
type Claims struct {
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// Service parses bearer tokens and resolves caller capabilities
type Service struct {
	secret   []byte
	registry TokenRegistry
	log      zerolog.Logger
}

// NewService creates an auth service
func NewService(secret string, registry TokenRegistry, log zerolog.Logger) *Service {
	return &Service{
		secret:   []byte(secret),
		registry: registry,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// Resolve turns a bearer token string into an access context.
// An empty token yields the anonymous public-read context and logs a
// security warning.
func (s *Service) Resolve(ctx context.Context, bearer string) (*AccessContext, error) {
	bearer = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearer), "Bearer "))
	if bearer == "" {
		s.log.Warn().Msg("Anonymous request: no authorization header, public access only")
		return AnonymousContext(), nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.NewErrorf(domain.ErrAuthInvalidToken, "unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, domain.WrapError(domain.ErrAuthInvalidToken, "token is expired, malformed, or signed with the wrong key", err)
	}
	if len(claims.Groups) == 0 {
		return nil, domain.NewError(domain.ErrAuthInvalidToken, "token carries no groups")
	}

	tokenID := claims.ID
	if s.registry != nil {
		revoked, err := s.registry.IsTokenRevoked(ctx, tokenID)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "token registry lookup failed", err)
		}
		if revoked {
			return nil, domain.NewError(domain.ErrAuthInvalidToken, "token has been revoked")
		}
	}

	groups := claims.Groups
	if s.registry != nil {
		active, err := s.registry.ActiveGroups(ctx, claims.Groups)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "group lookup failed", err)
		}
		groups = active
		if len(groups) == 0 {
			return nil, domain.NewError(domain.ErrAuthInvalidToken, "token groups are all inactive")
		}
	}

	permitted := make(map[string]bool, len(groups)+1)
	for _, g := range groups {
		permitted[g] = true
	}
	// public is implicitly readable by every authenticated caller
	permitted[domain.GroupPublic] = true

	ac := &AccessContext{
		TokenID:         tokenID,
		PermittedGroups: permitted,
		WriteGroup:      claims.Groups[0],
		IsAdmin:         permitted[domain.GroupAdmin],
	}
	return ac, nil
}

// Mint issues a signed token for the given groups; the first group is the
// write group. Used by admin token management and tests.
func (s *Service) Mint(groups []string, ttl time.Duration) (tokenID string, signed string, err error) {
	if len(groups) == 0 {
		return "", "", domain.NewError(domain.ErrInvalidInput, "a token needs at least one group")
	}
	tokenID = uuid.New().String()
	now := time.Now().UTC()
	claims := &Claims{
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err = token.SignedString(s.secret)
	if err != nil {
		return "", "", domain.WrapError(domain.ErrStoreUnavailable, "token signing failed", err)
	}
	return tokenID, signed, nil
}
