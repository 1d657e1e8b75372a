/*
Package identity resolves bearer credentials into normalized identities.

This file implements the Resolver. Resolve never fails toward its caller:
decode or verification errors degrade to a nil identity so that a bad
credential can never block a join. Verify exposes the underlying error for
upgrade-time auth policies that need to distinguish a rejected credential
from an unavailable key set.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"roomsync/internal/configs"
	"roomsync/internal/pkg/logx"
)

// jwksRefreshInterval controls how often the remote key set is re-fetched.
const jwksRefreshInterval = 5 * time.Minute

// ErrResolverUnavailable is returned by Verify when the resolver cannot
// check credentials at all (JWKS never fetched), as opposed to a credential
// that was checked and rejected.
var ErrResolverUnavailable = errors.New("identity resolver unavailable")

// errNoCredential is returned internally for empty credentials.
var errNoCredential = errors.New("no credential supplied")

// claims are the token fields the resolver normalizes from.
type claims struct {
	jwt.RegisteredClaims
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Nickname          string `json:"nickname"`
	Email             string `json:"email"`
}

// Resolver turns bearer credentials into identities according to the
// configured mode: none, decode (no signature check), hs256 (shared secret)
// or jwks (remote key set with optional issuer/audience checks).
type Resolver struct {
	mode     string
	secret   []byte
	issuer   string
	audience string
	jwks     *keyfunc.JWKS
	logger   zerolog.Logger
}

// NewResolver builds a Resolver from the application config. In jwks mode a
// failed initial key-set fetch is logged but not fatal: the resolver stays
// up and reports ErrResolverUnavailable from Verify until restarted.
func NewResolver(cfg *configs.AppConfig) *Resolver {
	r := &Resolver{
		mode:     cfg.AuthMode,
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		logger:   logx.Logger().With().Str("component", "identity").Str("mode", cfg.AuthMode).Logger(),
	}

	if cfg.AuthMode == configs.AuthModeJWKS {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:               context.Background(),
			RefreshInterval:   jwksRefreshInterval,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logx.Error(err, "JWKS refresh failed")
			},
		})
		if err != nil {
			r.logger.Error().Err(err).Str("jwks_url", cfg.JWKSURL).
				Msg("Initial JWKS fetch failed. Identity resolution degraded to anonymous.")
		} else {
			r.jwks = jwks
		}
	}

	return r
}

// Resolve decodes (and, when configured, verifies) the credential and returns
// the normalized identity, or nil when the credential is absent, invalid, or
// the mode is none. It never returns an error.
func (r *Resolver) Resolve(credential string) *Identity {
	ident, err := r.resolve(credential)
	if err != nil {
		if !errors.Is(err, errNoCredential) {
			r.logger.Debug().Err(err).Msg("Credential resolution failed. Treating connection as anonymous.")
		}
		return nil
	}
	return ident
}

// Verify resolves the credential but surfaces the failure reason. Used by the
// upgrade handshake when authentication is mandatory, where a rejected
// credential and an unavailable key set map to different close codes.
func (r *Resolver) Verify(credential string) (*Identity, error) {
	return r.resolve(credential)
}

func (r *Resolver) resolve(credential string) (*Identity, error) {
	if credential == "" {
		return nil, errNoCredential
	}

	parsed := &claims{}

	switch r.mode {
	case configs.AuthModeNone:
		return nil, fmt.Errorf("identity resolution disabled")

	case configs.AuthModeDecode:
		// Development mode: normalization without cryptographic verification.
		if _, _, err := jwt.NewParser().ParseUnverified(credential, parsed); err != nil {
			return nil, fmt.Errorf("credential decode failed: %w", err)
		}

	case configs.AuthModeHS256:
		token, err := jwt.ParseWithClaims(credential, parsed, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return r.secret, nil
		}, r.parseOptions()...)
		if err != nil {
			return nil, fmt.Errorf("credential verification failed: %w", err)
		}
		if !token.Valid {
			return nil, fmt.Errorf("credential is not valid")
		}

	case configs.AuthModeJWKS:
		if r.jwks == nil {
			return nil, ErrResolverUnavailable
		}
		token, err := jwt.ParseWithClaims(credential, parsed, r.jwks.Keyfunc, r.parseOptions()...)
		if err != nil {
			return nil, fmt.Errorf("credential verification failed: %w", err)
		}
		if !token.Valid {
			return nil, fmt.Errorf("credential is not valid")
		}

	default:
		return nil, fmt.Errorf("unknown resolver mode %q", r.mode)
	}

	return normalize(parsed), nil
}

// parseOptions builds the jwt parser options for verifying modes.
func (r *Resolver) parseOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}
	return opts
}

// normalize maps raw claims onto an Identity, preferring name over
// preferred_username over nickname for the display name.
func normalize(c *claims) *Identity {
	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}
	if name == "" {
		name = c.Nickname
	}

	return &Identity{
		SubjectID: c.Subject,
		Name:      name,
		Email:     c.Email,
		Provider:  ProviderFromIssuer(c.Issuer),
	}
}

// Close stops the background JWKS refresh goroutine, if any.
func (r *Resolver) Close() {
	if r.jwks != nil {
		r.jwks.EndBackground()
	}
}
