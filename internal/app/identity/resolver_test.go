package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/configs"
)

const testSecret = "test-secret"

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func hs256Resolver(t *testing.T) *Resolver {
	t.Helper()

	return NewResolver(&configs.AppConfig{
		AuthMode:  configs.AuthModeHS256,
		JWTSecret: testSecret,
	})
}

func TestResolver_HS256_ValidCredential(t *testing.T) {
	credential := signHS256(t, testSecret, jwt.MapClaims{
		"sub":   "user-42",
		"name":  "Ada",
		"email": "ada@example.com",
		"iss":   "https://example.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	ident := hs256Resolver(t).Resolve(credential)
	require.NotNil(t, ident)
	assert.Equal(t, "user-42", ident.SubjectID)
	assert.Equal(t, "Ada", ident.Name)
	assert.Equal(t, "ada@example.com", ident.Email)
	assert.Equal(t, ProviderCustom, ident.Provider)
}

func TestResolver_HS256_InvalidCredentialsResolveToNil(t *testing.T) {
	resolver := hs256Resolver(t)

	tests := []struct {
		name       string
		credential string
	}{
		{name: "empty", credential: ""},
		{name: "garbage", credential: "not-a-jwt"},
		{
			name: "wrong secret",
			credential: signHS256(t, "other-secret", jwt.MapClaims{
				"sub": "user-42",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired",
			credential: signHS256(t, testSecret, jwt.MapClaims{
				"sub": "user-42",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "missing expiry",
			credential: signHS256(t, testSecret, jwt.MapClaims{
				"sub": "user-42",
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, resolver.Resolve(tt.credential))
		})
	}
}

func TestResolver_HS256_IssuerCheck(t *testing.T) {
	resolver := NewResolver(&configs.AppConfig{
		AuthMode:  configs.AuthModeHS256,
		JWTSecret: testSecret,
		JWTIssuer: "https://expected.test",
	})

	wrongIssuer := signHS256(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"iss": "https://other.test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Nil(t, resolver.Resolve(wrongIssuer))

	rightIssuer := signHS256(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"iss": "https://expected.test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.NotNil(t, resolver.Resolve(rightIssuer))
}

func TestResolver_DecodeMode_SkipsSignatureCheck(t *testing.T) {
	resolver := NewResolver(&configs.AppConfig{AuthMode: configs.AuthModeDecode})

	credential := signHS256(t, "whatever", jwt.MapClaims{
		"sub":                "user-7",
		"preferred_username": "grace",
		"iss":                "https://myrealm.auth0.com/",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	ident := resolver.Resolve(credential)
	require.NotNil(t, ident)
	assert.Equal(t, "user-7", ident.SubjectID)
	assert.Equal(t, "grace", ident.Name, "preferred_username backs the display name")
	assert.Equal(t, "auth0", ident.Provider)
}

func TestResolver_NoneMode(t *testing.T) {
	resolver := NewResolver(&configs.AppConfig{AuthMode: configs.AuthModeNone})
	assert.Nil(t, resolver.Resolve("anything"))
}

func TestResolver_VerifyReportsUnavailableJWKS(t *testing.T) {
	// JWKS mode without a reachable key set: the resolver stays up but
	// Verify distinguishes "cannot check" from "checked and rejected".
	resolver := &Resolver{mode: configs.AuthModeJWKS}

	_, err := resolver.Verify("some-token")
	assert.ErrorIs(t, err, ErrResolverUnavailable)
}

func TestProviderFromIssuer(t *testing.T) {
	tests := []struct {
		issuer string
		want   string
	}{
		{issuer: "https://alive-ray-1.clerk.accounts.dev", want: "clerk"},
		{issuer: "https://myrealm.auth0.com/", want: "auth0"},
		{issuer: "https://abc.supabase.co/auth/v1", want: "supabase"},
		{issuer: "https://securetoken.google.com/my-project", want: "firebase"},
		{issuer: "https://cognito-idp.us-east-1.amazonaws.com/pool", want: "cognito"},
		{issuer: "https://id.example.com/realms/keycloak", want: "keycloak"},
		{issuer: "https://id.example.com", want: ProviderCustom},
		{issuer: "", want: ProviderCustom},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ProviderFromIssuer(tt.issuer), "issuer %q", tt.issuer)
	}
}

func TestMergeFallback(t *testing.T) {
	t.Run("nil identity becomes claimed identity", func(t *testing.T) {
		ident := MergeFallback(nil, "Ada", "ada@example.com")
		require.NotNil(t, ident)
		assert.Equal(t, "Ada", ident.Name)
		assert.Equal(t, "ada@example.com", ident.Email)
		assert.Empty(t, ident.SubjectID)
	})

	t.Run("nil identity with no claims stays nil", func(t *testing.T) {
		assert.Nil(t, MergeFallback(nil, "", ""))
	})

	t.Run("populated fields are never overwritten", func(t *testing.T) {
		ident := MergeFallback(&Identity{SubjectID: "user-1", Name: "Resolved"}, "Claimed", "claimed@example.com")
		require.NotNil(t, ident)
		assert.Equal(t, "Resolved", ident.Name)
		assert.Equal(t, "claimed@example.com", ident.Email, "empty fields accept the fallback")
	})
}
