package identity

import "strings"

// ProviderCustom tags credentials from an unrecognized issuer.
const ProviderCustom = "custom"

// providerHints maps issuer-URL substrings to provider tags. Matching is
// deliberately loose: hosted issuers embed the vendor name in many different
// URL shapes (tenant subdomains, realm paths, regional hosts).
var providerHints = []struct {
	substr   string
	provider string
}{
	{"clerk", "clerk"},
	{"auth0", "auth0"},
	{"supabase", "supabase"},
	{"securetoken.google.com", "firebase"},
	{"firebase", "firebase"},
	{"cognito", "cognito"},
	{"keycloak", "keycloak"},
}

// ProviderFromIssuer maps an issuer string to a provider tag. Unrecognized
// or empty issuers map to ProviderCustom.
func ProviderFromIssuer(issuer string) string {
	lower := strings.ToLower(issuer)
	for _, hint := range providerHints {
		if strings.Contains(lower, hint.substr) {
			return hint.provider
		}
	}
	return ProviderCustom
}
