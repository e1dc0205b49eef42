package provider

// Builtin catalog. Endpoints are pinned where the provider's documents are
// stable; Google resolves through discovery to pick up JWKS rotation hints.

func builtinDescriptors() map[string]Descriptor {
	return map[string]Descriptor{
		"google": {
			ID:              "google",
			DisplayName:     "Google",
			Issuer:          "https://accounts.google.com",
			AltIssuers:      []string{"accounts.google.com"},
			ScopeDelimiter:  ScopeSpace,
			ResponseMode:    ResponseQuery,
			IdentityChannel: ChannelIDToken,
			PKCE:            PKCEOptional,
			DefaultScopes:   []string{"openid", "email", "profile"},
			SigningAlgs:     []string{"RS256"},
		},
		"github": {
			ID:               "github",
			DisplayName:      "GitHub",
			AuthEndpoint:     "https://github.com/login/oauth/authorize",
			TokenEndpoint:    "https://github.com/login/oauth/access_token",
			UserInfoEndpoint: "https://api.github.com/user",
			EmailsEndpoint:   "https://api.github.com/user/emails",
			ScopeDelimiter:   ScopeSpace,
			ResponseMode:     ResponseQuery,
			IdentityChannel:  ChannelUserInfo,
			PKCE:             PKCEUnsupported,
			DefaultScopes:    []string{"read:user", "user:email"},
			AcceptJSON:       true,
		},
		"facebook": {
			ID:               "facebook",
			DisplayName:      "Facebook",
			AuthEndpoint:     "https://www.facebook.com/v19.0/dialog/oauth",
			TokenEndpoint:    "https://graph.facebook.com/v19.0/oauth/access_token",
			UserInfoEndpoint: "https://graph.facebook.com/v19.0/me?fields=id,name,first_name,last_name,email,picture",
			ScopeDelimiter:   ScopeComma,
			ResponseMode:     ResponseQuery,
			IdentityChannel:  ChannelUserInfo,
			PKCE:             PKCEUnsupported,
			DefaultScopes:    []string{"email", "public_profile"},
		},
		"microsoft": {
			ID:              "microsoft",
			DisplayName:     "Microsoft",
			Issuer:          "https://login.microsoftonline.com/common/v2.0",
			AuthEndpoint:    "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenEndpoint:   "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			JWKSURI:         "https://login.microsoftonline.com/common/discovery/v2.0/keys",
			ScopeDelimiter:  ScopeSpace,
			ResponseMode:    ResponseFormPost,
			IdentityChannel: ChannelIDToken,
			PKCE:            PKCERequired,
			DefaultScopes:   []string{"openid", "email", "profile"},
			SigningAlgs:     []string{"RS256"},
			PolicyParam:     "p",
		},
	}
}
