package models

// IDTokenClaims represents the claims extracted from a provider ID token
type IDTokenClaims struct {
	Sub           string `json:"sub"`            // Subject (provider user id)
	Email         string `json:"email"`          // User email
	EmailVerified bool   `json:"email_verified"` // Whether the provider verified the email
	Name          string `json:"name"`           // Display name
	Exp           int64  `json:"exp"`            // Expiration time
	Iat           int64  `json:"iat"`            // Issued at
	Iss           string `json:"iss"`            // Issuer
	Aud           string `json:"aud"`            // Audience
}
