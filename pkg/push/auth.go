package push

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const installationTokenTTL = time.Hour

// InstallationClaims identify one client installation to the push provider.
type InstallationClaims struct {
	ProjectID string `json:"project_id"`
	AppID     string `json:"app_id"`
	FID       string `json:"fid"`
	jwt.RegisteredClaims
}

// SignInstallation creates the bearer token sent with provider requests,
// signed with the app's API key. Only the local stand-in provider verifies
// it; the API key is not a secret.
func SignInstallation(app AppConfig, fid string, now time.Time) (string, error) {
	if app.APIKey == "" {
		return "", errors.New("push: api key is required")
	}
	claims := &InstallationClaims{
		ProjectID: app.ProjectID,
		AppID:     app.AppID,
		FID:       fid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    app.MessagingSenderID,
			Audience:  jwt.ClaimStrings{app.AuthDomain},
			Subject:   fid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(installationTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(app.APIKey))
}

// ParseInstallation validates a token produced by SignInstallation.
func ParseInstallation(apiKey, tokenString string) (*InstallationClaims, error) {
	claims := &InstallationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(apiKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Wrap(err, "parse installation token")
	}
	if !token.Valid {
		return nil, errors.New("push: invalid installation token")
	}
	return claims, nil
}
