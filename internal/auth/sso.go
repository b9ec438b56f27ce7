package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTokenURL = "https://login.eveonline.com/v2/oauth/token"

// SSOClient exchanges refresh tokens against the EVE SSO. It implements
// TokenRefresher. Obtaining the initial refresh token (the authorize
// flow) happens outside this service.
type SSOClient struct {
	clientID     string
	clientSecret string
	http         *http.Client
	tokenURL     string
}

// NewSSOClient builds a refresher for the given SSO application.
func NewSSOClient(clientID, clientSecret string) *SSOClient {
	return &SSOClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
		tokenURL:     defaultTokenURL,
	}
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *SSOClient) Refresh(refreshToken string) (access, refresh string, expiresIn int64, err error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequest("POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", 0, err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("sso token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("sso token request: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", "", 0, fmt.Errorf("decode sso token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", "", 0, fmt.Errorf("sso token response missing access_token")
	}
	return tok.AccessToken, tok.RefreshToken, tok.ExpiresIn, nil
}
