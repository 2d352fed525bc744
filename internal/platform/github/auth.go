// ABOUTME: GitHub credentials: a static token, or GitHub App JWTs exchanged for installation tokens.
// ABOUTME: Minted tokens are cached by oauth2.ReuseTokenSource until shortly before they expire.

package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v72/github"
	"golang.org/x/oauth2"

	"github.com/2389/morpheus-assistant/internal/config"
)

const (
	// GitHub rejects app JWTs valid for more than ten minutes.
	appJWTLifetime      = 9 * time.Minute
	tokenRequestTimeout = 30 * time.Second
	httpTimeout         = 30 * time.Second
)

// appJWTSource signs short-lived RS256 JWTs that authenticate as the app.
type appJWTSource struct {
	appID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

func (s *appJWTSource) Token() (*oauth2.Token, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer: s.appID,
		// Backdated to tolerate clock drift between us and GitHub.
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("signing app jwt: %w", err)
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: now.Add(appJWTLifetime)}, nil
}

// installationTokenSource exchanges app JWTs for installation access tokens.
// When no installation is configured the app's first installation is used.
type installationTokenSource struct {
	app            *github.Client
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenRequestTimeout)
	defer cancel()

	// ReuseTokenSource serializes calls, so installationID needs no lock.
	if s.installationID == 0 {
		installs, _, err := s.app.Apps.ListInstallations(ctx, &github.ListOptions{PerPage: 1})
		if err != nil {
			return nil, fmt.Errorf("listing app installations: %w", err)
		}
		if len(installs) == 0 {
			return nil, errors.New("github app has no installations")
		}
		s.installationID = installs[0].GetID()
	}

	tok, _, err := s.app.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating installation token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.GetToken(),
		TokenType:   "Bearer",
		Expiry:      tok.GetExpiresAt().Time,
	}, nil
}

// newClients builds the REST client used for replies and, with app
// credentials, the app-level client used to mint tokens and resolve the
// app's identity. App credentials win when both kinds are configured.
func newClients(cfg config.GitHubConfig) (rest, app *github.Client, err error) {
	base, err := apiBaseURL(cfg.APIURL)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AppID == "" || cfg.PrivateKey == "" {
		rest = github.NewClient(&http.Client{Timeout: httpTimeout}).WithAuthToken(cfg.Token)
		setBaseURL(rest, base)
		return rest, nil, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(normalizePEM(cfg.PrivateKey)))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing github app private key: %w", err)
	}
	var installationID int64
	if cfg.InstallationID != "" {
		installationID, err = strconv.ParseInt(cfg.InstallationID, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing github installation id %q: %w", cfg.InstallationID, err)
		}
	}

	app = newTokenClient(base, &appJWTSource{appID: cfg.AppID, key: key, now: time.Now})
	rest = newTokenClient(base, &installationTokenSource{app: app, installationID: installationID})
	return rest, app, nil
}

func newTokenClient(base *url.URL, src oauth2.TokenSource) *github.Client {
	c := github.NewClient(&http.Client{
		Timeout:   httpTimeout,
		Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, src)},
	})
	setBaseURL(c, base)
	return c
}

func setBaseURL(c *github.Client, base *url.URL) {
	if base != nil {
		c.BaseURL = base
	}
}

// apiBaseURL parses an API URL override; the client requires a trailing slash.
func apiBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing github api url: %w", err)
	}
	return u, nil
}

// normalizePEM restores newlines in keys passed through single-line
// environment variables.
func normalizePEM(key string) string {
	if strings.Contains(key, "\n") {
		return key
	}
	return strings.ReplaceAll(key, `\n`, "\n")
}
