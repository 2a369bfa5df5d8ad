package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/protocol"
)

// OIDCConfig configures the optional single sign-on provider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider exchanges authorization codes for verified identities and
// mints local JWTs for them.
type OIDCProvider struct {
	config   OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewOIDCProvider performs issuer discovery and builds the provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	return &OIDCProvider{
		config:   cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// HandleOIDCLogin handles GET /api/v1/auth/oidc/login.
func (a *Auth) HandleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if a.oidc == nil {
		sendAuthError(w, http.StatusNotFound, "OIDC not configured")
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		state = "uigen"
	}
	http.Redirect(w, r, a.oidc.oauth.AuthCodeURL(state), http.StatusFound)
}

// HandleOIDCCallback handles GET /api/v1/auth/oidc/callback: exchanges the
// authorization code, verifies the ID token, upserts the user, and returns
// a local bearer token.
func (a *Auth) HandleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if a.oidc == nil {
		sendAuthError(w, http.StatusNotFound, "OIDC not configured")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		sendAuthError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := a.oidc.oauth.Exchange(r.Context(), code)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("oidc code exchange failed", zap.Error(err))
		sendAuthError(w, http.StatusUnauthorized, "code exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusUnauthorized, "no id_token in response")
		return
	}

	idToken, err := a.oidc.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("oidc token verification failed", zap.Error(err))
		sendAuthError(w, http.StatusUnauthorized, "token verification failed")
		return
	}

	var idClaims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&idClaims); err != nil {
		sendAuthError(w, http.StatusUnauthorized, "unreadable token claims")
		return
	}
	username := idClaims.PreferredUsername
	if username == "" {
		username = idClaims.Email
	}
	if username == "" {
		sendAuthError(w, http.StatusUnauthorized, "token carries no usable identity")
		return
	}

	userID, err := a.upsertOIDCUser(r.Context(), username, idToken.Subject)
	if err != nil {
		logging.WithContext(r.Context()).Error("oidc user upsert failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "user provisioning failed")
		return
	}

	tokenStr, expiresAt, err := a.IssueToken(userID, username)
	if err != nil {
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.WithContext(r.Context()).Info("oidc login successful", zap.String("username", username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.TokenResponse{
		Token:     tokenStr,
		ExpiresAt: expiresAt,
	})
}

func (a *Auth) upsertOIDCUser(ctx context.Context, username, subject string) (int, error) {
	var id int
	err := a.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE oidc_subject = $1`, subject).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	err = a.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password, oidc_subject) VALUES ($1, '', $2)
		 ON CONFLICT (username) DO UPDATE SET oidc_subject = EXCLUDED.oidc_subject
		 RETURNING id`,
		username, subject).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}
