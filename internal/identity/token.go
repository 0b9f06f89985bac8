package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// expiryDelta refreshes ID tokens slightly before they expire
const expiryDelta = 30 * time.Second

func (p *RESTProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.cfg.SecureTokenURL + "?key=" + url.QueryEscape(p.cfg.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// refresh exchanges cred's refresh token for a new ID token
func (p *RESTProvider) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			message := retrieveErr.ErrorCode
			var eb errorBody
			if json.Unmarshal(retrieveErr.Body, &eb) == nil && eb.Error.Message != "" {
				message = eb.Error.Message
			}
			return nil, classifyAuth(&apiError{Status: retrieveErr.Response.StatusCode, Message: message})
		}
		return nil, &errs.NetworkError{Op: "refresh", Err: err}
	}

	updated := *cred
	updated.IDToken = tok.AccessToken
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		updated.IDToken = idToken
	}
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.ExpiresAt = tok.Expiry

	if err := p.verify(ctx, &updated); err != nil {
		return nil, err
	}
	if err := p.store.Save(ctx, &updated); err != nil {
		p.logger.Warn("credential_save_failed", zap.Error(err))
	}
	return &updated, nil
}

// TokenSource returns a bearer token source for the signed-in user.
// Tokens are refreshed through the secure-token endpoint; a refresh the
// provider rejects signs the user out.
func (p *RESTProvider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &credentialTokenSource{ctx: ctx, p: p}
}

type credentialTokenSource struct {
	ctx context.Context
	p   *RESTProvider
}

func (s *credentialTokenSource) Token() (*oauth2.Token, error) {
	s.p.refreshMu.Lock()
	defer s.p.refreshMu.Unlock()

	cred := s.p.Current()
	if cred == nil {
		return nil, errs.ErrNotAuthenticated
	}
	if !cred.Expired(s.p.now().Add(expiryDelta)) {
		return bearer(cred), nil
	}

	refreshed, err := s.p.refresh(s.ctx, cred)
	if err != nil {
		var netErr *errs.NetworkError
		if !errors.As(err, &netErr) {
			s.p.logger.Info("credential_refresh_rejected",
				zap.String("user_id", logger.SanitizeUserID(cred.User.ID)),
				zap.String("reason", logger.SanitizeError(err)),
			)
			_ = s.p.store.Clear(s.ctx)
			s.p.setCredential(nil)
		}
		return nil, err
	}

	s.p.mu.Lock()
	if s.p.current != nil && s.p.current.User.ID == refreshed.User.ID {
		s.p.current = refreshed
	}
	s.p.mu.Unlock()

	return bearer(refreshed), nil
}

func bearer(cred *models.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: cred.IDToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}
}
