package models

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when the token endpoint omits expires_in.
const DefaultTokenLifetime = 15 * time.Minute

// UserInfo is the platform account the TokenSet belongs to.
//
// JSON keys follow the web application's existing status contract.
type UserInfo struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Name returns the most readable identifier available.
func (u UserInfo) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.UserID
	}
}

// TokenSet is the platform credential obtained from a code exchange or refresh.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	User         UserInfo  `json:"user"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Valid reports whether the access token is usable at now with margin to spare.
func (t TokenSet) Valid(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// OAuth2 converts the set to an [oauth2.Token].
func (t TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// FromOAuth2 builds a TokenSet from a token endpoint response.
//
// A zero expiry becomes now + [DefaultTokenLifetime].
// A missing scope parameter falls back to requested.
func FromOAuth2(tok *oauth2.Token, now time.Time, requested []string) TokenSet {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(DefaultTokenLifetime)
	}

	scopes := requested
	if raw, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		scopes = strings.Fields(raw)
	}

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expires,
		Scopes:       append([]string(nil), scopes...),
		ConnectedAt:  now,
	}
}

// AuthorizationRequest is the pending half of an authorization-code flow.
type AuthorizationRequest struct {
	State        string
	CodeVerifier string
	RedirectURI  string
	Scopes       []string
	CreatedAt    time.Time
}

// Expired reports whether the request is older than ttl at now.
func (r AuthorizationRequest) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}
