package remote

import (
	"context"
	"net/http"
	"strings"

	"thebox/internal/core"
	"thebox/internal/log"
)

// Login implements session.Authenticator.
func (c *Client) Login(ctx context.Context, email, password string) (core.Session, error) {
	resp, err := c.send(ctx, log.OpLogin, http.MethodPost, "/auth/login", nil,
		map[string]string{"email": email, "password": password}, "")
	if err != nil {
		return core.Session{}, err
	}
	switch {
	case isSuccess(resp.status):
		return decodeSession(log.OpLogin, resp)
	case resp.status == http.StatusUnauthorized:
		return core.Session{}, core.NewAuthError(core.AuthInvalidCredentials, errorMessage(resp.body))
	default:
		return core.Session{}, statusError(log.OpLogin, resp)
	}
}

// Register implements session.Authenticator.
func (c *Client) Register(ctx context.Context, email, password, name string) (core.Session, error) {
	resp, err := c.send(ctx, log.OpRegister, http.MethodPost, "/auth/register", nil,
		map[string]string{"email": email, "password": password, "name": name}, "")
	if err != nil {
		return core.Session{}, err
	}
	switch {
	case isSuccess(resp.status):
		return decodeSession(log.OpRegister, resp)
	case resp.status == http.StatusConflict:
		return core.Session{}, core.NewAuthError(core.AuthEmailTaken, errorMessage(resp.body))
	case resp.status == http.StatusBadRequest && mentionsTakenEmail(errorMessage(resp.body)):
		// older backends answer 400 for duplicates
		return core.Session{}, core.NewAuthError(core.AuthEmailTaken, errorMessage(resp.body))
	default:
		return core.Session{}, statusError(log.OpRegister, resp)
	}
}

// Refresh implements session.Authenticator.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	resp, err := c.send(ctx, log.OpRefresh, http.MethodPost, "/auth/refresh", nil,
		map[string]string{"refreshToken": refreshToken}, "")
	if err != nil {
		return "", err
	}
	switch {
	case isSuccess(resp.status):
		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := decode(log.OpRefresh, resp, &out); err != nil {
			return "", err
		}
		if out.AccessToken == "" {
			return "", core.NewAuthError(core.AuthRefreshInvalid, "empty access token")
		}
		return out.AccessToken, nil
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusBadRequest:
		return "", core.NewAuthError(core.AuthRefreshInvalid, errorMessage(resp.body))
	default:
		return "", statusError(log.OpRefresh, resp)
	}
}

// Profile fetches the current user, used to pick up plan changes after checkout.
func (c *Client) Profile(ctx context.Context) (core.User, error) {
	const op = "profile"
	resp, err := c.doAuthed(ctx, op, http.MethodGet, "/profile", nil, nil)
	if err != nil {
		return core.User{}, err
	}
	if !isSuccess(resp.status) {
		return core.User{}, statusError(op, resp)
	}
	var out struct {
		User userDTO `json:"user"`
	}
	if err := decode(op, resp, &out); err != nil {
		return core.User{}, err
	}
	return out.User.toCore(), nil
}

func decodeSession(op string, resp response) (core.Session, error) {
	var out authResponse
	if err := decode(op, resp, &out); err != nil {
		return core.Session{}, err
	}
	if out.Tokens.AccessToken == "" || out.Tokens.RefreshToken == "" {
		return core.Session{}, &core.NetworkError{Op: op, Status: resp.status, Err: errMissingTokens}
	}
	return core.Session{Tokens: out.Tokens, User: out.User.toCore()}, nil
}

func mentionsTakenEmail(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "já registrado") || strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists")
}
