package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/mirror"
)

type contextKey string

const userKey contextKey = "user"

// requireAuth resolves the bearer token to a user or answers 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Token não fornecido")
			return
		}
		user, err := s.accounts.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Token inválido ou expirado")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) core.User {
	u, _ := ctx.Value(userKey).(core.User)
	return u
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authView struct {
	Message string      `json:"message,omitempty"`
	User    userView    `json:"user"`
	Tokens  core.Tokens `json:"tokens"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Email e senha são obrigatórios")
		return
	}
	sess, err := s.accounts.Register(r.Context(), in.Email, in.Password, in.Name)
	var ve *core.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	case core.IsAuthKind(err, core.AuthEmailTaken):
		writeError(w, http.StatusBadRequest, "Email já registrado")
		return
	default:
		s.internalError(w, r, "register", err)
		return
	}

	if s.publisher != nil {
		s.publisher.Publish(mirror.NewEvent(
			mirror.WithType(mirror.TypeUserRegistered),
			mirror.WithEmail(sess.User.Email),
			mirror.WithMetadata("user_id", sess.User.ID),
		))
	}
	writeJSON(w, http.StatusCreated, authView{
		Message: "Usuário criado com sucesso",
		User:    viewUser(sess.User),
		Tokens:  sess.Tokens,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Email e senha são obrigatórios")
		return
	}
	sess, err := s.accounts.Login(r.Context(), in.Email, in.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, authView{User: viewUser(sess.User), Tokens: sess.Tokens})
	case core.IsAuthKind(err, core.AuthInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Email ou senha incorretos")
	default:
		s.internalError(w, r, "login", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &in); err != nil || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token obrigatório")
		return
	}
	access, err := s.accounts.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token inválido")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]userView{"user": viewUser(userFrom(r.Context()))})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
		log.FieldOperation, op, log.FieldError, err)
	writeError(w, http.StatusInternalServerError, "Erro interno do servidor")
}
