package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/local"
	"thebox/internal/log"
)

const (
	ownerPrefix    = "owner:"
	checkoutPrefix = "checkout:"
)

// identity pins a local.Ledger to the user of one request.
type identity core.User

func (i identity) Current() (core.Session, bool) {
	return core.Session{User: core.User(i)}, i.ID != ""
}

func (s *Server) ledgerFor(u core.User) *local.Ledger {
	return local.NewLedger(s.store, identity(u), s.limit, nil, s.logger)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := userFrom(r.Context())
	txs, err := s.ledgerFor(u).ListTransactions(r.Context(), f)
	if err != nil {
		s.internalError(w, r, log.OpList, err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, viewTransaction(u.ID, tx))
	}
	writeJSON(w, http.StatusOK, map[string][]transactionView{"transactions": out})
}

func parseFilters(q url.Values) (core.Filters, error) {
	var f core.Filters
	if v := q.Get("startDate"); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, fmt.Errorf("startDate inválida")
		}
		f.From = d
	}
	if v := q.Get("endDate"); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, fmt.Errorf("endDate inválida")
		}
		f.To = d
	}
	f.Category = strings.TrimSpace(q.Get("category"))
	return f, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := userFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.ledgerFor(u).CreateTransaction(r.Context(), in.draft(), in.DeviceID)
	var ve *core.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	case errors.Is(err, core.ErrQuotaExceeded):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:   fmt.Sprintf("Limite de %d transações atingido", s.limit),
			Message: "Upgrade para PRO para transações ilimitadas",
		})
		return
	default:
		s.internalError(w, r, log.OpCreate, err)
		return
	}

	if err := s.store.Put(r.Context(), ownerPrefix+tx.ID, []byte(u.ID)); err != nil {
		s.internalError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]transactionView{"transaction": viewTransaction(u.ID, tx)})
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := userFrom(r.Context())
	id := txID(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkOwner(w, r, id, u) {
		return
	}
	tx, err := s.ledgerFor(u).UpdateTransaction(r.Context(), id, in.draft())
	var ve *core.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]transactionView{"transaction": viewTransaction(u.ID, tx)})
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Transação não encontrada")
	default:
		s.internalError(w, r, "update", err)
	}
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	id := txID(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkOwner(w, r, id, u) {
		return
	}
	if err := s.ledgerFor(u).DeleteTransaction(r.Context(), id); err != nil {
		s.internalError(w, r, log.OpDelete, err)
		return
	}
	if err := s.store.Delete(r.Context(), ownerPrefix+id); err != nil {
		s.internalError(w, r, log.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transação deletada"})
}

// checkOwner answers 404 for unknown ids and 403 for ids of other users.
func (s *Server) checkOwner(w http.ResponseWriter, r *http.Request, id string, u core.User) bool {
	owner, err := s.store.Get(r.Context(), ownerPrefix+id)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		writeError(w, http.StatusNotFound, "Transação não encontrada")
		return false
	case err != nil:
		s.internalError(w, r, "owner", err)
		return false
	case string(owner) != u.ID:
		writeError(w, http.StatusForbidden, "Acesso negado")
		return false
	}
	return true
}

func txID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledgerFor(userFrom(r.Context())).GetStats(r.Context())
	if err != nil {
		s.internalError(w, r, log.OpStats, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStats(stats))
}

type checkoutRecord struct {
	Email string    `json:"email"`
	Plan  core.Plan `json:"plan"`
}

var checkoutPlans = map[string]core.Plan{
	"monthly": core.PlanProMonthly,
	"annual":  core.PlanProYearly,
}

// handleCheckout opens a simulated payment session; the webhook completes it.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Plan string `json:"plan"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, ok := checkoutPlans[in.Plan]
	if !ok {
		writeError(w, http.StatusBadRequest, "Plano inválido")
		return
	}
	id := "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	rec := checkoutRecord{Email: userFrom(r.Context()).Email, Plan: plan}
	if err := kv.PutJSON(r.Context(), s.store, checkoutPrefix+id, rec); err != nil {
		s.internalError(w, r, "checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

func (s *Server) handleCheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeBody(r, &in); err != nil || in.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId obrigatório")
		return
	}
	if err := s.completeCheckout(r.Context(), in.SessionID); err != nil {
		if errors.Is(err, kv.ErrNotFound) || errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Sessão não encontrada")
			return
		}
		s.internalError(w, r, "webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) completeCheckout(ctx context.Context, sessionID string) error {
	var rec checkoutRecord
	if err := kv.GetJSON(ctx, s.store, checkoutPrefix+sessionID, &rec); err != nil {
		return err
	}
	if err := s.accounts.SetPlan(ctx, rec.Email, rec.Plan); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Checkout completed", log.FieldIdentity, rec.Email, log.FieldTier, string(rec.Plan))
	return s.store.Delete(ctx, checkoutPrefix+sessionID)
}
