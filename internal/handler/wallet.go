package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelpay/tonconnect-server-go/internal/audit"
	apperrors "github.com/channelpay/tonconnect-server-go/internal/errors"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/service"
)

// WalletHandler exposes the wallet session lifecycle to the bot backend.
// Every route is scoped by principal kind and user ID, so the same verbs
// serve channel owners and subscribers.
type WalletHandler struct {
	walletService *service.WalletService
}

func NewWalletHandler(walletService *service.WalletService) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

func (h *WalletHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{kind}/{userID}", func(r chi.Router) {
		r.Post("/connection", h.GenerateConnection)
		r.Get("/status", h.Status)
		r.Post("/disconnect", h.Disconnect)
		r.Post("/transactions", h.SendTransaction)
		r.Get("/deeplink", h.DeepLink)
	})

	return r
}

// principal pulls the {kind}/{userID} pair off the route.
func principal(r *http.Request) (model.PrincipalKind, string, error) {
	kind, err := model.ParsePrincipalKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", "", apperrors.InvalidInput("kind", "must be owner or subscriber")
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		return "", "", apperrors.MissingRequired("userID")
	}
	return kind, userID, nil
}

// POST /v1/wallets/{kind}/{userID}/connection
// Starts a pairing attempt: protocol URI, QR rendering, wallet buttons.
func (h *WalletHandler) GenerateConnection(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	offer, err := h.walletService.GenerateConnection(r.Context(), kind, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventPairingInitiated,
		Kind:   kind.String(),
		UserID: userID,
	})

	writeJSON(w, http.StatusOK, offer)
}

// GET /v1/wallets/{kind}/{userID}/status
func (h *WalletHandler) Status(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := h.walletService.CheckStatus(r.Context(), kind, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// POST /v1/wallets/{kind}/{userID}/disconnect
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.walletService.Disconnect(r.Context(), kind, userID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventWalletDisconnected,
		Kind:   kind.String(),
		UserID: userID,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /v1/wallets/{kind}/{userID}/transactions
// Submits a transfer to the paired wallet and blocks until the user
// confirms, declines, or the confirmation window lapses.
func (h *WalletHandler) SendTransaction(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req model.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventTransactionSubmit,
		Kind:   kind.String(),
		UserID: userID,
		Details: map[string]interface{}{
			"messages": len(req.Messages),
		},
	})

	result, err := h.walletService.Send(r.Context(), kind, userID, req)
	if err != nil {
		h.auditTransactionResult(r, kind, userID, err)
		writeError(w, err)
		return
	}

	h.auditTransactionResult(r, kind, userID, nil)
	writeJSON(w, http.StatusOK, result)
}

func (h *WalletHandler) auditTransactionResult(r *http.Request, kind model.PrincipalKind, userID string, err error) {
	details := map[string]interface{}{"success": err == nil}
	if err != nil {
		details["code"] = string(apperrors.GetCode(err))
	}
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventTransactionResult,
		Kind:    kind.String(),
		UserID:  userID,
		Details: details,
	})
}

// GET /v1/wallets/{kind}/{userID}/deeplink
// Resolves the HTTPS link that reopens the already-paired wallet app, for
// nudging a user whose confirmation is pending.
func (h *WalletHandler) DeepLink(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	link, err := h.walletService.DeepLinkForReconfirmation(r.Context(), kind, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link)
}
