package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/exchange"
)

// Pause blocks order creation and fills
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.Exchange.Pause(r.Context(), caller); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Unpause resumes order creation and fills
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.Exchange.Unpause(r.Context(), caller); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// TransferOwnership nominates a new owner
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		NewOwner common.Address `json:"new_owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Exchange.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"pending_owner": req.NewOwner})
}

// AcceptOwnership lets the nominated owner take over
func (h *Handler) AcceptOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.Exchange.AcceptOwnership(r.Context(), caller); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"owner": caller})
}

type movementRequest struct {
	Asset  common.Address  `json:"asset"`
	To     common.Address  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// EmergencyWithdraw moves funds out of custody
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Exchange.EmergencyWithdraw(r.Context(), caller, req.Asset, req.To, req.Amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Withdrawn"})
}

// Mint credits paper funds; owner only
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if caller != h.Exchange.Owner(r.Context()) {
		h.fail(w, r, exchange.ErrUnauthorized)
		return
	}
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Ledger.Mint(req.Asset, req.To, req.Amount); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Minted"})
}

// Approve sets the caller's allowance for the exchange's custody account
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Asset  common.Address  `json:"asset"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Ledger.Approve(req.Asset, caller, h.Exchange.CustodyAccount(), req.Amount); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":     req.Asset,
		"allowance": req.Amount,
	})
}

// Balance reports the caller's balance and allowance of an asset
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	raw := r.URL.Query().Get("asset")
	if !common.IsHexAddress(raw) {
		h.writeError(w, http.StatusBadRequest, "Invalid asset")
		return
	}
	asset := common.HexToAddress(raw)

	balance, err := h.Ledger.BalanceOf(r.Context(), asset, caller)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	allowance, err := h.Ledger.Allowance(r.Context(), asset, caller, h.Exchange.CustodyAccount())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":     asset,
		"account":   caller,
		"balance":   balance,
		"allowance": allowance,
	})
}
