package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/exchange"
	"github.com/xtrntr/escrow/internal/models"
	"go.uber.org/zap"
)

// DevLedger is the paper ledger surface exposed for development
type DevLedger interface {
	Mint(asset, to common.Address, amount decimal.Decimal) error
	Approve(asset, owner, spender common.Address, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, asset, account common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, asset, owner, spender common.Address) (decimal.Decimal, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	Ledger      DevLedger
	log         *zap.Logger
}

// NewHandler creates a new handler. ledger may be nil, which disables the /ledger and mint routes.
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, ledger DevLedger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Exchange: ex, AuthService: authService, Ledger: ledger, log: logger}
}

type ctxKey struct{}

// callerFrom returns the account address the authenticated request acts as
func callerFrom(r *http.Request) (common.Address, bool) {
	identity, ok := r.Context().Value(ctxKey{}).(*auth.Identity)
	if !ok {
		return common.Address{}, false
	}
	return identity.Address, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("failed to write response", zap.Int("status", status), zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrReentrancy),
		errors.Is(err, exchange.ErrAlreadyFilled),
		errors.Is(err, exchange.ErrCancelled),
		errors.Is(err, exchange.ErrAlreadyCancelled),
		errors.Is(err, exchange.ErrSelfFill),
		errors.Is(err, exchange.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, exchange.ErrDuplicateAsset),
		errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidAddress),
		errors.Is(err, exchange.ErrQueryTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientAllowance),
		errors.Is(err, exchange.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, status, "Internal server error")
		return
	}
	h.writeError(w, status, err.Error())
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}
	if !common.IsHexAddress(req.Address) {
		h.writeError(w, http.StatusBadRequest, "Valid address required")
		return
	}

	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, common.HexToAddress(req.Address), signature)
	if err != nil {
		h.log.Debug("registration failed", zap.String("username", req.Username), zap.Error(err))
		switch {
		case errors.Is(err, auth.ErrInvalidSignature):
			h.writeError(w, http.StatusBadRequest, "Invalid signature")
		case errors.Is(err, auth.ErrUserExists):
			h.writeError(w, http.StatusConflict, "Username already taken")
		case errors.Is(err, auth.ErrAddressTaken), errors.Is(err, auth.ErrReservedAddress):
			h.writeError(w, http.StatusConflict, "Address unavailable")
		default:
			h.writeError(w, http.StatusBadRequest, "Failed to register user")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"address":  user.Address,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			h.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		identity, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type orderResponse struct {
	models.Order
	Status string `json:"status"`
}

func toResponse(o models.Order) orderResponse {
	return orderResponse{Order: o, Status: o.Status()}
}

// CreateOrder escrows the caller's offered amount and opens an order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		OfferedAsset    common.Address  `json:"offered_asset"`
		OfferedAmount   decimal.Decimal `json:"offered_amount"`
		RequestedAsset  common.Address  `json:"requested_asset"`
		RequestedAmount decimal.Decimal `json:"requested_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.Exchange.CreateOrder(r.Context(), caller, req.OfferedAsset, req.OfferedAmount, req.RequestedAsset, req.RequestedAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Order placed",
		"order_id": id,
	})
}

// FillOrder takes the other side of an open order
func (h *Handler) FillOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	if err := h.Exchange.FillOrder(r.Context(), caller, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Order filled"})
}

// CancelOrder cancels an open order and refunds the maker
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	if err := h.Exchange.CancelOrder(r.Context(), caller, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Order canceled"})
}

// GetOrder returns a single order
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.Exchange.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(order))
}

// GetActiveOrders pages through active orders by id range
func (h *Handler) GetActiveOrders(w http.ResponseWriter, r *http.Request) {
	start, err := uintParam(r, "start", 1)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid start")
		return
	}
	count, err := uintParam(r, "count", exchange.DefaultMaxQueryCount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid count")
		return
	}

	orders, err := h.Exchange.GetActiveOrders(r.Context(), start, count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetUserOrders lists every order id an account created
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	ids, err := h.Exchange.GetUserOrders(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":   account,
		"order_ids": ids,
	})
}

// GetActiveOrderCount reports how many of an account's orders are still open
func (h *Handler) GetActiveOrderCount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	count, err := h.Exchange.GetActiveOrderCount(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":       account,
		"active_orders": count,
	})
}

// Status reports exchange-wide state
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next, err := h.Exchange.NextOrderID(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"next_order_id": next,
		"owner":         h.Exchange.Owner(ctx),
		"pending_owner": h.Exchange.PendingOwner(ctx),
		"paused":        h.Exchange.Paused(ctx),
		"custody":       h.Exchange.CustodyAccount(),
	})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		h.writeError(w, http.StatusBadRequest, "Invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func uintParam(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
