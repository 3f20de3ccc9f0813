package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/indocomsoft/acquity/internal/auth"
	"github.com/indocomsoft/acquity/internal/config"
	"github.com/indocomsoft/acquity/internal/db"
	"github.com/indocomsoft/acquity/internal/email"
	"github.com/indocomsoft/acquity/internal/models"
	"github.com/indocomsoft/acquity/internal/round"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	DB     *db.DB
	Auth   *auth.Service
	Rounds *round.Controller
	Email  *email.Service
	Cfg    *config.Config
	Log    *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(database *db.DB, authService *auth.Service, rounds *round.Controller, emailService *email.Service, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{DB: database, Auth: authService, Rounds: rounds, Email: emailService, Cfg: cfg, Log: log}
}

// Routes mounts all endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/sell-orders", h.PlaceSellOrder)
		r.Get("/sell-orders", h.GetUserSellOrders)
		r.Get("/sell-orders/{id}", h.GetOrder)
		r.Put("/sell-orders/{id}", h.EditSellOrder)
		r.Delete("/sell-orders/{id}", h.DeleteOrder)
		r.Post("/buy-orders", h.PlaceBuyOrder)
		r.Get("/buy-orders", h.GetUserBuyOrders)
		r.Get("/buy-orders/{id}", h.GetOrder)
		r.Put("/buy-orders/{id}", h.EditBuyOrder)
		r.Delete("/buy-orders/{id}", h.DeleteOrder)
		r.Get("/securities", h.GetSecurities)
		r.Get("/rounds", h.GetRounds)
		r.Get("/rounds/active", h.GetActiveRound)
		r.Get("/matches", h.GetUserMatches)
		r.Post("/bans", h.BanUser)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.FullName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email, full name and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := contextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceSellOrder creates a sell order and admits it to the round lifecycle.
func (h *Handler) PlaceSellOrder(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, models.SideSell, h.Cfg.SellOrderPerRoundLimit)
}

// PlaceBuyOrder creates a buy order and admits it to the round lifecycle.
func (h *Handler) PlaceBuyOrder(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, models.SideBuy, h.Cfg.BuyOrderPerRoundLimit)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, side string, limit int) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		SecurityID     uuid.UUID `json:"security_id"`
		NumberOfShares float64   `json:"number_of_shares"`
		Price          float64   `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NumberOfShares <= 0 || req.Price < 0 {
		writeError(w, http.StatusBadRequest, "Shares must be positive and price non-negative")
		return
	}

	count, err := h.DB.CountCurrentOrders(r.Context(), userID, side)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check order limit")
		return
	}
	if count >= limit {
		writeError(w, http.StatusForbidden, "Order limit for this round reached")
		return
	}

	order, err := h.DB.CreateOrder(r.Context(), &models.Order{
		UserID:         userID,
		SecurityID:     req.SecurityID,
		Side:           side,
		NumberOfShares: req.NumberOfShares,
		Price:          req.Price,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	if side == models.SideSell {
		err = h.Rounds.AdmitSellOrder(r.Context(), order)
	} else {
		err = h.Rounds.AdmitBuyOrder(r.Context(), order)
	}
	if err != nil {
		h.Log.Error("failed to admit order", "order_id", order.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to admit order")
		return
	}

	h.Email.OrderPlaced(r.Context(), userID, side)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// GetUserSellOrders lists the caller's sell orders.
func (h *Handler) GetUserSellOrders(w http.ResponseWriter, r *http.Request) {
	h.getUserOrders(w, r, models.SideSell)
}

// GetUserBuyOrders lists the caller's buy orders.
func (h *Handler) GetUserBuyOrders(w http.ResponseWriter, r *http.Request) {
	h.getUserOrders(w, r, models.SideBuy)
}

func (h *Handler) getUserOrders(w http.ResponseWriter, r *http.Request, side string) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.DB.GetUserOrders(r.Context(), userID, side)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	json.NewEncoder(w).Encode(orders)
}

// EditSellOrder edits an unmatched sell order's price or share count.
func (h *Handler) EditSellOrder(w http.ResponseWriter, r *http.Request) {
	h.editOrder(w, r, models.SideSell)
}

// EditBuyOrder edits an unmatched buy order's price or share count.
func (h *Handler) EditBuyOrder(w http.ResponseWriter, r *http.Request) {
	h.editOrder(w, r, models.SideBuy)
}

func (h *Handler) editOrder(w http.ResponseWriter, r *http.Request, side string) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		NewNumberOfShares *float64 `json:"new_number_of_shares"`
		NewPrice          *float64 `json:"new_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NewNumberOfShares != nil && *req.NewNumberOfShares <= 0 {
		writeError(w, http.StatusBadRequest, "Shares must be positive")
		return
	}
	if req.NewPrice != nil && *req.NewPrice < 0 {
		writeError(w, http.StatusBadRequest, "Price must be non-negative")
		return
	}

	order, err := h.DB.UpdateOrder(r.Context(), orderID, userID, req.NewNumberOfShares, req.NewPrice)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update order")
		return
	}

	h.Email.OrderEdited(r.Context(), userID, side)
	json.NewEncoder(w).Encode(order)
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.DB.GetOrder(r.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to retrieve order")
		return
	}
	json.NewEncoder(w).Encode(order)
}

// DeleteOrder removes an unmatched order owned by the caller.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if err := h.DB.DeleteOrder(r.Context(), orderID, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete order")
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Order deleted"})
}

// GetSecurities lists the tradable securities.
func (h *Handler) GetSecurities(w http.ResponseWriter, r *http.Request) {
	secs, err := h.DB.GetSecurities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve securities")
		return
	}
	json.NewEncoder(w).Encode(secs)
}

// GetRounds lists all rounds.
func (h *Handler) GetRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.DB.GetRounds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve rounds")
		return
	}
	json.NewEncoder(w).Encode(rounds)
}

// GetActiveRound returns the currently active round, or null.
func (h *Handler) GetActiveRound(w http.ResponseWriter, r *http.Request) {
	active, err := h.DB.GetActiveRound(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve active round")
		return
	}
	json.NewEncoder(w).Encode(active)
}

// GetUserMatches lists the matches involving the caller's orders.
func (h *Handler) GetUserMatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	matches, err := h.DB.GetUserMatches(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve matches")
		return
	}
	json.NewEncoder(w).Encode(matches)
}

// BanUser bans the caller and another user from matching in either role.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	if err := h.DB.BanPair(r.Context(), userID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to ban user")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "User banned"})
}
