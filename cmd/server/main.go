package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/indocomsoft/acquity/internal/api"
	"github.com/indocomsoft/acquity/internal/auth"
	"github.com/indocomsoft/acquity/internal/config"
	"github.com/indocomsoft/acquity/internal/db"
	"github.com/indocomsoft/acquity/internal/email"
	"github.com/indocomsoft/acquity/internal/logger"
	"github.com/indocomsoft/acquity/internal/match"
	"github.com/indocomsoft/acquity/internal/models"
	"github.com/indocomsoft/acquity/internal/round"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*wsClient]bool)
	clientsMu sync.RWMutex
)

// marketSnapshot is pushed to websocket subscribers: the pending pool and the
// round currently in progress, if any.
type marketSnapshot struct {
	ActiveRound       *models.Round  `json:"active_round"`
	PendingBuyOrders  []models.Order `json:"pending_buy_orders"`
	PendingSellOrders []models.Order `json:"pending_sell_orders"`
}

func broadcastMarket(ctx context.Context, database *db.DB, logg *slog.Logger) {
	active, err := database.GetActiveRound(ctx)
	if err != nil {
		logg.Error("failed to load active round", "error", err)
		return
	}
	buys, err := database.GetPendingOrders(ctx, models.SideBuy)
	if err != nil {
		logg.Error("failed to load pending buy orders", "error", err)
		return
	}
	sells, err := database.GetPendingOrders(ctx, models.SideSell)
	if err != nil {
		logg.Error("failed to load pending sell orders", "error", err)
		return
	}

	data, err := json.Marshal(marketSnapshot{
		ActiveRound:       active,
		PendingBuyOrders:  buys,
		PendingSellOrders: sells,
	})
	if err != nil {
		logg.Error("failed to marshal market snapshot", "error", err)
		return
	}

	clientsMu.RLock()
	stale := make([]*wsClient, 0)
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(database *db.DB, logg *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Error("failed to upgrade connection", "error", err)
			return
		}

		client := &wsClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial snapshot
		broadcastMarket(r.Context(), database, logg)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up config, database, round controller and HTTP server.
func main() {
	ctx := context.Background()

	cfg := config.Load()
	logg, flush := logger.New(cfg.Env == "PRODUCTION")
	defer flush()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	authService := auth.NewService(database, cfg.JWTSecret, cfg.JWTExpiry)
	emailService := email.NewService(cfg, database, logg)
	engine := match.NewEngine(match.NewHungarianSolver(), logg)
	controller := round.NewController(
		cfg, database, database, database, database,
		round.NewTimerScheduler(), emailService, engine, logg,
	)

	// Pick up any round whose close timer was lost to a restart.
	if err := controller.Rearm(ctx); err != nil {
		log.Fatalf("Failed to rearm round closes: %v", err)
	}

	handler := api.NewHandler(database, authService, controller, emailService, cfg, logg)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", handleWebSocket(database, logg))
	handler.Routes(r)

	// Periodic market snapshot broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastMarket(ctx, database, logg)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logg.Info("starting server", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
