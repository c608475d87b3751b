package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/username/acbfolio/backend/src/config"
	"github.com/username/acbfolio/backend/src/database"
	"github.com/username/acbfolio/backend/src/fx"
	"github.com/username/acbfolio/backend/src/handlers"
	"github.com/username/acbfolio/backend/src/ledger"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/store"
	"golang.org/x/time/rate"
)

var limiter *rate.Limiter

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(config.Cfg.CORSAllowedOrigins))
	for _, origin := range config.Cfg.CORSAllowedOrigins {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("acbfolio backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath, config.Cfg.MigrationsPath)

	st := store.NewSQLiteStore(database.DB)

	valetProvider := fx.NewValetProvider(config.Cfg.FxProviderBaseURL, config.Cfg.FxRequestTimeout)
	oracle := fx.NewOracle(st, valetProvider)

	orchestrator := ledger.NewOrchestrator(st, oracle)

	securityHandler := handlers.NewSecurityHandler(st)
	accountHandler := handlers.NewAccountHandler(st)
	txHandler := handlers.NewTransactionHandler(st, orchestrator)
	positionHandler := handlers.NewPositionHandler(st)
	fxRateHandler := handlers.NewFxRateHandler(oracle)
	exportHandler := handlers.NewExportHandler(st)

	limiter = rate.NewLimiter(rate.Limit(config.Cfg.RateLimitRPS), config.Cfg.RateLimitBurst)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "acbfolio Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/securities", securityHandler.HandleList)
		r.Post("/securities", securityHandler.HandleCreate)
		r.Get("/securities/{id}", securityHandler.HandleGet)

		r.Get("/accounts", accountHandler.HandleList)
		r.Post("/accounts", accountHandler.HandleCreate)
		r.Get("/accounts/{id}", accountHandler.HandleGet)

		r.Get("/transactions", txHandler.HandleList)
		r.Post("/transactions", txHandler.HandleCreate)
		r.Get("/transactions/{id}", txHandler.HandleGet)
		r.Put("/transactions/{id}", txHandler.HandleUpdate)
		r.Delete("/transactions/{id}", txHandler.HandleDelete)

		r.Get("/positions", positionHandler.HandleList)

		r.Get("/fx-rates/rate", fxRateHandler.HandleGetRate)

		r.Get("/export/csv", exportHandler.HandleExportCSV)
		r.Get("/export/json", exportHandler.HandleExportJSON)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "route not found"})
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  config.Cfg.RequestReadTimeout,
		WriteTimeout: config.Cfg.RequestWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
