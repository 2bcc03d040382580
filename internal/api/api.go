package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lirashield/pkg/lirashield"
)

// Options configures NewRouter.
type Options struct {
	Logger *slog.Logger
	// AutoFetch is the default for analysis and real-return requests that do not set auto_fetch.
	AutoFetch bool
	// RateLimit is the sustained request rate per second; zero disables limiting.
	RateLimit float64
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
}

// NewRouter builds the HTTP API router.
func NewRouter(core *lirashield.Core, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = core.Logger()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	if opts.RateLimit > 0 {
		r.Use(rateLimitMiddleware(opts.RateLimit))
	}

	h := &handler{core: core, logger: logger, autoFetch: opts.AutoFetch}

	r.Get("/api/health", h.health)

	// Transactions
	r.Get("/api/transactions", h.getTransactions)
	r.Post("/api/transactions", h.addTransaction)
	r.Get("/api/transactions/{id}", h.getTransaction)
	r.Delete("/api/transactions/{id}", h.deleteTransaction)
	r.Get("/api/tickers", h.getTickers)

	// USD/TRY rates
	r.Get("/api/usd-rates", h.getUSDRates)
	r.Post("/api/usd-rates", h.upsertUSDRate)
	r.Get("/api/usd-rates/lookup", h.getUSDRate)
	r.Delete("/api/usd-rates/{id}", h.deleteUSDRate)
	r.Post("/api/usd-rates/fetch", h.fetchUSDRates)
	r.Post("/api/usd-rates/quick-refresh", h.quickRefreshUSDRates)
	r.Post("/api/usd-rates/import", h.importUSDRates)

	// CPI
	r.Get("/api/cpi", h.getCPI)
	r.Post("/api/cpi", h.upsertCPI)
	r.Delete("/api/cpi/{id}", h.deleteCPI)
	r.Post("/api/cpi/import", h.importCPI)
	r.Get("/api/cpi/cumulative", h.cumulativeCPI)

	// Fund and stock prices
	r.Get("/api/fund-prices", h.getFundPrices)
	r.Post("/api/fund-prices", h.upsertFundPrice)
	r.Get("/api/fund-prices/latest", h.getLatestFundPrices)
	r.Post("/api/fund-prices/refresh", h.refreshFundPrices)

	// Price charts
	r.Get("/api/charts/normalized", h.getNormalizedChart)
	r.Get("/api/charts/{ticker}", h.getPriceChart)

	// FIFO and analysis
	r.Get("/api/fifo", h.getFIFOAll)
	r.Get("/api/fifo/{ticker}", h.getFIFO)
	r.Get("/api/positions", h.getOpenPositions)
	r.Get("/api/realized-gains", h.getRealizedGains)
	r.Post("/api/real-return", h.realReturn)
	r.Post("/api/analyze", h.analyze)
	r.Post("/api/commentary", h.commentary)

	return r
}

type handler struct {
	core      *lirashield.Core
	logger    *slog.Logger
	autoFetch bool
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(message)
	}
	writeJSON(w, status, ErrorResponse{Code: status, Message: message})
}
