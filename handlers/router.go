// Package handlers expõe o registro de imóveis via HTTP com chi.
package handlers

import (
	"net/http"

	"github.com/ferreirogomes/matricula/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// RouterConfig reúne o que o roteador precisa.
type RouterConfig struct {
	Registry       *services.RegistryService
	Auth           *services.AuthService
	Log            *zap.Logger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	AuthLimiter    *IPLimiter
	// TrustProxy instala middleware.RealIP; sem ele, o limitador usa o endereço do par TCP.
	TrustProxy bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	authHandler := NewAuthHandler(cfg.Auth)
	assetHandler := NewAssetHandler(cfg.Registry)
	proposalHandler := NewProposalHandler(cfg.Registry)
	transferHandler := NewTransferHandler(cfg.Registry)
	auditHandler := NewAuditHandler(cfg.Registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(withLogger(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.AuthLimiter.Middleware)
		r.Post("/auth/siwe/start", authHandler.StartSIWE)
		r.Post("/auth/siwe/verify", authHandler.VerifySIWE)
		r.Post("/admin/assign-role", authHandler.AssignRole)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Auth))

		r.Route("/properties", func(r chi.Router) {
			r.Post("/", assetHandler.CreateAsset)
			r.Get("/{matricula}", assetHandler.GetAsset)
		})

		r.Route("/proposals", func(r chi.Router) {
			r.Post("/", proposalHandler.CreateProposal)
			r.Post("/{id}/decision", proposalHandler.DecideProposal)
		})

		r.Route("/transfers/{proposalID}", func(r chi.Router) {
			r.Post("/", transferHandler.InitiateTransfer)
			r.Post("/sign", transferHandler.SignTransfer)
		})

		r.Post("/validations", auditHandler.Validate)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/properties/{matricula}", auditHandler.AssetHistory)
			r.Get("/transfers", auditHandler.Transfers)
			r.Get("/proposals", auditHandler.Proposals)
			r.Get("/validations", auditHandler.Validations)
		})
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}
