package server

import (
	"github.com/chainhound/chainhound/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.deps.Health
	if health == nil {
		health = handlers.NewHealthManager("dev")
	}

	// Health endpoints
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Pipeline observability
	stats := handlers.NewStatsHandler(s.deps.Throttle, s.deps.Queue)
	s.router.Get("/stats", stats.StatsHandler)
	s.router.Get("/queue", stats.QueueHandler)

	executions := handlers.NewExecutionsHandler(s.deps.Executions)
	s.router.Get("/executions", executions.RecentHandler)

	// Opportunity ingestion
	ingest := handlers.NewIngestHandler(s.deps.Ingest)
	s.router.Post("/opportunities", ingest.SubmitHandler)

	// Metrics endpoint, proxied from the internal Prometheus exporter
	s.router.Get("/metrics", MetricsHandler)
}
