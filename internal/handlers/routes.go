package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	searchTasks := SearchTaskHandler{Tasks: deps.Tasks, Queue: deps.Queue, QueueName: deps.SearchQueue, Limiter: deps.Limiter}
	analyze := AnalyzeHandler{Processor: deps.Processor, Videos: deps.Videos, Limiter: deps.Limiter, AllowedHosts: deps.SourceHosts}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/search-tasks", searchTasks.Create)
	mux.HandleFunc("/api/v1/search-tasks/{id}", searchTasks.Get)
	mux.HandleFunc("/api/v1/analyze", analyze.Analyze)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Tasks        TaskStore
	Queue        JobQueue
	SearchQueue  string
	Videos       VideoFinder
	Processor    VideoProcessor
	Limiter      RateLimiter
	Metrics      MetricsExporter
	SourceHosts  []string
	HealthChecks map[string]HealthCheck
}
