package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *mux.Router, handler *Handler) {
	router.HandleFunc("/api/v1/health", handler.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/jobs", handler.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/jobs", handler.ScheduleJob).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/jobs/{engine}/{workflowId}", handler.RemoveJob).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/jobs/{engine}/{workflowId}/trigger", handler.TriggerJob).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/scheduler/start", handler.StartScheduler).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/scheduler/stop", handler.StopScheduler).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.HandlerFor(handler.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
