package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/Krimson/holter-monitory/device/internal/ledger"
	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
)

// Pipeline отдает снимок состояния конвейера
type Pipeline interface {
	Snapshot() orchestrator.Snapshot
}

// HTTPHandler обслуживает статусное API устройства
type HTTPHandler struct {
	pipeline Pipeline
	ledger   ledger.Store
	ws       http.HandlerFunc
	stats    map[string]func() interface{}
}

func NewHTTPHandler(pipeline Pipeline, store ledger.Store, ws http.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{
		pipeline: pipeline,
		ledger:   store,
		ws:       ws,
		stats:    make(map[string]func() interface{}),
	}
}

// AddStats добавляет счётчики компонента в ответ /api/pipeline
func (h *HTTPHandler) AddStats(name string, fn func() interface{}) {
	h.stats[name] = fn
}

// RegisterRoutes регистрирует маршруты в роутере
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/pipeline", h.GetPipeline).Methods("GET")

	api := router.PathPrefix("/api/sessions").Subrouter()
	api.HandleFunc("", h.ListSessions).Methods("GET")
	api.HandleFunc("/pending", h.ListPending).Methods("GET")
	api.HandleFunc("/pending/{id}", h.ResolvePending).Methods("DELETE")
	api.HandleFunc("/{id}", h.GetSession).Methods("GET")

	if h.ws != nil {
		router.HandleFunc("/ws", h.ws)
	}

	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))
}

// GetPipeline возвращает состояние конвейера
// @Summary Состояние конвейера
// @Tags Pipeline
// @Produce json
// @Success 200 {object} PipelineResponse
// @Router /api/pipeline [get]
func (h *HTTPHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	resp := PipelineResponse{Snapshot: h.pipeline.Snapshot()}
	if len(h.stats) > 0 {
		resp.Stats = make(map[string]interface{}, len(h.stats))
		for name, fn := range h.stats {
			resp.Stats[name] = fn()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListSessions возвращает последние сессии
// @Summary Последние сессии
// @Tags Sessions
// @Produce json
// @Param limit query int false "Количество" default(50)
// @Success 200 {object} SessionsResponse
// @Router /api/sessions [get]
func (h *HTTPHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := getQueryInt(r, "limit", 50)

	reports, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("[ERROR] Failed to list sessions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, SessionsResponse{Sessions: reports, Count: len(reports)})
}

// ListPending возвращает сессии, файлы которых ждут загрузки
// @Summary Сессии, ожидающие загрузки
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionsResponse
// @Router /api/sessions/pending [get]
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	reports, err := h.ledger.Pending(r.Context())
	if err != nil {
		log.Printf("[ERROR] Failed to list pending sessions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list pending sessions")
		return
	}

	respondJSON(w, http.StatusOK, SessionsResponse{Sessions: reports, Count: len(reports)})
}

// ResolvePending снимает сессию из ожидающих (файл выгружен вручную)
// @Summary Снять сессию из ожидающих
// @Tags Sessions
// @Param id path string true "ID сессии"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/pending/{id} [delete]
func (h *HTTPHandler) ResolvePending(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.ledger.Resolve(r.Context(), sessionID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Session not pending")
			return
		}
		log.Printf("[ERROR] Failed to resolve session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to resolve session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession возвращает итог сессии
// @Summary Итог сессии
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} orchestrator.Report
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/{id} [get]
func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	report, err := h.ledger.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("[ERROR] Failed to get session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// PipelineResponse - ответ /api/pipeline
type PipelineResponse struct {
	orchestrator.Snapshot
	Stats map[string]interface{} `json:"stats,omitempty"`
}

type SessionsResponse struct {
	Sessions []*orchestrator.Report `json:"sessions"`
	Count    int                    `json:"count"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Status: status})
}

func getQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
