package handler

import (
	"net/http"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/service"
	"HouseholdTelemetryAPI/internal/websocket"

	"github.com/gorilla/mux"
)

type PoolStatusProvider interface {
	Status() websocket.PoolStatus
}

type ClientLister interface {
	Clients() []service.ClientInfo
}

type ConnectionsStatusResponse struct {
	Pool    websocket.PoolStatus `json:"pool"`
	Clients []service.ClientInfo `json:"clients"`
}

type ConnectionsHandler struct {
	pool    PoolStatusProvider
	clients ClientLister
	log     *logger.Logger
}

func NewConnectionsHandler(pool PoolStatusProvider, clients ClientLister, log *logger.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		pool:    pool,
		clients: clients,
		log:     log,
	}
}

func (h *ConnectionsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/connections/status", h.GetStatus).Methods("GET")
}

func (h *ConnectionsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	clients := h.clients.Clients()
	if clients == nil {
		clients = []service.ClientInfo{}
	}
	respondJSON(w, http.StatusOK, ConnectionsStatusResponse{
		Pool:    h.pool.Status(),
		Clients: clients,
	})
}
