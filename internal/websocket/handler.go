package websocket

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"etlpulse/internal/config"
	"etlpulse/internal/infrastructure"
)

// Handler upgrades GET /ws requests and attaches the connection to the hub.
// The optional run_id query parameter limits the client to one run.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      ClientConfig
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. An empty origin list or one
// containing "*" accepts any origin.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("handler", "websocket"))
	h := &Handler{
		hub:    hub,
		cfg:    ClientConfigFrom(cfg),
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(allowedOrigins, logger),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		h.logger.WarnContext(ctx, "upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	traceID := middleware.GetReqID(ctx)
	if traceID == "" {
		traceID = infrastructure.GetTraceID(ctx)
	}
	client := NewClient(h.hub, WrapConn(conn), r.URL.Query().Get("run_id"), traceID, h.cfg, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func originChecker(allowed []string, logger *slog.Logger) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	_, anyOrigin := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin || len(set) == 0 {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		logger.WarnContext(r.Context(), "origin not allowed", slog.String("origin", origin))
		return false
	}
}
