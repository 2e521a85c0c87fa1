package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/copypad/pkg/room"
	"github.com/astromechza/copypad/pkg/store"
)

const (
	DefaultMaxAttachmentBytes = 1 << 20
	DefaultMaxTextBytes       = 8 << 20
	DefaultWriteTimeout       = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
)

type Config struct {
	// MaxAttachmentBytes caps decoded attachment size.
	MaxAttachmentBytes int64
	// MaxTextBytes caps save_text bodies and chat messages.
	MaxTextBytes int64
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if c.MaxTextBytes <= 0 {
		c.MaxTextBytes = DefaultMaxTextBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
}

// Server is the HTTP boundary. Handlers hold no state of their own and
// delegate to the store and the room registry.
type Server struct {
	store    store.Store
	registry *room.Registry
	cfg      Config
	upgrader websocket.Upgrader
}

func New(s store.Store, registry *room.Registry, cfg Config) *Server {
	cfg.withDefaults()
	return &Server{
		store:    s,
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// A path is a shared namespace, not a permission boundary.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router routes on the encoded request path, so {path} keeps the exact bytes
// the browser used and "a%2Fb" and "a/b" name different documents.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/load/{path:.+}").HandlerFunc(s.load)
	r.Methods(http.MethodPost).Path("/save_text").HandlerFunc(s.saveText)
	r.Methods(http.MethodPost).Path("/save_file").HandlerFunc(s.saveFile)
	r.Methods(http.MethodGet).Path("/chat/{path:.+}").HandlerFunc(s.chat)
	r.Methods(http.MethodGet).Path("/download/{path:.+}").HandlerFunc(s.download)
	r.Methods(http.MethodGet).Path("/attachment/{path:.+}").HandlerFunc(s.attachment)
	return r
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}
