package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// maxBodyBytes caps a hook payload. Assistant hooks are small; anything
// bigger is a misdirected request.
const maxBodyBytes = 1 << 20

// ErrAgentNotFound is returned by a Resolver for unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

// Binding ties an agent id to the session it supervises.
type Binding struct {
	AgentID     string
	ProjectPath string
	SessionID   string
}

// Resolver maps an agent id to its binding.
type Resolver interface {
	Bind(agentID string) (Binding, error)
}

// Dispatcher accepts a stamped event for an agent's serial queue.
type Dispatcher interface {
	Dispatch(agentID string, ev Event) error
}

// Receiver is the hook-receiving HTTP listener. It is stateless: every
// request is normalize, stamp, enqueue, acknowledge.
type Receiver struct {
	resolver   Resolver
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewReceiver creates a hook receiver.
func NewReceiver(resolver Resolver, dispatcher Dispatcher, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{resolver: resolver, dispatcher: dispatcher, logger: logger}
}

// Router returns the receiver's HTTP routes.
func (r *Receiver) Router() chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Post("/hooks/{agentID}", r.handleHook)
	return mux
}

// Serve runs the receiver on its own port until ctx is canceled, then
// shuts down with a bounded grace period.
func (r *Receiver) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type receipt struct {
	Status     string    `json:"status"`
	AgentID    string    `json:"agentId"`
	EventType  EventType `json:"eventType"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (r *Receiver) handleHook(w http.ResponseWriter, req *http.Request) {
	agentID := chi.URLParam(req, "agentID")

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	binding, err := r.resolver.Bind(agentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		http.Error(w, "resolving agent", http.StatusInternalServerError)
		return
	}

	ev := Parse(body)
	ev.AgentID = binding.AgentID
	ev.ProjectPath = binding.ProjectPath
	ev.OrkaSessionID = binding.SessionID

	if err := r.dispatcher.Dispatch(agentID, ev); err != nil {
		r.logger.Warn("hook dispatch failed",
			zap.String("agent", agentID),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
		http.Error(w, "agent not accepting events", http.StatusServiceUnavailable)
		return
	}

	r.logger.Debug("hook accepted",
		zap.String("agent", agentID),
		zap.String("event", string(ev.Type)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(receipt{
		Status:     "accepted",
		AgentID:    agentID,
		EventType:  ev.Type,
		ReceivedAt: ev.Timestamp,
	})
}
