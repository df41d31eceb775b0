// Package changes streams committed store changes to browsers as server-sent
// events so dashboards can refresh without polling.
package changes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/presentation/http/response"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

const (
	defaultHeartbeat = 15 * time.Second
	bufferSize       = 64
)

// Handler serves GET /changes.
type Handler struct {
	store     store.Store
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewHandler constructs a changes Handler.
func NewHandler(s store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: s, logger: logger, heartbeat: defaultHeartbeat}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/changes", h.stream)
}

func (h *Handler) stream(c echo.Context) error {
	table := store.Table(c.QueryParam("table"))
	if !table.Valid() {
		return response.New(c).WithError(errorbank.BadRequest(fmt.Sprintf("unknown table %q", table))).Build()
	}

	changes := make(chan store.Change, bufferSize)
	cancel := h.store.Subscribe(table, func(ch store.Change) {
		select {
		case changes <- ch:
		default:
			h.logger.Warn("change stream is full, dropping change",
				zap.String("table", string(ch.Table)),
				zap.Int64("key", ch.Key),
			)
		}
	})
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed to %s\n\n", table)
	w.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		case ch := <-changes:
			body, err := json.Marshal(ch)
			if err != nil {
				h.logger.Warn("encode change", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ch.Kind, ch.Key, body)
			w.Flush()
		}
	}
}
