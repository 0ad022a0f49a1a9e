package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
)

// StatusStreamHandler serves the server-sent event stream a browser holds
// open while it waits for a payment to resolve.
type StatusStreamHandler struct {
	store     *services.PaymentStore
	events    services.PaymentEvents
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewStatusStreamHandler(store *services.PaymentStore, events services.PaymentEvents, heartbeat time.Duration, logger *slog.Logger) *StatusStreamHandler {
	return &StatusStreamHandler{store: store, events: events, heartbeat: heartbeat, logger: logger}
}

// Stream emits exactly one data event and closes, or ends when the client
// goes away. The subscription is taken before the first store read so an
// event published in between is not lost.
func (h *StatusStreamHandler) Stream(c echo.Context) error {
	refs := models.Refs{
		Ref1: c.QueryParam("ref1"),
		Ref2: c.QueryParam("ref2"),
		Ref3: c.QueryParam("ref3"),
	}.Normalize()
	if refs.Ref1 == "" || refs.Ref2 == "" {
		return c.JSON(http.StatusBadRequest, failure("Missing ref1 or ref2"))
	}

	ctx := c.Request().Context()
	log := h.logger.With("request_id", requestID(c), "key", refs.Key())

	resolved := make(chan services.PaymentEvent, 1)
	unsubscribe := h.events.Subscribe(refs, func(evt services.PaymentEvent) {
		select {
		case resolved <- evt:
		default:
		}
	})
	defer unsubscribe()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	p, err := h.store.FindLatestByRefs(ctx, refs)
	switch {
	case err == nil && p.Status.IsTerminal():
		return h.send(w, services.NewPaymentEvent(p, ""))
	case err != nil && !errors.Is(err, services.ErrPaymentNotFound):
		log.ErrorContext(ctx, "status stream initial check failed", "error", err)
		return h.send(w, streamErrorFrame{Success: false, Status: "error", Error: "Status check failed"})
	}

	log.DebugContext(ctx, "status stream waiting")
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "status stream client disconnected")
			return nil
		case evt := <-resolved:
			return h.send(w, evt)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()

			// a transition made by another process is picked up here
			p, err := h.store.FindLatestByRefs(ctx, refs)
			if err == nil && p.Status.IsTerminal() {
				return h.send(w, services.NewPaymentEvent(p, ""))
			}
			if err != nil && !errors.Is(err, services.ErrPaymentNotFound) && ctx.Err() == nil {
				log.WarnContext(ctx, "status stream recheck failed", "error", err)
			}
		}
	}
}

func (h *StatusStreamHandler) send(w *echo.Response, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return nil
	}
	w.Flush()
	return nil
}
