package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"line-relay/internal/domain"
)

type eventFunc func(ctx context.Context, ev webhookEvent, log *slog.Logger)

type webhookEnvelope struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type            string          `json:"type"`
	ReplyToken      string          `json:"replyToken"`
	WebhookEventID  string          `json:"webhookEventId"`
	Source          eventSource     `json:"source"`
	DeliveryContext deliveryContext `json:"deliveryContext"`
	Message         *eventMessage   `json:"message,omitempty"`
}

type eventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type deliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

type eventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// dispatch decodes a verified body and routes each event by type, in order.
func (h *Handler) dispatch(ctx context.Context, body []byte, log *slog.Logger) error {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("handler: decode webhook envelope: %w", err)
	}
	for _, ev := range env.Events {
		fn, ok := h.events[ev.Type]
		if !ok {
			log.Info("ignoring unsupported event", "type", ev.Type, "event_id", ev.WebhookEventID)
			continue
		}
		fn(ctx, ev, log)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, ev webhookEvent, log *slog.Logger) {
	if ev.Message == nil || ev.Message.Type != "text" {
		log.Info("ignoring non-text message", "event_id", ev.WebhookEventID)
		return
	}
	if ev.ReplyToken == "" || strings.TrimSpace(ev.Message.Text) == "" {
		log.Info("ignoring message without reply token or text", "event_id", ev.WebhookEventID)
		return
	}
	out := h.relay.Relay(ctx, domain.InboundEvent{
		ReplyToken: ev.ReplyToken,
		UserID:     ev.Source.UserID,
		Text:       ev.Message.Text,
		EventID:    ev.WebhookEventID,
		Redelivery: ev.DeliveryContext.IsRedelivery,
	})
	log.Debug("message relayed", "event_id", ev.WebhookEventID, "state", out.State, "failures", len(out.Failures))
}
