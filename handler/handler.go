// Package handler adapts API Gateway proxy events to the relay pipeline.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"line-relay/internal/domain"
	"line-relay/internal/signature"
	"line-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	callbackPath      = "/callback"
	readinessText     = "Relay running! Handler: OK, Config: OK"
)

type Relayer interface {
	Relay(ctx context.Context, ev domain.InboundEvent) usecase.Outcome
}

// Credential supplies the channel secret used to verify signatures.
type Credential interface {
	Value(ctx context.Context) (string, error)
}

type Handler struct {
	relay         Relayer
	channelSecret Credential
	events        map[string]eventFunc
	log           *slog.Logger
}

func NewHandler(relay Relayer, channelSecret Credential, logger *slog.Logger) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	if channelSecret == nil {
		return nil, errors.New("handler: channel secret must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{relay: relay, channelSecret: channelSecret, log: logger}
	h.events = map[string]eventFunc{
		"message": h.handleMessage,
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := strings.TrimSpace(headerValue(req.Headers, correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)

	path := strings.TrimSuffix(req.Path, "/")
	switch {
	case req.HTTPMethod == http.MethodGet && path == "":
		return textResponse(http.StatusOK, readinessText, correlationID), nil
	case req.HTTPMethod == http.MethodPost && path == callbackPath:
		return h.callback(ctx, req, correlationID, log), nil
	}
	return textResponse(http.StatusNotFound, http.StatusText(http.StatusNotFound), correlationID), nil
}

func (h *Handler) callback(ctx context.Context, req events.APIGatewayProxyRequest, correlationID string, log *slog.Logger) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		log.Warn("undecodable request body", "err", err)
		return textResponse(http.StatusBadRequest, "Bad Request", correlationID)
	}
	log.Debug("webhook received", "body", string(body))

	secret, err := h.channelSecret.Value(ctx)
	if err != nil {
		log.Error("failed to load channel secret", "err", err)
		return textResponse(http.StatusInternalServerError, "Internal Server Error", correlationID)
	}

	if !signature.Verify(body, headerValue(req.Headers, signature.Header), secret) {
		rejected := &usecase.Error{Code: usecase.ErrorSignature, Stage: usecase.StageVerify, Err: errors.New("signature mismatch")}
		log.Warn("webhook rejected", "stage", rejected.Stage, "code", rejected.Code, "state", usecase.StateRejected, "err", rejected.Err)
		return textResponse(http.StatusBadRequest, "Invalid signature", correlationID)
	}

	if err := h.dispatch(ctx, body, log); err != nil {
		log.Error("failed to handle webhook", "err", err)
		return textResponse(http.StatusInternalServerError, "Internal Server Error", correlationID)
	}
	return textResponse(http.StatusOK, "OK", correlationID)
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func textResponse(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: correlationID,
		},
		Body: body,
	}
}
