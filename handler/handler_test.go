package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"line-relay/internal/domain"
	"line-relay/internal/signature"
	"line-relay/internal/usecase"
)

const testSecret = "channel-secret"

type fakeSecret struct {
	val string
	err error
}

func (f *fakeSecret) Value(_ context.Context) (string, error) {
	return f.val, f.err
}

type stubRelay struct {
	events []domain.InboundEvent
}

func (s *stubRelay) Relay(_ context.Context, ev domain.InboundEvent) usecase.Outcome {
	s.events = append(s.events, ev)
	return usecase.Outcome{State: usecase.StateReplied, Reply: "ok"}
}

type memStore struct {
	turns   []domain.Turn
	claimed map[string]bool
}

func (m *memStore) Append(_ context.Context, userID string, role domain.Role, content string) error {
	m.turns = append(m.turns, domain.Turn{UserID: userID, Role: role, Content: content})
	return nil
}

func (m *memStore) Recent(_ context.Context, _ string, _ int) ([]domain.Turn, error) {
	return nil, nil
}

func (m *memStore) ClaimEvent(_ context.Context, eventID string) (bool, error) {
	if m.claimed == nil {
		m.claimed = map[string]bool{}
	}
	if m.claimed[eventID] {
		return false, nil
	}
	m.claimed[eventID] = true
	return true, nil
}

type noResults struct{}

func (noResults) Search(_ context.Context, _ domain.SearchQuery) ([]domain.SearchResult, error) {
	return []domain.SearchResult{}, nil
}

type fixedLLM struct {
	answer string
	err    error
}

func (f *fixedLLM) Chat(_ context.Context, _ domain.GenerationParams, _ []domain.ChatMessage) (string, error) {
	return f.answer, f.err
}

type recordingReplier struct {
	tokens  []string
	replies []string
}

func (r *recordingReplier) Reply(_ context.Context, replyToken, text string) error {
	r.tokens = append(r.tokens, replyToken)
	r.replies = append(r.replies, text)
	return nil
}

const textMessageBody = `{"destination":"Uxxx","events":[{"type":"message","replyToken":"rt-1","webhookEventId":"evt-1",` +
	`"source":{"type":"user","userId":"U123"},"deliveryContext":{"isRedelivery":false},` +
	`"message":{"id":"m1","type":"text","text":"おはよう"}}]}`

func signedEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/callback",
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"x-line-signature": signature.Encode([]byte(body), testSecret),
		},
		Body: body,
	}
}

func newStubHandler(t *testing.T) (*Handler, *stubRelay) {
	t.Helper()
	relay := &stubRelay{}
	h, err := NewHandler(relay, &fakeSecret{val: testSecret}, nil)
	require.NoError(t, err)
	return h, relay
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &fakeSecret{}, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubRelay{}, nil, nil)
	require.Error(t, err)
}

func TestHandle_Readiness(t *testing.T) {
	h, _ := newStubHandler(t)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, readinessText, resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_UnknownRoute(t *testing.T) {
	h, _ := newStubHandler(t)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/callback"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_RelaysTextMessage(t *testing.T) {
	h, relay := newStubHandler(t)

	resp, err := h.Handle(context.Background(), signedEvent(textMessageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Body)
	require.Equal(t, []domain.InboundEvent{{
		ReplyToken: "rt-1",
		UserID:     "U123",
		Text:       "おはよう",
		EventID:    "evt-1",
	}}, relay.events)
}

func TestHandle_Base64Body(t *testing.T) {
	h, relay := newStubHandler(t)

	req := signedEvent(textMessageBody)
	req.Body = base64.StdEncoding.EncodeToString([]byte(textMessageBody))
	req.IsBase64Encoded = true

	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, relay.events, 1)
}

func TestHandle_InvalidSignature(t *testing.T) {
	cases := map[string]func(*events.APIGatewayProxyRequest){
		"tampered body":     func(r *events.APIGatewayProxyRequest) { r.Body += " " },
		"missing signature": func(r *events.APIGatewayProxyRequest) { delete(r.Headers, "x-line-signature") },
		"garbage signature": func(r *events.APIGatewayProxyRequest) { r.Headers["x-line-signature"] = "not base64!" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h, relay := newStubHandler(t)
			req := signedEvent(textMessageBody)
			mutate(&req)

			resp, err := h.Handle(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Empty(t, relay.events)
		})
	}
}

func TestHandle_SecretUnavailable(t *testing.T) {
	relay := &stubRelay{}
	h, err := NewHandler(relay, &fakeSecret{err: errors.New("ssm down")}, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), signedEvent(textMessageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Empty(t, relay.events)
}

func TestHandle_MalformedEnvelope(t *testing.T) {
	h, relay := newStubHandler(t)

	resp, err := h.Handle(context.Background(), signedEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Empty(t, relay.events)
}

func TestHandle_SkipsUnsupportedEvents(t *testing.T) {
	h, relay := newStubHandler(t)
	body := `{"events":[` +
		`{"type":"follow","replyToken":"rt-0","source":{"userId":"U1"}},` +
		`{"type":"message","replyToken":"rt-1","source":{"userId":"U1"},"message":{"type":"sticker"}},` +
		`{"type":"message","replyToken":"rt-2","source":{"userId":"U1"},"message":{"type":"text","text":"   "}},` +
		`{"type":"message","replyToken":"rt-3","source":{"userId":"U1"},"message":{"type":"text","text":"hi"}}` +
		`]}`

	resp, err := h.Handle(context.Background(), signedEvent(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, relay.events, 1)
	require.Equal(t, "rt-3", relay.events[0].ReplyToken)
}

func TestHandle_EmptyVerificationDelivery(t *testing.T) {
	h, relay := newStubHandler(t)

	resp, err := h.Handle(context.Background(), signedEvent(`{"destination":"Uxxx","events":[]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, relay.events)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, _ := newStubHandler(t)

	req := signedEvent(textMessageBody)
	req.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func newRelayHandler(t *testing.T, llm *fixedLLM) (*Handler, *memStore, *recordingReplier) {
	t.Helper()
	store := &memStore{}
	replier := &recordingReplier{}
	svc, err := usecase.NewRelayService(store, noResults{}, llm, replier, usecase.Settings{
		Generation:   domain.GenerationParams{Model: "gpt-4o-mini"},
		DedupeEvents: true,
	}, nil)
	require.NoError(t, err)
	h, err := NewHandler(svc, &fakeSecret{val: testSecret}, nil)
	require.NoError(t, err)
	return h, store, replier
}

func TestHandle_EndToEnd(t *testing.T) {
	h, store, replier := newRelayHandler(t, &fixedLLM{answer: "おはよう、我が主。"})

	resp, err := h.Handle(context.Background(), signedEvent(textMessageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{"rt-1"}, replier.tokens)
	require.Equal(t, []string{"おはよう、我が主。"}, replier.replies)
	require.Equal(t, []domain.Turn{
		{UserID: "U123", Role: domain.RoleUser, Content: "おはよう"},
		{UserID: "U123", Role: domain.RoleAssistant, Content: "おはよう、我が主。"},
	}, store.turns)

	// A redelivery of the same event is acknowledged without a second reply.
	req := signedEvent(textMessageBody)
	resp, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, replier.replies, 1)
}

func TestHandle_EndToEndGenerationOutage(t *testing.T) {
	h, store, replier := newRelayHandler(t, &fixedLLM{err: errors.New("openai: unexpected status 500")})

	resp, err := h.Handle(context.Background(), signedEvent(textMessageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{usecase.FallbackReply}, replier.replies)
	require.Len(t, store.turns, 1)
	require.Equal(t, domain.RoleUser, store.turns[0].Role)
}
