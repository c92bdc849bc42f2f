package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"line-relay/internal/domain"
)

const (
	defaultHistoryLimit      = 10
	defaultStoreTimeout      = 3 * time.Second
	defaultSearchTimeout     = 5 * time.Second
	defaultGenerationTimeout = 20 * time.Second
	defaultReplyTimeout      = 5 * time.Second

	// FallbackReply is sent whenever generation fails.
	FallbackReply = "申し訳ない、我が主。今は考えがまとまらぬようじゃ。少し時間をおいて、もう一度話しかけておくれ。"
)

type ConversationStore interface {
	Append(ctx context.Context, userID string, role domain.Role, content string) error
	Recent(ctx context.Context, userID string, limit int) ([]domain.Turn, error)
	ClaimEvent(ctx context.Context, eventID string) (bool, error)
}

type Searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error)
}

type LLMClient interface {
	Chat(ctx context.Context, params domain.GenerationParams, messages []domain.ChatMessage) (string, error)
}

type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Settings carries the per-process tuning of the relay pipeline.
type Settings struct {
	HistoryLimit  int
	SearchLimit   int
	SearchSite    string
	Generation    domain.GenerationParams
	Persona       string
	MaxReplyChars int
	DedupeEvents  bool

	StoreTimeout      time.Duration
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration
	ReplyTimeout      time.Duration
}

// State is a step of the per-event pipeline.
type State string

const (
	StateReceived      State = "received"
	StateVerified      State = "verified"
	StateContextLoaded State = "context_loaded"
	StateAugmented     State = "augmented"
	StateComposed      State = "composed"
	StateGenerated     State = "generated"
	StatePersisted     State = "persisted"
	StateReplied       State = "replied"
	StateRejected      State = "rejected"
	// StateDuplicate marks a redelivered event that was already handled.
	StateDuplicate State = "duplicate"
)

// Outcome reports how far an event got and which failures were absorbed on
// the way. Failures never stop the pipeline short of StateReplied.
type Outcome struct {
	State    State
	Reply    string
	Fallback bool
	Failures []*Error
}

// RelayService runs the verified-event pipeline: load context, compose,
// generate, persist and reply.
type RelayService struct {
	store    ConversationStore
	searcher Searcher
	llm      LLMClient
	replier  Replier
	settings Settings
	policy   string
	log      *slog.Logger
}

func NewRelayService(store ConversationStore, searcher Searcher, llm LLMClient, replier Replier, settings Settings, logger *slog.Logger) (*RelayService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if searcher == nil {
		return nil, errors.New("usecase: searcher must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if replier == nil {
		return nil, errors.New("usecase: replier must not be nil")
	}
	if strings.TrimSpace(settings.Generation.Model) == "" {
		return nil, errors.New("usecase: generation model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = defaultHistoryLimit
	}
	settings.StoreTimeout = orDefault(settings.StoreTimeout, defaultStoreTimeout)
	settings.SearchTimeout = orDefault(settings.SearchTimeout, defaultSearchTimeout)
	settings.GenerationTimeout = orDefault(settings.GenerationTimeout, defaultGenerationTimeout)
	settings.ReplyTimeout = orDefault(settings.ReplyTimeout, defaultReplyTimeout)

	return &RelayService{
		store:    store,
		searcher: searcher,
		llm:      llm,
		replier:  replier,
		settings: settings,
		policy:   PolicyPrompt(settings.Persona, settings.MaxReplyChars),
		log:      logger,
	}, nil
}

// Relay handles one verified text event. It always attempts exactly one
// reply unless the event is a duplicate of one already handled.
func (s *RelayService) Relay(ctx context.Context, ev domain.InboundEvent) Outcome {
	log := s.log.With("user_id", ev.UserID, "event_id", ev.EventID)
	out := Outcome{State: StateVerified}
	text := strings.TrimSpace(ev.Text)

	if s.settings.DedupeEvents && ev.EventID != "" {
		claimed, err := s.claim(ctx, ev.EventID)
		switch {
		case err != nil:
			s.absorb(log, &out, newError(ErrorPersistence, StageDedupe, err))
		case !claimed:
			log.Info("skipping redelivered event", "redelivery", ev.Redelivery)
			out.State = StateDuplicate
			return out
		}
	}

	var (
		history    []domain.Turn
		aug        domain.Augmentation
		historyErr *Error
		augErr     *Error
	)
	var g errgroup.Group
	g.Go(func() error {
		history, historyErr = s.loadHistory(ctx, ev.UserID)
		return nil
	})
	g.Go(func() error {
		aug, augErr = s.fetchAugmentation(ctx, text)
		return nil
	})
	_ = g.Wait()
	out.State = StateContextLoaded
	if historyErr != nil {
		s.absorb(log, &out, historyErr)
	}
	out.State = StateAugmented
	if augErr != nil {
		s.absorb(log, &out, augErr)
	}

	messages := BuildPromptMessages(s.policy, aug, history, text)
	out.State = StateComposed

	reply, genErr := s.generate(ctx, messages)
	if genErr != nil {
		s.absorb(log, &out, genErr)
		reply = FallbackReply
		out.Fallback = true
	}
	out.Reply = reply
	out.State = StateGenerated

	for _, err := range s.persist(ctx, ev.UserID, text, reply, !out.Fallback) {
		s.absorb(log, &out, err)
	}
	out.State = StatePersisted

	if err := s.dispatch(ctx, ev.ReplyToken, reply); err != nil {
		s.absorb(log, &out, err)
	}
	out.State = StateReplied

	log.Info("event relayed", "fallback", out.Fallback, "failures", len(out.Failures), "history_turns", len(history), "augmentation_results", len(aug))
	return out
}

func (s *RelayService) claim(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.StoreTimeout)
	defer cancel()
	return s.store.ClaimEvent(ctx, eventID)
}

// loadHistory returns an empty history on failure.
func (s *RelayService) loadHistory(ctx context.Context, userID string) ([]domain.Turn, *Error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.StoreTimeout)
	defer cancel()
	turns, err := s.store.Recent(ctx, userID, s.settings.HistoryLimit)
	if err != nil {
		return []domain.Turn{}, newError(ErrorPersistence, StageHistory, err)
	}
	return turns, nil
}

// fetchAugmentation returns an empty augmentation, which renders the
// not-found marker, on failure.
func (s *RelayService) fetchAugmentation(ctx context.Context, query string) (domain.Augmentation, *Error) {
	if query == "" {
		return domain.Augmentation{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.SearchTimeout)
	defer cancel()
	results, err := s.searcher.Search(ctx, domain.SearchQuery{
		Text:  query,
		Limit: s.settings.SearchLimit,
		Site:  s.settings.SearchSite,
	})
	if err != nil {
		return domain.Augmentation{}, newError(upstreamCode(err), StageAugment, err)
	}
	if results == nil {
		return domain.Augmentation{}, nil
	}
	return domain.Augmentation(results), nil
}

func (s *RelayService) generate(ctx context.Context, messages []domain.ChatMessage) (string, *Error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.GenerationTimeout)
	defer cancel()
	text, err := s.llm.Chat(ctx, s.settings.Generation, messages)
	if err != nil {
		return "", newError(upstreamCode(err), StageGenerate, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(ErrorUpstream, StageGenerate, errors.New("empty generation"))
	}
	return text, nil
}

// persist appends the user turn and, when the reply was generated rather
// than substituted, the assistant turn. The assistant turn is skipped when
// the user turn could not be written so stored turns stay paired.
func (s *RelayService) persist(ctx context.Context, userID, text, reply string, generated bool) []*Error {
	if text == "" {
		return nil
	}
	if err := s.appendTurn(ctx, userID, domain.RoleUser, text); err != nil {
		return []*Error{err}
	}
	if !generated {
		return nil
	}
	if err := s.appendTurn(ctx, userID, domain.RoleAssistant, reply); err != nil {
		return []*Error{err}
	}
	return nil
}

func (s *RelayService) appendTurn(ctx context.Context, userID string, role domain.Role, content string) *Error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.StoreTimeout)
	defer cancel()
	if err := s.store.Append(ctx, userID, role, content); err != nil {
		return newError(ErrorPersistence, StagePersist, err)
	}
	return nil
}

func (s *RelayService) dispatch(ctx context.Context, replyToken, text string) *Error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.ReplyTimeout)
	defer cancel()
	if err := s.replier.Reply(ctx, replyToken, text); err != nil {
		return newError(ErrorDispatch, StageReply, err)
	}
	return nil
}

func (s *RelayService) absorb(log *slog.Logger, out *Outcome, err *Error) {
	out.Failures = append(out.Failures, err)
	attrs := []any{"stage", err.Stage, "code", err.Code, "state", out.State, "err", err.Err}
	if status, ok := upstreamStatusCode(err.Err); ok {
		attrs = append(attrs, "status", status)
	}
	if err.Stage == StageGenerate || err.Stage == StageReply {
		log.Error("relay stage failed", attrs...)
		return
	}
	log.Warn("relay stage degraded", attrs...)
}

func upstreamCode(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorUpstreamTimeout
	}
	return ErrorUpstream
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
