package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-relay/handler"
	"line-relay/internal/config"
	"line-relay/internal/domain"
	"line-relay/internal/integrations/line"
	"line-relay/internal/integrations/openai"
	"line-relay/internal/integrations/paramstore"
	"line-relay/internal/integrations/search"
	"line-relay/internal/repository"
	"line-relay/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Secrets ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	openaiKey := mustSecret(ctx, ssmClient, cfg.Param(config.ParamOpenAIToken))
	channelSecret := mustSecret(ctx, ssmClient, cfg.Param(config.ParamLineChannelSecret))
	accessToken := mustSecret(ctx, ssmClient, cfg.Param(config.ParamLineChannelAccessToken))
	searchKey := mustSecret(ctx, ssmClient, cfg.Param(config.ParamSearchAPIKey))

	// ---- Clients ----
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithEventTTL(cfg.EventTTL))
	if err != nil {
		fatal("failed to create state client", err)
	}
	llm, err := openai.NewClient(openaiKey, openai.WithBaseURL(cfg.OpenAIBaseURL), openai.WithTimeout(cfg.OpenAITimeout))
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	searcher, err := search.NewClient(searchKey, cfg.SearchEngineID, search.WithBaseURL(cfg.SearchBaseURL), search.WithTimeout(cfg.SearchTimeout))
	if err != nil {
		fatal("failed to create search client", err)
	}
	replier, err := line.NewClient(accessToken, line.WithBaseURL(cfg.LineBaseURL), line.WithTimeout(cfg.ReplyTimeout))
	if err != nil {
		fatal("failed to create LINE client", err)
	}

	// ---- Handler ----
	relay, err := usecase.NewRelayService(store, searcher, llm, replier, usecase.Settings{
		HistoryLimit: cfg.HistoryLimit,
		SearchLimit:  cfg.SearchMaxResults,
		SearchSite:   cfg.SearchSite,
		Generation: domain.GenerationParams{
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.OpenAIMaxTokens,
			Temperature: cfg.OpenAITemperature,
			TopP:        cfg.OpenAITopP,
		},
		Persona:           cfg.Persona,
		MaxReplyChars:     cfg.MaxReplyChars,
		DedupeEvents:      cfg.DedupeEvents,
		StoreTimeout:      cfg.StoreTimeout,
		SearchTimeout:     cfg.SearchTimeout,
		GenerationTimeout: cfg.OpenAITimeout,
		ReplyTimeout:      cfg.ReplyTimeout,
	}, logger)
	if err != nil {
		fatal("failed to create relay service", err)
	}

	h, err := handler.NewHandler(relay, channelSecret, logger)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

// mustSecret resolves a secret once at cold start so missing credentials
// stop the process instead of failing every delivery.
func mustSecret(ctx context.Context, getter paramstore.Getter, name string) *paramstore.Secret {
	secret, err := paramstore.NewSecret(getter, name)
	if err != nil {
		fatal("failed to create secret", err, "name", name)
	}
	if _, err := secret.Value(ctx); err != nil {
		fatal("required secret is unavailable", err, "name", name)
	}
	return secret
}

func fatal(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"err", err}, args...)...)
	os.Exit(1)
}
