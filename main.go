package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	chainx "github.com/CallejaJ/solana-ai/agent/chain"
	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	orchestratorx "github.com/CallejaJ/solana-ai/agent/orchestrator"
	resolverx "github.com/CallejaJ/solana-ai/agent/resolver"
	sessionx "github.com/CallejaJ/solana-ai/agent/session"
	configx "github.com/CallejaJ/solana-ai/pkg/config"
	groqx "github.com/CallejaJ/solana-ai/pkg/groq"
	_ "github.com/CallejaJ/solana-ai/pkg/logger/autoload"
	privyx "github.com/CallejaJ/solana-ai/pkg/privy"
	"github.com/CallejaJ/solana-ai/pkg/solanarpc"
	"github.com/CallejaJ/solana-ai/webapi"
)

type AppConfig struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" split_words:"true" default:":8080"`

	// SessionBackend is one of memory, file, redis, postgres.
	SessionBackend string `envconfig:"SESSION_BACKEND" split_words:"true" default:"file"`
	SessionFile    string `envconfig:"SESSION_FILE" split_words:"true" default:"sessions.json"`

	StepBudget int           `envconfig:"STEP_BUDGET" split_words:"true" default:"5"`
	PendingTTL time.Duration `envconfig:"PENDING_TTL" split_words:"true" default:"10m"`

	DevnetRPCURL  string `envconfig:"DEVNET_RPC_URL" split_words:"true" default:"https://api.devnet.solana.com"`
	MainnetRPCURL string `envconfig:"MAINNET_RPC_URL" split_words:"true" default:"https://api.mainnet-beta.solana.com"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("")

	groqCfg := configx.MustNew[groqx.Config]("GROQ")
	if groqx.NewClient(*groqCfg) == nil {
		panic("failed to initialize groq client")
	}
	chatModel, err := groqCfg.New(ctx)
	if err != nil {
		panic("failed to initialize chat model: " + err.Error())
	}

	devnet := chainx.New(solanarpc.MustNew(solanarpc.Config{URL: appCfg.DevnetRPCURL}))
	mainnet := chainx.New(solanarpc.MustNew(solanarpc.Config{URL: appCfg.MainnetRPCURL}))
	chains := contractx.ChainFactory(func(network contractx.Network) contractx.ChainClient {
		if network == contractx.NetworkMainnet {
			return mainnet
		}
		return devnet
	})

	store := newStore(ctx, appCfg)

	runner, err := orchestratorx.New(chatModel, chains, store, orchestratorx.Config{
		StepBudget: appCfg.StepBudget,
		PendingTTL: appCfg.PendingTTL,
	})
	if err != nil {
		panic("failed to initialize runner: " + err.Error())
	}

	handler, err := webapi.NewHandler(runner, newSettler(chains), store)
	if err != nil {
		panic("failed to initialize http handler: " + err.Error())
	}

	server := &http.Server{
		Addr:              appCfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", appCfg.ListenAddr).
		Str("session_backend", appCfg.SessionBackend).
		Msg("server listening")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func newStore(ctx context.Context, cfg *AppConfig) sessionx.Store {
	switch cfg.SessionBackend {
	case "memory":
		return sessionx.NewMemoryStore()
	case "redis":
		redisCfg := configx.MustNew[sessionx.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := sessionx.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			panic("failed to initialize redis session store: " + err.Error())
		}
		return store
	case "postgres":
		pgCfg := configx.MustNew[sessionx.PostgresConfig]("POSTGRES")
		store, err := sessionx.NewPostgresStore(*pgCfg)
		if err != nil {
			panic("failed to initialize postgres session store: " + err.Error())
		}
		if err := store.Init(ctx); err != nil {
			panic("failed to migrate postgres session store: " + err.Error())
		}
		return store
	default:
		return sessionx.NewFileStore(cfg.SessionFile)
	}
}

// newSettler wires server-side signing when Privy credentials are present.
// Without them the resolve endpoint still accepts client-produced outcomes.
func newSettler(chains contractx.ChainFactory) webapi.TransferSettler {
	privyCfg, err := configx.New[privyx.Config]("PRIVY")
	if err != nil {
		log.Warn().Err(err).Msg("privy not configured, server-side signing disabled")
		return nil
	}
	signer, err := privyx.NewClient(*privyCfg)
	if err != nil {
		log.Warn().Err(err).Msg("privy client init failed, server-side signing disabled")
		return nil
	}
	settler, err := resolverx.New(chains, signer)
	if err != nil {
		log.Warn().Err(err).Msg("resolver init failed, server-side signing disabled")
		return nil
	}
	return settler
}
