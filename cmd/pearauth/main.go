package main

import (
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/pearauth/adapters/events"
	"github.com/layer-3/pearauth/adapters/exchange"
	"github.com/layer-3/pearauth/adapters/relay"
	"github.com/layer-3/pearauth/adapters/signer"
	"github.com/layer-3/pearauth/adapters/store"
	"github.com/layer-3/pearauth/adapters/tokenizer"
	"github.com/layer-3/pearauth/config"
	"github.com/layer-3/pearauth/internal/eth"
	"github.com/layer-3/pearauth/internal/logger"
	"github.com/layer-3/pearauth/ports"
	"github.com/layer-3/pearauth/service"
	"github.com/layer-3/pearauth/transport/http"
	relayproxy "github.com/layer-3/pearauth/transport/relay"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pearauth",
		Usage: "Pear Protocol wallet authentication and Hyperliquid agent approval",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the session flow and dashboard API",
				Action: serve,
			},
			{
				Name:   "relay",
				Usage:  "run the Pear API relay",
				Action: runRelay,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	wallet, err := loadWallet(cfg, log)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	publisher, err := newPublisher(redisClient)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var tokenStore ports.Store
	if redisClient != nil {
		tokenStore = store.NewRedisStore(redisClient)
	} else {
		tokenStore = store.NewMemoryStore()
	}

	signingAdapter := signer.NewAdapter(wallet, cfg.SignTimeout, log)
	relayClient := relay.NewClient(cfg.RelayURL, cfg.HTTPTimeout, log)
	hyperliquid := exchange.NewClient(exchange.Config{
		BaseURL:           cfg.HyperliquidURL,
		Mainnet:           cfg.Mainnet,
		MaxFeeRateCeiling: cfg.MaxFeeRateCeiling,
		Timeout:           cfg.HTTPTimeout,
	}, signingAdapter, log)

	flow := service.NewFlow(service.FlowConfig{
		ClientID:             cfg.ClientID,
		AgentName:            cfg.AgentName,
		Builder:              cfg.Builder,
		MaxFeeRate:           cfg.MaxFeeRate,
		TokenInvalidationTTL: cfg.TokenInvalidationTTL,
	}, relayClient, signingAdapter, hyperliquid, tokenizer.NewJWTInspector(), tokenStore,
		events.NewWatermillPublisher(publisher), log)
	trader := service.NewTrader(flow, relayClient, hyperliquid, cfg.MinOrderSize, log)

	router := http.SetupRouter(http.NewFlowHandlers(flow, trader, wallet), flow, cfg.APIKey, log)

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("wallet", wallet.Identity().Address.Hex()).
		Str("relay", cfg.RelayURL).
		Bool("mainnet", cfg.Mainnet).
		Msg("starting pearauth")
	if err := router.Run(cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func runRelay(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	proxy := relayproxy.NewProxy(cfg.PearBaseURL, cfg.HTTPTimeout, log)
	router := relayproxy.SetupRouter(proxy, cfg.RelayPath)

	log.Info().Str("addr", cfg.RelayListenAddr).Str("upstream", cfg.PearBaseURL).Msg("starting relay")
	if err := router.Run(cfg.RelayListenAddr); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return nil
}

func loadWallet(cfg config.Config, log zerolog.Logger) (*eth.KeySigner, error) {
	if cfg.PrivateKey != "" {
		return eth.NewKeySigner(cfg.PrivateKey, cfg.ChainID)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warn().Msg("PEARAUTH_PRIVATE_KEY not set, using an ephemeral wallet")
	return eth.NewKeySignerFromKey(key, cfg.ChainID), nil
}

// newPublisher streams events to redis when a client is given and keeps them in process otherwise
func newPublisher(client *redis.Client) (message.Publisher, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	if client == nil {
		return gochannel.NewGoChannel(gochannel.Config{}, wmLogger), nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return publisher, nil
}
