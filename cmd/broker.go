package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/meshcall/internal/broker"
	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const redisPingTimeout = 5 * time.Second

var (
	flagAddr        string
	flagRedis       string
	flagRedisPrefix string
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the broker participants register with",
	Long: `Run the broker that hands out participant identities and relays connection
setup between them. Several brokers can share one identity namespace through Redis.

Examples:
  meshcall broker
  meshcall broker --addr :9000
  meshcall broker --redis localhost:6379 --redis-prefix meshcall`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBroker(cmd.Context())
	},
}

func runBroker(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{
		ConfigFile:  flagConfig,
		BrokerAddr:  flagAddr,
		RedisAddr:   flagRedis,
		RedisPrefix: flagRedisPrefix,
	})
	if err != nil {
		return err
	}

	// The broker is a service; it logs at info unless told otherwise.
	log := logging.NewBrokerLogger(os.Stdout, flagLogLevel)

	dir, cleanup, err := newDirectory(ctx, cfg.Broker, log)
	if err != nil {
		return err
	}
	defer cleanup()

	return broker.Serve(ctx, cfg.Broker.Addr, dir, log)
}

func newDirectory(ctx context.Context, cfg config.BrokerConfig, log zerolog.Logger) (broker.Directory, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("using in-memory identity directory")
		return broker.NewMemoryDirectory(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	dir, err := broker.NewRedisDirectory(ctx, rdb, cfg.RedisPrefix, log)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	log.Info().Str("redis", cfg.RedisAddr).Str("prefix", cfg.RedisPrefix).Msg("using shared identity directory")

	return dir, func() {
		dir.Close()
		rdb.Close()
	}, nil
}

func init() {
	rootCmd.AddCommand(brokerCmd)

	brokerCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :8080)")
	brokerCmd.Flags().StringVar(&flagRedis, "redis", "", "Redis address for a shared identity directory")
	brokerCmd.Flags().StringVar(&flagRedisPrefix, "redis-prefix", "", "Redis key prefix (default meshcall)")
}
