package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/cache"
	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/logger"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

// cli holds what every subcommand needs once the root pre-run has loaded it.
type cli struct {
	dbURL string
	cfg   *config.Config
	log   *zap.Logger
	repo  *sqlite.SQLiteRepository

	// redirects is nil unless REDIS_URL is set
	redis     *cache.RedisCache
	redirects ports.RedirectCache
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "shortlink",
		Short:        "Administer the shortlink store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.cfg = config.Load()
			if c.dbURL != "" {
				c.cfg.DatabaseURL = c.dbURL
			}
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			c.log = logger.NewTo(cmd.ErrOrStderr(), c.cfg.LogLevel, "console")

			repo, err := sqlite.NewSQLiteRepository(c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			c.repo = repo

			if c.cfg.RedisURL != "" {
				c.redis, err = cache.NewRedisCache(c.cfg.RedisURL, c.cfg.CacheTTL, c.log)
				if err != nil {
					_ = repo.Close()
					return fmt.Errorf("redis: %w", err)
				}
				c.redirects = c.redis
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			_ = c.log.Sync()
			if c.redis != nil {
				if err := c.redis.Close(); err != nil {
					c.log.Warn("closing redis", zap.Error(err))
				}
			}
			return c.repo.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.dbURL, "db", "", "database URL (defaults to DATABASE_URL)")

	root.AddCommand(
		c.exportCmd(),
		c.importCmd(),
		c.unblockCmd(),
		c.scanCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
