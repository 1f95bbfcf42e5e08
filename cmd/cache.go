package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Model-response cache maintenance",
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Remove expired entries and trim the cache to its size bound",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cacheStore, err := initCache(pool)
		if err != nil {
			return err
		}
		defer cacheStore.Close() //nolint:errcheck

		expired, err := cacheStore.EvictExpired(ctx)
		if err != nil {
			return err
		}
		trimmed, err := cacheStore.EvictLRU(ctx, int64(cfg.Cache.MaxEntries))
		if err != nil {
			return err
		}

		zap.L().Info("cache evicted",
			zap.Int64("expired", expired),
			zap.Int64("trimmed", trimmed),
			zap.Int("max_entries", cfg.Cache.MaxEntries))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheEvictCmd)
	rootCmd.AddCommand(cacheCmd)
}
