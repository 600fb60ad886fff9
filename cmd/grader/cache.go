package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/essay-grader/backend/internal/cache/redis"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached response from redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rc, err := redis.NewClient(cmd.Context(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, time.Duration(cfg.Cache.TTLSec)*time.Second)
			if err != nil {
				return err
			}
			defer rc.Close()

			n, err := rc.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached responses\n", n)
			return nil
		},
	})

	return cmd
}
