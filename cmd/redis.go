package cmd

import (
	"context"
	"fmt"
	"time"

	"KeyShift/cache"
	"KeyShift/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis metadata cache",
	Long:  `Connect to the configured Redis instance and run a set/get/delete round trip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is not set; the server uses the in-process cache")
		}
		fmt.Printf("Redis: %s, DB: %d\n", cfg.RedisAddr, cfg.RedisDB)

		client, err := cache.ConnectRedis(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Connected.")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.CheckRedis(ctx, client); err != nil {
			return err
		}

		n, err := client.Keys(ctx, "keyshift:meta:*").Result()
		if err != nil {
			return fmt.Errorf("failed to count metadata keys: %w", err)
		}
		fmt.Printf("Round trip OK, %d cached metadata entries.\n", len(n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
