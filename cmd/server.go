package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"KeyShift/cache"
	"KeyShift/config"
	"KeyShift/core/audio"
	"KeyShift/core/pipeline"
	"KeyShift/core/registry"
	"KeyShift/logger"
	"KeyShift/metrics"
	"KeyShift/model"
	"KeyShift/server"
	"KeyShift/storage"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the KeyShift HTTP server",
	Long:  `Start the HTTP server exposing /prepare, /audio, /ws/prepare and the operational endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})
}

func runServer() error {
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", cfg.CacheDir, err)
	}

	reg := registry.New(nil)
	defer reg.Close()

	if n, err := reg.PurgeOrphans(cfg.CacheDir, audio.TrackExt); err != nil {
		logger.Warn("failed to scan cache dir", logger.ErrorField(err))
	} else if n > 0 {
		logger.Info("removed orphaned cache files", logger.Int("count", n))
	}

	reg.OnEvict(func(model.TrackEntry) {
		metrics.EvictionsTotal.Inc()
		metrics.CachedTracks.Set(float64(reg.Len()))
	})

	metaCache := newMetadataCache(cfg)
	defer metaCache.Close()

	toolchain := audio.NewToolchain(audio.NewExecRunner(), cfg.YtDlpPath, cfg.FFmpegPath, cfg.FFprobePath)
	options := []pipeline.Option{pipeline.WithMetadataCache(metaCache)}

	if mirror := newMirror(cfg); mirror != nil {
		options = append(options, pipeline.WithMirror(mirror))
		reg.OnEvict(func(e model.TrackEntry) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := mirror.Remove(ctx, e.ID); err != nil {
				logger.Warn("failed to remove mirrored track", logger.String("trackId", e.ID.String()), logger.ErrorField(err))
			}
		})
	}

	preparer := pipeline.New(toolchain, reg, pipeline.Options{
		CacheDir:        cfg.CacheDir,
		AllowedHosts:    cfg.AllowedHosts,
		AnalysisSeconds: cfg.AnalysisSeconds,
		SampleRate:      cfg.AnalysisSampleRate,
		Timeout:         cfg.PrepareTimeout,
	}, options...)

	sweeper := registry.NewSweeper(reg, nil, cfg.SweepInterval, cfg.CacheTTL)
	sweeper.Start()
	defer sweeper.Stop()

	if watcher, err := registry.NewWatcher(reg, cfg.CacheDir, audio.TrackExt); err != nil {
		logger.Warn("cache dir watcher disabled", logger.ErrorField(err))
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	return server.New(cfg, reg, preparer, toolchain).Start()
}

// newMetadataCache prefers Redis when configured and falls back to the
// in-process LRU when it is not, or when Redis is unreachable.
func newMetadataCache(cfg *config.Config) cache.MetadataCache {
	if cfg.RedisAddr != "" {
		client, err := cache.ConnectRedis(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			logger.Info("metadata cache: redis", logger.String("addr", cfg.RedisAddr))
			return cache.NewRedisMetadataCache(client, cfg.MetadataCacheTTL)
		}
		logger.Warn("redis unavailable, using in-process metadata cache", logger.ErrorField(err))
	}
	return cache.NewLRUMetadataCache(cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
}

// newMirror returns nil when the MinIO mirror is not configured or unreachable.
func newMirror(cfg *config.Config) *storage.Mirror {
	if cfg.MinioEndpoint == "" {
		return nil
	}
	mirror, err := storage.NewMirror(context.Background(), minioOptions(cfg))
	if err != nil {
		logger.Warn("MinIO mirror disabled", logger.ErrorField(err))
		return nil
	}
	logger.Info("MinIO mirror enabled",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return mirror
}

func minioOptions(cfg *config.Config) storage.MinioOptions {
	return storage.MinioOptions{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
	}
}
