// Package main runs the VideoPress HTTP server with WebSocket progress and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/videopress/backend/config"
	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/archive"
	"github.com/videopress/backend/internal/compress"
	"github.com/videopress/backend/internal/encoder"
	"github.com/videopress/backend/internal/media"
	"github.com/videopress/backend/internal/middleware"
	"github.com/videopress/backend/internal/presets"
	"github.com/videopress/backend/internal/realtime"
	"github.com/videopress/backend/internal/registry"
	"github.com/videopress/backend/internal/sessions"
	"github.com/videopress/backend/internal/share"
	"github.com/videopress/backend/internal/uploads"
	"github.com/videopress/backend/internal/utility"
	"github.com/videopress/backend/internal/worker"
	"github.com/videopress/backend/pkg/database"
	"github.com/videopress/backend/pkg/queue"
	"github.com/videopress/backend/pkg/redis"
	"github.com/videopress/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("create storage dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	// Redis is optional: it backs the registry snapshot store, the realtime bridge and the archive queue.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	regOpts := registry.Options{
		FileRetention:   cfg.Limits.FileRetention(),
		SessionLifetime: cfg.Limits.SessionLifetime(),
		Dirs:            []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir},
	}
	if rdb != nil {
		regOpts.Store = registry.NewRedisStore(rdb.Client, logger)
	}
	reg := registry.New(regOpts, logger)
	if _, err := reg.Load(ctx); err != nil {
		logger.Warn("restore sessions failed", zap.Error(err))
	} else {
		reg.Sweep()
	}

	hub := realtime.NewHub(logger)

	runner := media.ExecRunner{}
	prober := media.NewProber(runner, cfg.Media.FFprobePath)
	enc := encoder.New(runner, encoder.Options{
		FFmpegPath:    cfg.Media.FFmpegPath,
		TimeoutFactor: cfg.Media.EncodeTimeoutFactor,
		MinTimeout:    cfg.Media.EncodeTimeoutMin,
	}, logger)
	analyzer := analysis.NewVideoAnalyzer(runner, cfg.Media.FFmpegPath, nil, cfg.Media.AnalysisMaxFrames, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if rdb != nil {
		if err := hub.Attach(workerCtx, realtime.NewRedisPubSub(rdb.Client, logger)); err != nil {
			logger.Warn("realtime events stay local", zap.Error(err))
		}
	}

	// Archive (S3 + Postgres + Redis queue); every dependency must be configured.
	var (
		enqueuer compress.Enqueuer
		linker   sessions.ArchiveLinker
		depth    utility.QueueDepth
	)
	arch, jobQueue, closeArchive := setupArchive(ctx, cfg, rdb, logger)
	defer closeArchive()
	if arch != nil {
		enqueuer, linker, depth = jobQueue, arch, jobQueue
		reg.OnRemove(arch.Listener())
		processor := worker.NewArchiveProcessor(arch, jobQueue, logger)
		go processor.Run(workerCtx)
		go arch.RunExpiry(workerCtx, cfg.Limits.SweepInterval)
		logger.Info("archive worker started")
	}

	go reg.Run(workerCtx, cfg.Limits.SweepInterval)

	gifCaps := presets.GIFCaps{
		MaxDuration: cfg.Media.GIFMaxDuration,
		MaxFPS:      cfg.Media.GIFMaxFPS,
		DefaultFPS:  cfg.Media.GIFDefaultFPS,
		MaxWidth:    cfg.Media.GIFMaxWidth,
	}
	validator := uploads.NewValidator(cfg.Limits.MaxFileSize, cfg.Limits.VideoExtensions, cfg.Limits.ImageExtensions)
	uploadHandler := uploads.NewHandler(uploads.NewService(validator, cfg.Storage.UploadDir, prober, reg, logger), logger)
	compressSvc := compress.NewService(reg, enc, analyzer, hub, enqueuer, compress.Options{
		OutputDir:  cfg.Storage.OutputDir,
		BudgetMB:   cfg.Media.TargetSizeMB,
		GIF:        gifCaps,
		ArchiveTTL: cfg.Limits.FileRetention(),
	}, logger)
	compressHandler := compress.NewHandler(compressSvc, logger)

	cookie := middleware.CookieConfig{MaxAge: cfg.Limits.SessionLifetime(), Secure: cfg.Server.Production()}
	signer := share.NewSigner(cfg.Share.Secret, cfg.Share.ExpireHours)
	sessionHandler := sessions.NewHandler(reg, signer, linker, cookie, logger)
	utilityHandler := utility.NewHandler(reg, depth, utility.Options{
		FFmpegPath:          cfg.Media.FFmpegPath,
		FFprobePath:         cfg.Media.FFprobePath,
		MaxFileSize:         cfg.Limits.MaxFileSize,
		FileExpiryHours:     cfg.Limits.FileExpiryHours,
		SessionDurationDays: cfg.Limits.SessionDurationDays,
		VideoExtensions:     cfg.Limits.VideoExtensions,
		ImageExtensions:     cfg.Limits.ImageExtensions,
		SplitOptions:        cfg.Media.SplitOptions,
		GIF:                 gifCaps,
		Archive:             linker != nil,
		Realtime:            true,
	}, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Public
	router.GET("/health", utilityHandler.Health)
	router.GET("/utility/algorithms", utilityHandler.Algorithms)
	router.GET("/formats", utilityHandler.Formats)
	router.GET("/split-options", utilityHandler.SplitOptions)
	router.GET("/stats", utilityHandler.Stats)
	router.GET("/s/:token", sessionHandler.Shared)

	// Session-scoped API (cookie or X-Session-ID)
	api := router.Group("")
	api.Use(middleware.Session(reg, cookie))
	{
		api.POST("/upload", uploadHandler.UploadVideo)
		api.POST("/upload/photo", uploadHandler.UploadPhoto)

		api.POST("/compress", compressHandler.CompressVideo)
		api.POST("/compress/photo", compressHandler.CompressPhoto)
		api.POST("/convert/video-to-gif", compressHandler.VideoToGIF)

		api.GET("/session/files", sessionHandler.Files)
		api.GET("/session/info", sessionHandler.Info)
		api.POST("/session/new", sessionHandler.New)
		api.POST("/session/clear", sessionHandler.Clear)
		api.DELETE("/session/files/:file_id", sessionHandler.Delete)
		api.DELETE("/delete/:file_id", sessionHandler.Delete)
		api.GET("/info/:file_id", sessionHandler.FileInfo)
		api.GET("/download/:file_id/:part", sessionHandler.Download)
		api.GET("/download/:file_id/:part/archive", sessionHandler.ArchiveLink)
		api.POST("/share/:file_id/:part", sessionHandler.Share)

		api.GET("/ws", realtime.ServeWs(hub, realtime.NewUpgrader(cfg.Server.CORSAllowedOrigins), logger))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Error("flush sessions", zap.Error(err))
	}
	logger.Info("server stopped")
}

// setupArchive connects Postgres and S3 when both are configured alongside Redis.
// Any failure disables archiving rather than stopping the server. The returned func
// releases the database pool and is never nil.
func setupArchive(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*archive.Archive, *queue.Queue, func()) {
	noop := func() {}
	if rdb == nil || !cfg.Database.Enabled() || cfg.AWS.OutputsBucket == "" {
		logger.Info("archive disabled", zap.Bool("redis", rdb != nil), zap.Bool("database", cfg.Database.Enabled()), zap.Bool("bucket", cfg.AWS.OutputsBucket != ""))
		return nil, nil, noop
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Warn("archive disabled: database", zap.Error(err))
		return nil, nil, noop
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		logger.Warn("archive disabled: migrate", zap.Error(err))
		return nil, nil, noop
	}
	s3Client, err := storage.NewS3(ctx, s3Config(cfg), logger)
	if err != nil {
		pool.Close()
		logger.Warn("archive disabled: s3", zap.Error(err))
		return nil, nil, noop
	}
	closePool := func() {
		pool.Close()
		logger.Info("archive database closed")
	}
	return archive.New(archive.NewRepository(pool), s3Client, logger), queue.NewQueue(rdb.Client, logger), closePool
}

func s3Config(cfg *config.Config) storage.S3Config {
	return storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		OutputsBucket:        cfg.AWS.OutputsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
