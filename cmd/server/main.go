package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/filevault/internal/conf"
	"github.com/lk2023060901/filevault/internal/data"
	"github.com/lk2023060901/filevault/internal/file/biz"
	filedata "github.com/lk2023060901/filevault/internal/file/data"
	"github.com/lk2023060901/filevault/internal/file/service"
	"github.com/lk2023060901/filevault/internal/pkg/logger"
	"github.com/lk2023060901/filevault/internal/pkg/workerpool"
	"github.com/lk2023060901/filevault/internal/server"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}

	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := logger.InitGlobal(logConfig); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize blob backend
	var blob biz.BlobStore
	switch config.Storage.Backend {
	case "minio":
		blob, err = filedata.NewMinIOBlobStore(context.Background(), d.MinIO, config.MinIO.Bucket)
	default:
		blob, err = filedata.NewFSBlobStore(config.Storage.Root, log.Logger)
	}
	if err != nil {
		log.Fatal("failed to initialize blob store", zap.Error(err))
	}

	// Initialize repositories and use case
	contentRepo := filedata.NewContentRepo(d.DB)
	fileRepo := filedata.NewFileRepo(d.DB)
	transactor := filedata.NewTransactor(d.DB)
	notifier := filedata.NewRedisNotifier(d.Redis, config.Storage.IndexQueueKey, log.Logger)

	contentStore := biz.NewContentStore(contentRepo, blob, log.Logger)
	pipeline := biz.NewHashingPipeline(config.Storage.MaxUploadSize)
	fileUseCase := biz.NewFileUseCase(fileRepo, contentStore, pipeline, transactor, notifier, log.Logger)

	// Worker pool for batch uploads
	pool, err := workerpool.New(&workerpool.Config{
		Workers:   config.Worker.Workers,
		QueueSize: config.Worker.QueueSize,
	}, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Close()

	// Initialize service and server
	fileService := service.NewFileService(fileUseCase, pool, log.Logger)
	httpServer := server.NewHTTPServer(config, log, fileService)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
