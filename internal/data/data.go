package data

import (
	"fmt"

	"github.com/lk2023060901/filevault/internal/conf"
	filedata "github.com/lk2023060901/filevault/internal/file/data"
	"github.com/lk2023060901/filevault/internal/pkg/database"
	"github.com/lk2023060901/filevault/internal/pkg/logger"
	"github.com/lk2023060901/filevault/internal/pkg/minio"
	"github.com/lk2023060901/filevault/internal/pkg/redis"
)

// Data holds the shared datasource handles for the application.
type Data struct {
	DB     *database.DB
	Redis  *redis.Client
	MinIO  *minio.Client // nil when the fs storage backend is configured
	Logger *logger.Logger
}

// NewData initializes all datasources and returns a cleanup function.
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := initDB(config, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	redisClient, err := initRedis(config, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var minioClient *minio.Client
	if config.Storage.Backend == "minio" {
		minioClient, err = initMinIO(config, log)
		if err != nil {
			redisClient.Close()
			db.Close()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
	}

	d := &Data{
		DB:     db,
		Redis:  redisClient,
		MinIO:  minioClient,
		Logger: log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis client")
		}
		if err := db.Close(); err != nil {
			log.Warn("failed to close database")
		}
	}

	return d, cleanup, nil
}

func initDB(config *conf.Config, log *logger.Logger) (*database.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Host = config.Database.Host
	dbCfg.Port = config.Database.Port
	dbCfg.User = config.Database.User
	dbCfg.Password = config.Database.Password
	dbCfg.DBName = config.Database.DBName
	dbCfg.SSLMode = config.Database.SSLMode

	db, err := database.New(dbCfg, log)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&filedata.ContentPO{}, &filedata.FilePO{}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	log.Info("database initialized successfully")
	return db, nil
}

func initRedis(config *conf.Config, log *logger.Logger) (*redis.Client, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.MasterAddr = fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port)
	redisCfg.Password = config.Redis.Password
	redisCfg.DB = config.Redis.DB

	return redis.New(redisCfg, log)
}

func initMinIO(config *conf.Config, log *logger.Logger) (*minio.Client, error) {
	minioCfg := minio.DefaultConfig()
	minioCfg.Endpoint = config.MinIO.Endpoint
	minioCfg.AccessKeyID = config.MinIO.AccessKey
	minioCfg.SecretAccessKey = config.MinIO.SecretKey
	minioCfg.UseSSL = config.MinIO.UseSSL

	return minio.NewClient(minioCfg, log.Logger)
}
