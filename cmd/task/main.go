package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/utterlabs/utter/auth"
	"github.com/utterlabs/utter/db"
	"github.com/utterlabs/utter/storage"
	"github.com/utterlabs/utter/synthesis"
	"github.com/utterlabs/utter/task"

	"github.com/TheZeroSlave/zapsentry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	sweepInterval := flag.Duration("interval", time.Hour, "how often the retention sweep runs")
	flag.Parse()

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "task",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	database, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	defer rdb.Close()
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(os.Getenv("AWS_REGION")),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			os.Getenv("AWS_ACCESS_KEY_ID"),
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			"",
		)),
	)
	if err != nil {
		logger.Fatal("Cannot load AWS configuration",
			zap.Error(err),
		)
	}

	jobManager, err := synthesis.NewManager(logger, database)
	if err != nil {
		logger.Fatal("Cannot initialize synthesis Manager",
			zap.Error(err),
		)
	}

	storageManager, err := storage.NewManager(storage.ManagerOptions{
		Client: s3.NewFromConfig(awsCfg),
		Logger: logger,
		Bucket: os.Getenv("S3_BUCKET"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize artifact store",
			zap.Error(err),
		)
	}

	retentionDays := 0
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		retentionDays, err = strconv.Atoi(v)
		if err != nil {
			logger.Fatal("Invalid RETENTION_DAYS",
				zap.Error(err),
			)
		}
	}

	retentionTask, err := task.NewRetentionTask(task.RetentionOptions{
		Jobs:          jobManager,
		Store:         storageManager,
		Redis:         rdb,
		Logger:        logger,
		RetentionDays: retentionDays,
	})
	if err != nil {
		logger.Fatal("Cannot get retention task",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	ticker := time.NewTicker(*sweepInterval)
	defer ticker.Stop()

	go func() {
		if err := retentionTask.Run(ctx); err != nil {
			logger.Error("Retention sweep failed",
				zap.Error(err),
			)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := retentionTask.Run(ctx); err != nil {
					logger.Error("Retention sweep failed",
						zap.Error(err),
					)
				}
			}
		}
	}()

	logger.Info("Retention task started",
		zap.Duration("Interval", *sweepInterval),
	)

	<-c
	cancel()
}
