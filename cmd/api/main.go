package main

import (
	"context"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/utterlabs/utter/auth"
	"github.com/utterlabs/utter/broker"
	"github.com/utterlabs/utter/db"
	"github.com/utterlabs/utter/external"
	"github.com/utterlabs/utter/speech"
	"github.com/utterlabs/utter/storage"
	"github.com/utterlabs/utter/subscription"
	"github.com/utterlabs/utter/synthesis"
	"github.com/utterlabs/utter/usage"

	"github.com/TheZeroSlave/zapsentry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
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
			"component": "api",
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

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Message Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

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

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		StripeClient:   stripeClient,
		DB:             database,
		Logger:         logger,
		PathToPlanJSON: os.Getenv("PLANS_JSON_PATH"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	gate, err := subscription.NewGate(subscription.GateOptions{
		Source: subscriptionManager,
		Plans:  subscriptionManager,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize entitlement Gate",
			zap.Error(err),
		)
	}

	location := time.UTC
	if tz := os.Getenv("USAGE_TIMEZONE"); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			logger.Fatal("Invalid USAGE_TIMEZONE",
				zap.Error(err),
			)
		}
	}
	usageManager, err := usage.NewManager(logger, database, location)
	if err != nil {
		logger.Fatal("Cannot initialize UsageManager",
			zap.Error(err),
		)
	}

	jobManager, err := synthesis.NewManager(logger, database)
	if err != nil {
		logger.Fatal("Cannot initialize synthesis Manager",
			zap.Error(err),
		)
	}

	pollyClient := polly.NewFromConfig(awsCfg)
	synthesizer, err := speech.NewPolly(speech.PollyOptions{
		Client: pollyClient,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Polly synthesizer",
			zap.Error(err),
		)
	}
	voiceCatalog, err := speech.NewPollyCatalog(speech.PollyCatalogOptions{
		Client: pollyClient,
		Redis:  rdb,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize voice catalog",
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

	orchestrator, err := synthesis.NewOrchestrator(synthesis.OrchestratorOptions{
		Gate:        gate,
		Ledger:      usageManager,
		Jobs:        jobManager,
		Voices:      voiceCatalog,
		Synthesizer: synthesizer,
		Store:       storageManager,
		Publisher:   amqpBroker,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Orchestrator",
			zap.Error(err),
		)
	}

	synthesisRouter, err := synthesis.NewService(synthesis.ServiceOptions{
		Orchestrator:   orchestrator,
		JobManager:     jobManager,
		StorageManager: storageManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize synthesis Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize subscription Service Router",
			zap.Error(err),
		)
	}

	usageRouter, err := usage.NewService(usage.ServiceOptions{
		Gate:         gate,
		UsageManager: usageManager,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize usage Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	rootRouter.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Use(authManager.ClaimCheck())
		r.Mount("/synthesis", synthesisRouter.Router())
		r.Mount("/subscriptions", subscriptionRouter.Router())
		r.Mount("/usage", usageRouter.Router())
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":42069"
	}
	srv := &http.Server{
		Handler: rootRouter,
		Addr:    addr,
	}

	logger.Info("API listening",
		zap.String("Addr", addr),
	)
	log.Fatalln(srv.ListenAndServe())
}
