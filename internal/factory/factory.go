package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"powerguard-service/internal/alert"
	"powerguard-service/internal/audit"
	"powerguard-service/internal/authgate"
	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/client"
	"powerguard-service/internal/config"
	"powerguard-service/internal/encryption"
	"powerguard-service/internal/hashing"
	"powerguard-service/internal/models"
	"powerguard-service/internal/orchestrator"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/repository/memory"
	redisrepo "powerguard-service/internal/repository/redis"
	"powerguard-service/internal/repository/scylla"
	"powerguard-service/internal/tlsconf"
	"powerguard-service/internal/tracking"
	"powerguard-service/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tlsconf.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        *kms.Client

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	credentials repository.CredentialRepository
	events      repository.EventRepository
	sessions    repository.SessionRepository
	status      repository.StatusRepository
	users       repository.UserRepository
	limiter     repository.NotifyLimiter

	// Core pipeline
	gate         *authgate.Gate
	dispatcher   *alert.Dispatcher
	tracker      *tracking.Manager
	orchestrator *orchestrator.Orchestrator
	auditSink    audit.Sink

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tlsconf.NewManager(&cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	factory.initializePipeline()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage_backend", cfg.Storage.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB (skipped entirely on the memory backend)
	if f.config.Storage.Backend != "memory" {
		if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = sc
			if err := f.scyllaClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if ec, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - audit search disabled", util.ErrorField(err))
	} else {
		f.esClient = ec
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if cc, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - audit rows disabled", util.ErrorField(err))
	} else {
		f.clickhouseClient = cc
		util.Info("ClickHouse client initialized and healthy")
	}

	// KMS
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("aws config: %w", err))
		} else {
			f.kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized", util.String("region", f.config.KMS.Region))
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	f.encryptionManager = encryption.NewEncryptionManager(f.config, f.kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)

	return nil
}

func (f *Factory) initializeRepositories() error {
	backend := f.config.Storage.Backend
	if backend != "memory" && f.scyllaClient == nil {
		if f.config.IsProduction() {
			return fmt.Errorf("scylla backend selected but client unavailable")
		}
		util.Warn("ScyllaDB unavailable, falling back to in-memory storage")
		backend = "memory"
	}

	switch backend {
	case "memory":
		f.credentials = memory.NewCredentialStore()
		f.events = memory.NewEventStore()
		f.sessions = memory.NewSessionStore()
		f.status = memory.NewStatusStore()
		f.users = memory.NewUserStore()
	default:
		f.credentials = scylla.NewCredentialRepository(f.scyllaClient)
		f.events = scylla.NewEventRepository(f.scyllaClient)
		f.sessions = scylla.NewSessionRepository(f.scyllaClient, f.encryptionManager)
		f.status = scylla.NewStatusRepository(f.scyllaClient)
		f.users = scylla.NewUserRepository(f.scyllaClient)
	}

	if f.redisClient != nil {
		f.limiter = redisrepo.NewNotifyLimiter(f.redisClient)
	} else {
		util.Warn("Redis unavailable, using in-process notify limiter")
		f.limiter = memory.NewNotifyLimiter()
	}

	return nil
}

func (f *Factory) initializePipeline() {
	var channels []alert.Channel
	if f.kafkaProducer != nil {
		channels = append(channels,
			alert.NewPushChannel(f.config, f.kafkaProducer),
			alert.NewMessageChannel(f.config, f.kafkaProducer),
		)
	} else {
		util.Warn("No Kafka producer, alert fan-out has no channels")
	}

	if f.clickhouseClient != nil || f.esClient != nil {
		f.auditSink = audit.NewRecorder(f.config, f.clickhouseClient, f.esClient)
	} else {
		f.auditSink = audit.NopSink{}
	}

	f.dispatcher = alert.NewDispatcher(f.config, channels, f.users, f.events, f.limiter)
	f.tracker = tracking.NewManager(f.config, f.sessions, f.bucketingManager)
	f.tracker.OnClose(func(session *models.TrackingSession) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		f.dispatcher.SendSummary(ctx, session)
	})

	f.orchestrator = orchestrator.New(f.events, f.status, f.dispatcher, f.tracker, f.bucketingManager, f.auditSink)
	f.gate = authgate.NewGate(f.config, f.credentials, f.hasher, f.bucketingManager, f.orchestrator)
}

// StartBackground launches the session expiry sweeper; it stops when ctx is done.
func (f *Factory) StartBackground(ctx context.Context) {
	f.tracker.StartSweeper(ctx, f.config.Security.ExpirySweepPeriod)
}

// HealthCheck reports the health of every initialized dependency
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tlsconf.Manager {
	return f.tlsManager
}

func (f *Factory) Gate() *authgate.Gate {
	return f.gate
}

func (f *Factory) Orchestrator() *orchestrator.Orchestrator {
	return f.orchestrator
}

func (f *Factory) Tracker() *tracking.Manager {
	return f.tracker
}

func (f *Factory) UserRepository() repository.UserRepository {
	return f.users
}
