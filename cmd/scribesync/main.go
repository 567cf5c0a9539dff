package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/adapters/auth"
	"github.com/zatekoja/scribesync/internal/adapters/events"
	"github.com/zatekoja/scribesync/internal/adapters/remote"
	"github.com/zatekoja/scribesync/internal/adapters/storage"
	"github.com/zatekoja/scribesync/internal/api/handlers"
	"github.com/zatekoja/scribesync/internal/api/routes"
	"github.com/zatekoja/scribesync/internal/application/services"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	"github.com/zatekoja/scribesync/internal/infrastructure/clients/dynamodb"
	"github.com/zatekoja/scribesync/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/scribesync/internal/infrastructure/clients/redis"
	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
	"github.com/zatekoja/scribesync/pkg/config"
	"github.com/zatekoja/scribesync/pkg/secrets"
)

func main() {
	vaultCfg := secrets.ConfigFromEnv()
	vaultResult, err := secrets.Apply(context.Background(), vaultCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load secrets from vault: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Server.Env, cfg.Server.LogLevel)
	if vaultCfg.Enabled {
		log.Info().Str("path", vaultResult.Path).Int("loaded", vaultResult.Loaded).Int("skipped", vaultResult.Skipped).Msg("Secrets loaded from vault")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	ownerID := cfg.Sync.OwnerID
	if ownerID == "" {
		log.Warn().Msg("SYNC_OWNER_ID is not set; remote writes will be rejected and hydration will fail")
	}

	var redisClient *redis.Client
	if cfg.Sync.LocalBackend == config.LocalBackendRedis || cfg.Sync.LifecycleEventsEnabled {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis client")
		}
		defer redisClient.Close()
	}

	var localStorage providers.LocalStorage
	switch cfg.Sync.LocalBackend {
	case config.LocalBackendRedis:
		localStorage = storage.NewRedisStorage(redisClient, ownerID)
	default:
		localStorage = storage.NewMemoryStorage()
		log.Warn().Msg("Local storage is in-memory; local state is lost on restart")
	}

	credentials, err := buildCredentials(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure credentials")
	}

	tables := services.TableNames{
		Patients:           cfg.Tables.Patients,
		Consultations:      cfg.Tables.Consultations,
		ClinicalNotes:      cfg.Tables.ClinicalNotes,
		TranscriptSegments: cfg.Tables.TranscriptSegments,
		Templates:          cfg.Tables.Templates,
	}

	recordStore, closeStore, err := buildRecordStore(ctx, cfg, tables, credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize remote record store")
	}
	defer closeStore()

	queue := services.NewSyncQueue()
	queue.SetMetrics(metrics)
	dispatcher := services.NewSyncDispatcher(queue, recordStore, tables,
		services.WithSegmentBatchLimit(cfg.Sync.SegmentBatchLimit))
	dispatcher.SetMetrics(metrics)

	storeOpts := []services.StoreOption{}
	if cfg.Sync.Enabled {
		storeOpts = append(storeOpts, services.WithDispatcher(dispatcher))
	}
	store := services.NewDomainStore(ownerID, localStorage, storeOpts...)

	hydration := services.NewHydrationService(recordStore, tables, ownerID,
		services.WithOwnerIndex(cfg.Tables.OwnerIndex),
		services.WithHydrationConcurrency(cfg.Sync.HydrationConcurrency))
	hydration.SetMetrics(metrics)

	var syncController handlers.SyncController
	var coordinator *services.SyncCoordinator
	var eventBus providers.EventBus
	if cfg.Sync.Enabled {
		coordinator = services.NewSyncCoordinator(store, dispatcher, hydration, credentials,
			services.WithFlushInterval(cfg.Sync.FlushInterval),
			services.WithStaleThreshold(cfg.Sync.StaleThreshold))

		if cfg.Sync.LifecycleEventsEnabled {
			eventBus = events.NewRedisEventBus(redisClient)
		} else {
			eventBus = events.NewMemoryEventBus()
		}
		coordinator.SetEventBus(eventBus)

		if err := coordinator.Init(ctx); err != nil {
			log.Warn().Err(err).Msg("Sync initialization finished with errors")
		}
		syncController = coordinator
	} else {
		if err := store.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to load local state")
		}
		log.Info().Msg("Background sync disabled")
	}

	router := routes.NewRouter(
		handlers.NewSyncHandler(syncController, ownerID),
		handlers.NewPatientHandler(store),
		handlers.NewConsultationHandler(store),
		handlers.NewTemplateHandler(store),
		metrics,
	).WithAllowedOrigins(cfg.Server.AllowedOrigins)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}
	if coordinator != nil {
		if err := coordinator.Dispose(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Final flush failed")
		}
	}
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing event bus")
		}
	}

	log.Info().Msg("Server stopped")
}

// buildCredentials selects the credential supplier: a Cognito identity pool
// when configured, static keys otherwise
func buildCredentials(ctx context.Context, cfg *config.Config) (providers.CredentialProvider, error) {
	if cfg.AWS.UsesCognito() {
		awsCfg, err := dynamodb.LoadAWSConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		cognito := auth.NewCognitoCredentialProvider(
			dynamodb.NewCognitoClient(awsCfg),
			cfg.AWS.IdentityPoolID,
			cfg.AWS.UserPoolProviderName,
			auth.NewFileTokenSource(cfg.AWS.IDTokenFile),
		)
		log.Info().Str("identity_pool", cfg.AWS.IdentityPoolID).Msg("Using Cognito identity pool credentials")
		return cognito, nil
	}

	if cfg.AWS.HasStaticKeys() {
		return auth.NewStaticCredentialProvider(providers.Credentials{
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			SessionToken:    cfg.AWS.SessionToken,
		}), nil
	}

	if cfg.Sync.RemoteBackend == config.RemoteBackendDynamoDB {
		return nil, errors.New("dynamodb backend requires Cognito or static AWS credentials")
	}
	return nil, nil
}

// buildRecordStore creates the remote record store for the configured backend
func buildRecordStore(ctx context.Context, cfg *config.Config, tables services.TableNames, credentials providers.CredentialProvider) (providers.RecordStore, func(), error) {
	switch cfg.Sync.RemoteBackend {
	case config.RemoteBackendDynamoDB:
		awsCfg, err := dynamodb.LoadAWSConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewClient(awsCfg, nil)
		if credentials != nil {
			client = dynamodb.NewClient(awsCfg, auth.AWSCredentials(credentials))
		}
		return remote.NewDynamoDBRecordStore(client), func() {}, nil

	case config.RemoteBackendPostgres:
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := remote.NewPostgresRecordStore(pgClient.DB(), tables.Schemas(),
			remote.WithOwnerIndexName(cfg.Tables.OwnerIndex))
		if err := store.EnsureSchema(ctx); err != nil {
			pgClient.Close()
			return nil, nil, err
		}
		return store, func() { pgClient.Close() }, nil

	default:
		var opts []remote.MemoryOption
		if cfg.Tables.OwnerIndex != "" {
			for _, table := range []string{tables.Patients, tables.Consultations, tables.ClinicalNotes, tables.Templates} {
				opts = append(opts, remote.WithIndex(table, cfg.Tables.OwnerIndex, services.AttrOwnerUserID))
			}
		}
		log.Warn().Msg("Remote record store is in-memory; nothing leaves this process")
		return remote.NewMemoryRecordStore(tables.Schemas(), opts...), func() {}, nil
	}
}
