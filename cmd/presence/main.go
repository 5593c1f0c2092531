package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/internal/service_registry"
	"github.com/benmeehan/presence-engine/internal/transport/broadcast"
	"github.com/benmeehan/presence-engine/internal/utils"
	"github.com/benmeehan/presence-engine/pkg/file"
	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/benmeehan/presence-engine/pkg/mqtt"
	"github.com/benmeehan/presence-engine/pkg/notify"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(config.Logging.Level); err == nil {
		log = log.Level(level)
	} else {
		log.Warn().Str("level", config.Logging.Level).Msg("Unknown log level, keeping info")
		log = log.Level(zerolog.InfoLevel)
	}
	if config.Logging.Pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx := context.Background()

	// Shared keyed store
	var keyed store.KeyedStore
	if config.Redis.Enabled {
		keyed, err = store.NewRedisStore(ctx, store.RedisOptions{
			Addr:                    config.Redis.Addr,
			Password:                config.Redis.Password,
			DB:                      config.Redis.DB,
			DialTimeout:             config.Redis.DialTimeout,
			ConfigureKeyspaceEvents: config.Redis.ConfigureKeyspaceEvents,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
	} else {
		log.Warn().Msg("Redis disabled, using the in-process store; state is not shared between instances")
		keyed = store.NewMemoryStore(time.Second, log)
	}
	defer keyed.Close()

	// Device catalog and history ledger
	deps := service_registry.Dependencies{Store: keyed}
	if config.Database.DSN != "" {
		db, err := repository.OpenMySQL(config.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open database")
		}
		deps.Catalog = repository.NewGormCatalog(db)
		deps.Ledger = repository.NewGormLedger(db)
	} else {
		catalog := repository.NewMemoryCatalog()
		if config.Catalog.SeedFile != "" {
			n, err := catalog.LoadSeed(config.Catalog.SeedFile, fileClient)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load device catalog")
			}
			log.Info().Int("devices", n).Msg("Device catalog loaded")
		}
		deps.Catalog = catalog
		deps.Ledger = repository.NewMemoryLedger()
	}

	// Alert delivery
	if config.Notifications.ServiceURL != "" {
		deps.Notifier = notify.NewHTTPNotifier(config.Notifications.ServiceURL, config.Notifications.Token, config.Notifications.Timeout)
	} else {
		deps.Notifier = notify.LogNotifier{Logger: log}
	}
	if config.Notifications.MapsAPIKey != "" {
		geocoder, err := location.NewGoogleGeocoder(config.Notifications.MapsAPIKey, config.Notifications.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create geocoder")
		}
		deps.Resolver = geocoder
	}

	// Subscriber broadcasts
	var mqttClient *mqtt.MqttService
	if config.MQTT.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.NewString()
		log.Info().Msgf("Using MQTT Client ID: %s", clientID)

		mqttClient = mqtt.NewMqttService(fileClient)
		if err := mqttClient.Initialize(mqtt.Options{
			Broker:     config.MQTT.Broker,
			ClientID:   clientID,
			Username:   config.MQTT.Username,
			Password:   config.MQTT.Password,
			CACertPath: config.MQTT.CACertificate,
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		deps.Broadcaster = broadcast.NewMQTTBroadcaster(config.MQTT.TopicPrefix, config.MQTT.QOS, mqttClient, log)
	} else {
		deps.Broadcaster = broadcast.LogBroadcaster{Logger: log}
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(log)
	if err := serviceRegistry.RegisterServices(config, deps); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().
		Dur("liveness_window", config.LivenessWindow()).
		Dur("debounce_window", config.DebounceWindow()).
		Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}
