package main

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/billing"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/handlers"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/search"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/worker"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/config"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/database"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/email"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/monitoring"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/redis"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/server"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("keepwatch")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Keepwatch (Log Ingestion and Query)")

	databaseURL := config.RequireEnv("DATABASE_URL")
	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	redisAddr := config.RequireEnv("REDIS_ADDR")
	brokersEnv := config.RequireEnv("KAFKA_BROKERS")
	clusterID := config.RequireEnv("KAFKA_CLUSTER_ID")
	jwtSecret := config.RequireEnv("JWT_SECRET")

	// Connect to PostgreSQL
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Connect to ClickHouse
	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouse(chConfig, logger)
	defer clickhouse.Close()

	// Apply embedded schemas
	if err := database.MigratePostgres(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply PostgreSQL schema")
	}
	if err := database.MigrateClickHouse(clickhouse, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply ClickHouse schema")
	}

	// Connect to Redis
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := redis.NewUniversalClient(ctx, redis.Config{
		Mode:     redis.Mode(config.GetEnv("REDIS_MODE", "single")),
		Addrs:    strings.Split(redisAddr, ","),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("keepwatch", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("keepwatch", version.Version, version.GitCommit)

	metrics := &handlers.Metrics{
		IngestDecisions: metricsCollector.NewCounter("ingest_decisions_total",
			"Ingestion pipeline outcomes", []string{"outcome"}),
	}
	quotaFailOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepwatch_quota_fail_open_total",
		Help: "Quota checks allowed because Redis was unavailable",
	})
	metricsCollector.RegisterCustomMetric("quota_fail_open_total", quotaFailOpen)

	// Setup Kafka producer
	brokers := strings.Split(brokersEnv, ",")
	producer, err := kafka.NewKafkaProducer(brokers, clusterID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	// Mailer for quota notices and email alarms
	mailer := email.NewSender(email.Config{
		Host:     config.GetEnv("SMTP_HOST", "localhost"),
		Port:     config.GetEnv("SMTP_PORT", "587"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("SMTP_FROM", "alerts@keepwatch.dev"),
		FromName: config.GetEnv("SMTP_FROM_NAME", "Keepwatch"),
	})

	// Wire the domain services
	st := store.New(db, logger)
	idx := search.New(clickhouse, logger)
	quota := billing.NewQuotaCounter(rdb, logger, quotaFailOpen)
	notifier := billing.NewNotifier(rdb, mailer, logger)
	services := handlers.NewServices(st, idx, producer, quota, notifier, logger, metrics)

	// Setup Kafka consumers for persistence and alarm evaluation
	groupID := config.GetEnv("KAFKA_GROUP_ID", "keepwatch")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "keepwatch")
	consumer, err := kafka.NewConsumer(brokers, groupID, clusterID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ingestor := worker.NewIngestor(st, idx, producer, logger)
	alarmWorker := worker.NewAlarmWorker(st, mailer, logger)

	ingestionHandler := kafka.NewIngestionEventHandler(ingestor.HandleIngestion, producer, logger)
	alarmHandler := kafka.NewAlarmEventHandler(alarmWorker.HandleAlarm, producer, logger)
	consumer.AddHandler(kafka.TopicLogIngestion, ingestionHandler.HandleMessage)
	consumer.AddHandler(kafka.TopicLogAlarm, alarmHandler.HandleMessage)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseHealthCheck(clickhouse))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(rdb))
	healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":    databaseURL,
		"CLICKHOUSE_HOST": clickhouseHost,
		"REDIS_ADDR":      redisAddr,
		"KAFKA_BROKERS":   brokersEnv,
	}))

	// HTTP API
	router := server.SetupServiceRouter(logger, "keepwatch", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router, services, guard.New([]byte(jwtSecret), st, logger))

	serverConfig := server.DefaultConfig("keepwatch", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}

	logger.Info("Keepwatch stopped")
}
