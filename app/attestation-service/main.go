package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/attesto/attestation-service/api"
	"github.com/attesto/attestation-service/domain"
	"github.com/attesto/attestation-service/entities"
	"github.com/attesto/attestation-service/external/elastic"
	"github.com/attesto/attestation-service/external/kafka"
	"github.com/attesto/attestation-service/infrastructure/store/pebbledb"
	"github.com/attesto/attestation-service/metrics"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "ATTESTO_ATTESTATION_SERVICE"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		Server struct {
			HttpHost        string `conf:"default:0.0.0.0:8000"`
			MetricsHttpHost string `conf:"default:0.0.0.0:9999"`
			AdminToken      string `conf:"optional,mask"`
		}
		Store struct {
			Folder string `conf:"default:store"`
		}
		Protocol struct {
			MinRevealDelay  time.Duration `conf:"default:0s"`
			MaxRevealWindow time.Duration `conf:"default:5m"`
			EpochCacheTTL   time.Duration `conf:"default:1m"`
		}
		Kafka struct {
			Enabled          bool     `conf:"default:false"`
			BootstrapServers []string `conf:"default:localhost:9092"`
			ProofsTopic      string   `conf:"default:attesto-proofs"`
		}
		Elastic struct {
			Enabled         bool     `conf:"default:false"`
			Addresses       []string `conf:"default:https://localhost:9200"`
			Username        string   `conf:"default:attesto-ingestion"`
			Password        string   `conf:"optional,mask"`
			ProofIndex      string   `conf:"default:attesto-proofs"`
			CertificatePath string   `conf:"default:http_ca.crt"`
		}
		MetricsNamespace string `conf:"default:attestation_service"`
	}

	// load config
	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	store, err := pebbledb.NewStore(cfg.Store.Folder)
	if err != nil {
		return errors.Wrap(err, "creating store")
	}
	defer store.Close()

	epochCache := ttlcache.New[string, entities.WitnessEpoch](
		ttlcache.WithTTL[string, entities.WitnessEpoch](cfg.Protocol.EpochCacheTTL),
	)
	go epochCache.Start()

	epochs := domain.NewEpochManager(store, epochCache)
	ledger := domain.NewLedger(store)
	m := metrics.NewMetrics(cfg.MetricsNamespace)

	var sinks []domain.ProofSink
	if cfg.Kafka.Enabled {
		kafkaMetrics := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(kafkaMetrics),
			kgo.DefaultProduceTopic(cfg.Kafka.ProofsTopic),
			kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		sinks = append(sinks, kafka.NewClient(kcl))
		log.Printf("main: Publishing proofs to kafka topic [%s].", cfg.Kafka.ProofsTopic)
	}
	if cfg.Elastic.Enabled {
		cert, err := os.ReadFile(cfg.Elastic.CertificatePath)
		if err != nil {
			log.Printf("[WARN] main: could not read elastic certificate: %v", err)
		}
		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses:     cfg.Elastic.Addresses,
			Username:      cfg.Elastic.Username,
			Password:      cfg.Elastic.Password,
			CACert:        cert,
			RetryOnStatus: []int{502, 503, 504, 429},
		})
		if err != nil {
			return errors.Wrap(err, "creating elastic client")
		}
		sinks = append(sinks, elastic.NewClient(esClient, cfg.Elastic.ProofIndex))
		log.Printf("main: Indexing proofs into [%s].", cfg.Elastic.ProofIndex)
	}

	engine := domain.NewEngine(ledger, epochs, store, sinks, domain.Config{
		MinRevealDelay:  cfg.Protocol.MinRevealDelay,
		MaxRevealWindow: cfg.Protocol.MaxRevealWindow,
	}, m, sLogger)

	handler := api.NewHandler(engine, epochs, func() int64 { return time.Now().UnixMilli() })
	mux := http.NewServeMux()
	handler.Register(mux, cfg.Server.AdminToken)
	if cfg.Server.AdminToken == "" {
		log.Println("[WARN] main: no admin token configured, admin endpoints are disabled")
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting server on addr [%s].", cfg.Server.HttpHost)
		serverError <- http.ListenAndServe(cfg.Server.HttpHost, mux)
	}()

	metricsServerError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics server on addr [%s].", cfg.Server.MetricsHttpHost)
		http.Handle("/metrics", promhttp.Handler())
		metricsServerError <- http.ListenAndServe(cfg.Server.MetricsHttpHost, nil)
	}()

	log.Println("main: Service started.")

	for {
		select {
		case <-shutdown:
			log.Println("main: Received shutdown signal, shutting down...")
			return nil
		case err := <-serverError:
			return errors.Wrapf(err, "[ERROR] starting server endpoint(s).")
		case err := <-metricsServerError:
			return errors.Wrapf(err, "[ERROR] starting metrics endpoint.")
		}
	}
}
