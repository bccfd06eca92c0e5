package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/analysis"
	"market-oracle-bot/internal/broadcast"
	"market-oracle-bot/internal/cache"
	"market-oracle-bot/internal/chart"
	"market-oracle-bot/internal/database"
	"market-oracle-bot/internal/fundamentals"
	"market-oracle-bot/internal/gate"
	"market-oracle-bot/internal/lock"
	"market-oracle-bot/internal/market"
	"market-oracle-bot/internal/metrics"
	"market-oracle-bot/internal/news"
	"market-oracle-bot/internal/pipeline"
	"market-oracle-bot/internal/scheduler"
	"market-oracle-bot/internal/telegram"
	"market-oracle-bot/internal/types"
	"market-oracle-bot/lib/translation"
)

const metricsSaveInterval = 5 * time.Minute

func init() {
	config.InitConfig()

	pflag.Bool("once", false, "run a single pass and exit")
	pflag.Bool("dry-run", false, "evaluate and render without writing snapshots or sending messages")
	pflag.String("run-type", "routine", "pass kind for --once: routine or digest")
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)

	setupLogging()
}

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	translation.Configure("locales", settings.Delivery.Lang)

	db, err := database.Open(settings.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	m := metrics.New()
	m.Load(context.Background(), db)

	sec, err := fundamentals.NewSEC(settings.SECUserAgent)
	if err != nil {
		log.Fatalf("Failed to create fundamentals provider: %v", err)
	}
	aux := cache.New(db, news.NewYahooRSS(), sec, settings.Cache, cache.WithFetchTimeout(settings.FetchTimeout))

	dryRun := viper.GetBool("dry-run")
	p, closeLock, err := buildPipeline(settings, db, aux, m, dryRun)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer closeLock()

	if viper.GetBool("once") {
		kind := types.ParsePassKind(viper.GetString("run-type"))
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err := p.Run(ctx, kind)
		m.Save(context.Background(), db)
		if err != nil {
			log.Fatalf("Pass failed: %v", err)
		}
		return
	}

	sched := scheduler.New(settings.Schedule,
		func(ctx context.Context, kind types.PassKind) error {
			_, err := p.Run(ctx, kind)
			return err
		},
		func(ctx context.Context) error {
			_, err := aux.Prune(ctx)
			return err
		},
	)
	if err := sched.Register(); err != nil {
		log.Fatalf("Failed to schedule passes: %v", err)
	}
	sched.Start()

	go func() {
		for {
			time.Sleep(metricsSaveInterval)
			m.Save(context.Background(), db)
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		sched.Stop()
		m.Save(context.Background(), db)
		db.Close()
		closeLock()
		log.Info("Metrics saved, shutting down...")
		os.Exit(0)
	}()

	if err := launchMetricsAndHealthServer(settings.MetricsPort, m, db); err != nil {
		log.Fatalf("Failed to start metrics and health server: %v", err)
	}
}

func setupLogging() {
	log.SetLevel(log.ErrorLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	if lvl := config.GetString("log_level"); lvl != "" {
		level, err := log.ParseLevel(lvl)
		if err != nil {
			log.Warnf("Unknown log level %q, keeping %s", lvl, log.GetLevel())
		} else {
			log.SetLevel(level)
		}
	}
	log.Debug("Starting market oracle...")
}

func buildPipeline(s config.Settings, db *database.DB, aux *cache.Cache, m *metrics.Metrics, dryRun bool) (*pipeline.Pipeline, func(), error) {
	paprika, err := market.NewPaprika(s.APIProKey)
	if err != nil {
		return nil, nil, err
	}

	deps := pipeline.Deps{
		Market:   market.Router{Stocks: market.NewYahooChart(), Crypto: paprika},
		Store:    db,
		Cache:    aux,
		Gate:     gate.New(s.Gate),
		Analyzer: analysis.NewClient(s.Analyzer),
		Metrics:  m,
	}

	if s.Delivery.ChartsEnabled {
		var opts []chart.Option
		if s.Delivery.ChartFont != "" {
			font, err := chart.LoadFont(s.Delivery.ChartFont)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, chart.WithFont(font))
		}
		deps.Charts = chart.NewRenderer(opts...)
	}

	if !dryRun {
		bot, err := telegram.NewBot(telegram.BotConfig{
			Token: s.Delivery.BotToken,
			Debug: s.Debug,
		})
		if err != nil {
			return nil, nil, err
		}
		deps.Dispatcher = broadcast.NewDispatcher(bot, s.Delivery, broadcast.WithWorkers(s.Workers))
	}

	closeLock := func() {}
	if s.RedisAddr != "" {
		rl, err := lock.NewRedis(s.RedisAddr, s.RedisPassword, s.LockTTL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "redis lock unavailable")
		}
		deps.Locker = rl
		closeLock = func() { rl.Close() }
	}

	p := pipeline.New(deps,
		pipeline.WithWorkers(s.Workers),
		pipeline.WithFetchTimeout(s.FetchTimeout),
		pipeline.WithDryRun(dryRun),
	)
	return p, closeLock, nil
}

func launchMetricsAndHealthServer(port int, m *metrics.Metrics, db *database.DB) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	log.Infof("Launching metrics and health endpoint on :%d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
