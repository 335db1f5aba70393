package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tripline/internal/audit"
	"tripline/internal/config"
	"tripline/internal/ics"
	appLog "tripline/internal/log"
	"tripline/internal/oracle"
	"tripline/internal/session"
	"tripline/internal/store"
	"tripline/internal/timeline"
	"tripline/internal/web"
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "env_file", flags.envFile)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("tripline starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"oracle", conf.Oracle.Provider,
		"redis", conf.Cache.RedisAddr != "",
		"postgres", conf.Database.DSN != "",
		"audit_cron", conf.Audit.Cron,
		"audit_groups", len(conf.Audit.Groups),
		"feeds", len(conf.Feeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	repo, closeRepo, err := openStore(ctx, conf)
	if err != nil {
		appLog.Error("failed to open store", err)
		os.Exit(1)
	}
	defer closeRepo()

	client, closeOracle := openOracle(ctx, conf)
	defer closeOracle()

	state := restoreSession(conf, client.Cache())

	engine := timeline.NewEngine(client,
		timeline.WithLookupTimeout(conf.Oracle.Timeout),
		timeline.WithConcurrency(conf.Oracle.Concurrency),
	)
	auditor := audit.New(repo, engine, conf.Audit.HorizonDays, conf.Location())
	fetcher := ics.NewFetcher(conf.FeedCacheDir, conf.Oracle.Timeout)

	runAudit := func() {
		syncFeeds(ctx, conf, fetcher, repo)
		auditor.Run(ctx, conf.Audit.Groups)
	}

	if flags.once {
		runAudit()
		saveSession(conf, state, client.Cache())
		appLog.Info("tripline exiting")
		return
	}

	sched := cron.New()
	if conf.Audit.Cron != "" {
		if _, err := sched.AddFunc(conf.Audit.Cron, runAudit); err != nil {
			appLog.Error("invalid audit schedule", err, "cron", conf.Audit.Cron)
			os.Exit(1)
		}
		sched.Start()
		appLog.Info("audit scheduler started", "cron", conf.Audit.Cron)
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, repo, engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	<-sched.Stop().Done()
	saveSession(conf, state, client.Cache())
	appLog.Info("tripline exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tripline/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Import feeds, run one audit and exit")

	flag.Parse()

	return cfg
}

// openStore picks Postgres when a DSN is configured, memory otherwise.
func openStore(ctx context.Context, conf *config.Config) (store.Repository, func(), error) {
	if conf.Database.DSN == "" {
		appLog.Warn("no database configured; events are kept in memory")
		return store.NewMemoryRepository(), func() {}, nil
	}
	repo, err := store.OpenPostgres(ctx, conf.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { _ = repo.Close() }, nil
}

// openOracle builds the travel-time client. An unreachable Redis only
// disables the shared cache.
func openOracle(ctx context.Context, conf *config.Config) (*oracle.Client, func()) {
	var transport oracle.Transport
	switch conf.Oracle.Provider {
	case config.ProviderGoogle:
		if conf.Oracle.APIKey == "" {
			appLog.Warn("google oracle selected without API key; lookups will fail", "env", config.EnvOracleAPIKey)
		}
		transport = oracle.NewGoogleTransport(oracle.GoogleOptions{
			BaseURL:  conf.Oracle.BaseURL,
			APIKey:   conf.Oracle.APIKey,
			Mode:     conf.Oracle.Mode,
			Language: conf.Oracle.Language,
			Timeout:  conf.Oracle.Timeout,
		})
	default:
		transport = oracle.NewStaticTransport(conf.Oracle.Routes)
	}

	opts := []oracle.Option{oracle.WithTimeout(conf.Oracle.Timeout)}
	closeFn := func() {}
	if conf.Cache.RedisAddr != "" {
		rs := oracle.NewRedisStore(oracle.RedisOptions{
			Addr:     conf.Cache.RedisAddr,
			Password: conf.Cache.RedisPassword,
			DB:       conf.Cache.RedisDB,
			TTL:      conf.Cache.TTL,
		})
		pingCtx, done := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		done()
		if err != nil {
			appLog.Error("redis unavailable; using session cache only", err, "addr", conf.Cache.RedisAddr)
			_ = rs.Close()
		} else {
			opts = append(opts, oracle.WithStore(rs))
			closeFn = func() { _ = rs.Close() }
		}
	}
	return oracle.NewClient(transport, opts...), closeFn
}

func restoreSession(conf *config.Config, cache *oracle.Cache) *session.State {
	if conf.SessionPath == "" {
		return &session.State{}
	}
	st, err := session.Restore(conf.SessionPath)
	if err != nil {
		appLog.Error("session restore failed; starting fresh", err, "path", conf.SessionPath)
		return &session.State{}
	}
	st.Apply(cache)
	appLog.Info("session restored", "path", conf.SessionPath, "group", st.GroupID, "travel_entries", len(st.TravelCache))
	return st
}

func saveSession(conf *config.Config, st *session.State, cache *oracle.Cache) {
	if conf.SessionPath == "" {
		return
	}
	st.Capture(cache)
	if err := session.Save(conf.SessionPath, st); err != nil {
		appLog.Error("session save failed", err, "path", conf.SessionPath)
		return
	}
	appLog.Info("session saved", "path", conf.SessionPath, "travel_entries", len(st.TravelCache))
}

// syncFeeds imports every configured feed into its group. Failures are
// logged per feed.
func syncFeeds(ctx context.Context, conf *config.Config, f *ics.Fetcher, repo store.Repository) {
	loc := conf.Location()
	now := time.Now().In(loc)
	for _, fc := range conf.Feeds {
		feed := ics.Feed{ID: fc.ID, GroupID: fc.Group, URL: fc.URL}
		res, err := f.Fetch(ctx, feed)
		if err != nil {
			appLog.Error("feed fetch failed", err, "feed", fc.ID)
			continue
		}
		decoded, err := ics.Decode(fc.ID, res.Body, ics.ExpandConfig{
			GroupID:    fc.Group,
			Location:   loc,
			RangeStart: now.AddDate(0, 0, -1),
			RangeEnd:   now.AddDate(0, 0, 365),
		})
		if err != nil {
			appLog.Error("feed decode failed", err, "feed", fc.ID)
			continue
		}
		saved := 0
		for i := range decoded.Events {
			if err := repo.Save(ctx, &decoded.Events[i]); err != nil {
				appLog.Error("feed event save failed", err, "feed", fc.ID, "id", decoded.Events[i].ID)
				continue
			}
			saved++
		}
		appLog.Info("feed imported", "feed", fc.ID, "group", fc.Group, "events", saved, "from_cache", res.FromCache)
	}
}
