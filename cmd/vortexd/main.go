// Command vortexd starts the VortexDB hybrid search gateway.
//
// It wires configuration, the Qdrant backend, the dense/BM25/SPLADE/cross-
// encoder set, the job engine, and the full security stack behind the Echo
// HTTP surface in internal/api.
//
// Configuration is loaded from a YAML file layered under environment
// variables. See internal/config for the authoritative variable list.
//
// Usage:
//
//	# Start the gateway with defaults
//	vortexd
//
//	# Point at a specific config file and Qdrant instance
//	VORTEXDB_CONFIG=/etc/vortexdb/config.yaml QDRANT_URL=http://localhost:6334 vortexd
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/api"
	"github.com/vortexdb/vortex/internal/audit"
	"github.com/vortexdb/vortex/internal/chunker"
	"github.com/vortexdb/vortex/internal/config"
	"github.com/vortexdb/vortex/internal/defense"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/encryption"
	"github.com/vortexdb/vortex/internal/hybrid"
	"github.com/vortexdb/vortex/internal/idservice"
	"github.com/vortexdb/vortex/internal/ingest"
	"github.com/vortexdb/vortex/internal/jobs"
	"github.com/vortexdb/vortex/internal/logging"
	"github.com/vortexdb/vortex/internal/quota"
	"github.com/vortexdb/vortex/internal/ratelimit"
	"github.com/vortexdb/vortex/internal/security"
	"github.com/vortexdb/vortex/internal/telemetry"
	"github.com/vortexdb/vortex/internal/users"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Printf("vortexd %s (%s)\n", version, gitCommit)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "usage:\n  vortexd           start the gateway\n  vortexd version  print version info\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("vortexd: %v", err)
	}
	log.Println("vortexd: shutdown complete")
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(os.Getenv("VORTEXDB_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		logCfg.Level = lvl
	}
	loggerWrapper, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := loggerWrapper.Underlying()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting vortexd",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.String("engine", cfg.VectorDB.Engine),
	)

	telCfg := telemetry.NewDefaultConfig()
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	} else {
		defer func() { _ = tel.Shutdown(ctx) }()
	}

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init dependencies: %w", err)
	}
	defer deps.Close()

	srv := api.New(api.Config{
		Store:       deps.store,
		Encoders:    deps.encoders,
		Hybrid:      deps.hybridPipeline,
		Ingest:      deps.ingestSvc,
		Jobs:        deps.jobEngine,
		Users:       deps.userStore,
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		Security:    deps.security,
		Log:         logger,
		ShutdownSec: int(cfg.Server.ShutdownTimeout / time.Second),
	})
	srv.RegisterJobHandlers(deps.jobEngine)

	jobErrCh := make(chan error, 1)
	go func() {
		jobErrCh <- deps.jobEngine.Start(ctx)
	}()

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	logger.Info("gateway listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx, addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		<-jobErrCh
		return nil
	}
}

// dependencies holds every constructed collaborator so run can close them
// in reverse order on shutdown.
type dependencies struct {
	store          vectorstore.Client
	encoders       encoders.Set
	hybridPipeline *hybrid.Pipeline
	ingestSvc      *ingest.Service
	jobEngine      *jobs.Engine
	userStore      *users.Store
	security       *security.Middleware
	auditLog       *audit.Log
	jobsDB         *sql.DB
	securityDB     *sql.DB
	redisClient    *redis.Client
}

func (d *dependencies) Close() {
	if d.auditLog != nil {
		_ = d.auditLog.Close()
	}
	if d.jobsDB != nil {
		_ = d.jobsDB.Close()
	}
	if d.securityDB != nil {
		_ = d.securityDB.Close()
	}
	if d.redisClient != nil {
		_ = d.redisClient.Close()
	}
	if d.encoders.Dense != nil {
		_ = d.encoders.Dense.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store, err := newVectorStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	encSet, err := newEncoderSet(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoders: %w", err)
	}
	if bm25, ok := encSet.BM25.(*encoders.VectorizerBM25); ok && cfg.BM25.Path != "" {
		if err := bm25.Load(cfg.BM25.Path); err != nil {
			logger.Warn("bm25: no persisted model found, starting unfitted", zap.String("path", cfg.BM25.Path), zap.Error(err))
		} else {
			logger.Info("bm25: loaded persisted model", zap.String("path", cfg.BM25.Path))
		}
	}

	jobsDB, err := sql.Open("sqlite3", cfg.Jobs.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs db %s: %w", cfg.Jobs.DBPath, err)
	}

	securityDB, err := sql.Open("sqlite3", cfg.Security.DBPath)
	if err != nil {
		_ = jobsDB.Close()
		return nil, fmt.Errorf("open security db %s: %w", cfg.Security.DBPath, err)
	}

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		_ = jobsDB.Close()
		_ = securityDB.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	cache := hybrid.NewSemanticCache(store, 0.95)
	hybridPipeline := hybrid.New(store, encSet, logger, cache)

	ids := idservice.New()
	keys := encryption.NewKeyStore()
	encSvc := encryption.New(keys)

	ingestSvc := ingest.New(store, encSet, ids, encSvc, logger, ingest.Config{}, chunker.Split)

	jobEngine, err := jobs.New(jobsDB, logger, jobs.Config{
		BM25Cooldown: time.Duration(cfg.BM25.CooldownMin) * time.Minute,
	})
	if err != nil {
		_ = jobsDB.Close()
		_ = securityDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("job engine: %w", err)
	}

	userStore, err := users.New(securityDB)
	if err != nil {
		return nil, fmt.Errorf("user store: %w", err)
	}

	auditLog, err := audit.New(audit.Config{
		CriticalPath: cfg.Jobs.SnapshotDir + "/audit-critical.log",
		HotPath:      cfg.Jobs.SnapshotDir + "/audit-hot.log",
		StatePath:    cfg.Jobs.SnapshotDir + "/audit-state.json",
	})
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, logger)
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	detector := defense.NewInjectionDetector(nil)
	quotaMgr := quota.New(redisClient)

	secMW := security.New(security.Config{
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		APIKeys:     map[string]access.User{},
		RateLimiter: limiter,
		RateMax:     100,
		RateWindow:  time.Minute,
		Detector:    detector,
		Quota:       quotaMgr,
		AuditLog:    auditLog,
		Log:         logger,
	})

	return &dependencies{
		store:          store,
		encoders:       encSet,
		hybridPipeline: hybridPipeline,
		ingestSvc:      ingestSvc,
		jobEngine:      jobEngine,
		userStore:      userStore,
		security:       secMW,
		auditLog:       auditLog,
		jobsDB:         jobsDB,
		securityDB:     securityDB,
		redisClient:    redisClient,
	}, nil
}

func newVectorStore(cfg *config.Config) (vectorstore.Client, error) {
	u, err := url.Parse(cfg.Qdrant.URL)
	if err != nil {
		return nil, fmt.Errorf("parse QDRANT_URL: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		port = 6334
	}
	return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: string(cfg.Qdrant.APIKey),
		UseTLS: u.Scheme == "https",
	})
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newEncoderSet wires the dense, BM25, SPLADE, and cross-encoder
// implementations behind encoders.Set. Dense and cross-encoder call out to
// the embedding/rerank services named by DENSE_EMBEDDING_URL and
// CROSSENCODER_URL; BM25 is an in-process corpus-fit vectorizer; SPLADE is
// gated by ENABLE_SPLADE.
func newEncoderSet(cfg *config.Config) (encoders.Set, error) {
	dense, err := encoders.NewRemoteDense(encoders.RemoteDenseConfig{
		BaseURL:   getEnv("DENSE_EMBEDDING_URL", "http://localhost:8081"),
		Model:     getEnv("DENSE_EMBEDDING_MODEL", "default"),
		Dimension: getEnvInt("DENSE_EMBEDDING_DIM", 768),
		Timeout:   10 * time.Second,
	})
	if err != nil {
		return encoders.Set{}, fmt.Errorf("dense encoder: %w", err)
	}

	bm25 := encoders.NewBM25()

	splade := encoders.NewRemoteSplade(encoders.SpladeConfig{
		BaseURL:   getEnv("SPLADE_URL", "http://localhost:8082"),
		ModelName: cfg.Splade.ModelName,
		MaxLength: cfg.Splade.MaxLength,
		Threshold: float32(cfg.Splade.Threshold),
		TopK:      getEnvInt("SPLADE_TOP_K", 32),
		Enabled:   cfg.Splade.Enabled,
		Timeout:   10 * time.Second,
	})

	var cross encoders.CrossEncoder
	if crossURL := os.Getenv("CROSSENCODER_URL"); crossURL != "" {
		cross = encoders.NewRemoteCrossEncoder(encoders.RemoteCrossEncoderConfig{
			BaseURL: crossURL,
			Model:   getEnv("CROSSENCODER_MODEL", "default"),
			Timeout: 10 * time.Second,
		})
	} else {
		cross = encoders.NewLexicalCrossEncoder()
	}

	return encoders.Set{
		Dense:        dense,
		BM25:         bm25,
		SPLADE:       splade,
		CrossEncoder: cross,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
