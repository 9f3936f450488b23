package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/stellarlink/internal/account"
	"github.com/hitoshi/stellarlink/internal/config"
	"github.com/hitoshi/stellarlink/internal/database"
	"github.com/hitoshi/stellarlink/internal/handler"
	"github.com/hitoshi/stellarlink/internal/logger"
	"github.com/hitoshi/stellarlink/internal/metrics"
	"github.com/hitoshi/stellarlink/internal/middleware"
	"github.com/hitoshi/stellarlink/internal/repository"
	"github.com/hitoshi/stellarlink/internal/security"
	"github.com/hitoshi/stellarlink/internal/stellar"
	"github.com/hitoshi/stellarlink/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前のエラーも記録できるようにInfoで初期化しておく
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Int("link_limit", cfg.LinkLimit),
		slog.String("key_validation", string(cfg.KeyValidation)),
		slog.Bool("horizon_enabled", cfg.HorizonURL != ""),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はワイヤリング済みのHTTPハンドラーと後始末処理を保持する。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

func (s *server) close() {
	s.rateLimiter.Stop()
}

// newServer は設定とDB接続から全依存関係をワイヤリングする。
func newServer(cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. リポジトリとトランザクション
	userRepo := repository.NewPostgresUserRepo(db)
	accountRepo := repository.NewPostgresLinkedAccountRepo(db)
	transactor := repository.NewPostgresTransactor(db)

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. Horizon照会（HORIZON_URL設定時のみ）
	var verifier stellar.AccountVerifier
	if cfg.HorizonURL != "" {
		guard := security.NewOutboundGuard()
		port, err := guard.ValidateBaseURL(cfg.HorizonURL)
		if err != nil {
			return nil, fmt.Errorf("invalid HORIZON_URL: %w", err)
		}
		var extraPorts []int
		if port != 0 {
			extraPorts = append(extraPorts, port)
		}
		verifier = stellar.NewHorizonClient(cfg.HorizonURL, guard.NewSafeClient(cfg.HorizonTimeout, extraPorts...))
	}

	// 4. ドメインサービス
	registry := account.NewRegistry(account.RegistryConfig{
		LinkLimit:              cfg.LinkLimit,
		AutoPrimaryOnFirstLink: cfg.AutoPrimaryOnFirstLink,
		KeyValidation:          cfg.KeyValidation,
	}, account.RegistryDeps{
		Tx:       transactor,
		Accounts: accountRepo,
		Verifier: verifier,
		Metrics:  collector,
	})
	primary := account.NewPrimarySelector(transactor, collector)
	userService := user.NewService(userRepo, accountRepo, transactor)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigFromPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLink),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		JWTSecret:         []byte(cfg.JWTSecret),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		AccountService:    handler.NewAccountServiceAdapter(registry),
		PrimaryService:    primary,
		UserService:       handler.NewUserServiceAdapter(userService),
	})

	return &server{handler: router, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	srv, err := newServer(cfg, db)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("changed", status.Changed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
