// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/auth"
	"github.com/yourusername/scanforge/internal/config"
	"github.com/yourusername/scanforge/internal/converter"
	"github.com/yourusername/scanforge/internal/jobs"
	"github.com/yourusername/scanforge/internal/logging"
	"github.com/yourusername/scanforge/internal/ocr"
	"github.com/yourusername/scanforge/internal/pdf"
	"github.com/yourusername/scanforge/internal/storage"
)

const (
	serviceName    = "scanforge-api"
	serviceVersion = "0.1.0"
	sweepInterval  = time.Minute
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Options{Format: "console"}).Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// gin.Default の Logger は使わず zerolog でアクセスログを出す
	router := gin.New()
	router.Use(logging.GinMiddleware(logging.Component(logger, "http")), gin.Recovery())

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer app.close()

	// ルーティングの設定
	setupRoutes(router, cfg, app)

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}

// app はルーティングが必要とする依存をまとめたものです。
type app struct {
	logger    zerolog.Logger
	pdf       *pdf.Service
	auth      *auth.Manager
	registry  *converter.Registry
	converter *converter.Handler
	jobs      *jobs.Manager
	ocr       *ocr.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pdfService, err := pdf.NewService(cfg, logging.Component(logger, "pdf"))
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, pdf: pdfService}

	engine, err := ocr.New(cfg.OCRLanguage)
	switch {
	case errors.Is(err, ocr.ErrNotEnabled):
		logger.Info().Msg("OCR is not compiled in; OCR requests will be rejected")
	case err != nil:
		logger.Warn().Err(err).Msg("failed to initialize OCR engine")
	default:
		a.ocr = engine
		pdfService.SetOCREngine(engine)
	}

	previews, err := storage.NewLocal(filepath.Join(cfg.WorkDir, "previews"))
	if err != nil {
		return nil, err
	}
	convLogger := logging.Component(logger, "converter")
	a.registry = converter.NewRegistry(func() (*converter.Controller, error) {
		return converter.New(converter.Options{
			Store:       previews,
			MaxFileSize: cfg.MaxFileSize,
			MaxImages:   cfg.MaxImages,
			Logger:      convLogger,
		})
	}, time.Duration(cfg.WorkspaceIdleMinutes)*time.Minute, convLogger)
	go a.registry.Run(ctx, sweepInterval)

	a.converter = converter.NewHandler(a.registry, auth.WorkspaceKey, cfg.MaxFileSize, convLogger)

	a.auth = auth.NewManager(cfg, auth.NewLocalProvider(cfg.AppUsername, cfg.AppPasswordHash), logging.Component(logger, "auth"))
	a.auth.OnLogout(a.registry.Drop)

	manager, err := setupJobs(cfg, pdfService, logging.Component(logger, "jobs"))
	if err != nil {
		// Redis がなくても小さい出力は同期で処理できる
		logger.Warn().Err(err).Msg("job queue unavailable; exports run synchronously")
	} else {
		manager.StartWorkers()
		a.jobs = manager
	}
	return a, nil
}

func (a *app) close() {
	if a.jobs != nil {
		if err := a.jobs.Shutdown(context.Background()); err != nil {
			a.logger.Warn().Err(err).Msg("job manager shutdown failed")
		}
	}
	if err := a.ocr.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("OCR engine close failed")
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func (a *app) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    serviceName,
		"version":    serviceVersion,
		"ocr":        a.pdf.OCRAvailable(),
		"asyncJobs":  a.jobs != nil,
		"workspaces": a.registry.Len(),
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, a *app) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", a.handleHealth)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", a.auth.Login)
			authRoutes.GET("/session", a.auth.GetSession)
			authRoutes.POST("/logout",
				a.auth.RequireLogin(),
				a.auth.VerifyCSRF(),
				a.auth.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(a.auth.RequireLogin(), a.auth.VerifyCSRF())

		conv := protected.Group("/converter")
		{
			h := a.converter
			conv.GET("", h.GetState)
			conv.POST("/images", h.Ingest)
			conv.DELETE("/images", h.Clear)
			conv.DELETE("/images/:id", h.Remove)
			conv.GET("/images/:id/preview", h.Preview)
			conv.POST("/images/:id/rotate", h.RotateOne)
			conv.PUT("/order", h.Reorder)
			conv.POST("/rotate", h.RotateAll)
			conv.PUT("/settings", h.UpdateSettings)
			conv.POST("/editor", h.OpenEditor)
			conv.DELETE("/editor", h.CancelEditor)
			conv.POST("/editor/tool", h.ApplyTool)
			conv.PUT("/editor/crop", h.SetCropBox)
			conv.POST("/editor/commit", h.Commit)

			opts := pdf.HandlerOptions{
				AsyncThresholdBytes: cfg.AsyncThresholdBytes,
				AsyncThresholdPages: cfg.AsyncThresholdPages,
			}
			if a.jobs != nil {
				opts.Scheduler = &exportJobScheduler{manager: a.jobs}
			}
			conv.POST("/export", pdf.ExportHandler(a.pdf, h.ExportSource, opts))
		}

		jobRoutes := protected.Group("/jobs")
		{
			jobRoutes.GET("/:id", jobStatusHandler(a.jobs))
			jobRoutes.GET("/:id/events", jobEventsHandler(a.jobs, a.logger))
			jobRoutes.POST("/:id/cancel", jobCancelHandler(a.jobs))
			jobRoutes.GET("/:id/download", jobDownloadHandler(a.pdf))
		}
	}
}
