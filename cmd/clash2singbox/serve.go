package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/config"
	"github.com/John-Robertt/clash2singbox/internal/httpapi"
	"github.com/John-Robertt/clash2singbox/internal/logger"
	"github.com/spf13/cobra"
)

var (
	serveListen            string
	servePublicBaseURL     string
	serveReadHeaderTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 转换服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Server.Listen = serveListen
		}
		if cmd.Flags().Changed("public-base-url") {
			cfg.Server.PublicBaseURL = servePublicBaseURL
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP 监听地址（覆盖配置文件，默认 0.0.0.0:25500）")
	serveCmd.Flags().StringVar(&servePublicBaseURL, "public-base-url", "", "sing-box 访问本服务的外部地址，用于改写 rule-provider")
	serveCmd.Flags().DurationVar(&serveReadHeaderTimeout, "read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	rootCmd.AddCommand(serveCmd)
}

func handlerOptions(cfg *config.Config) httpapi.Options {
	return httpapi.Options{
		ConvertTimeout:         cfg.Server.ConvertTimeout,
		FetchTimeout:           cfg.Fetch.Timeout,
		FetchMaxBytes:          cfg.Fetch.MaxBytes,
		UserAgent:              cfg.Fetch.UserAgent,
		PublicBaseURL:          cfg.Server.PublicBaseURL,
		DisableFakeIP:          !cfg.Target.FakeIP,
		RulesetCacheTTL:        cfg.Ruleset.CacheTTL,
		RulesetCacheMaxEntries: cfg.Ruleset.CacheMaxEntries,
		Logger:                 logger.Log,
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           httpapi.NewHandlerWithOptions(handlerOptions(cfg)),
		ReadHeaderTimeout: serveReadHeaderTimeout,
	}

	logger.Log.Infof("listening on http://%s", cfg.Server.Listen)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Log.Warnf("graceful shutdown failed: %v", err)
			_ = srv.Close()
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
