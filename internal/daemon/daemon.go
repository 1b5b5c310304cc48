// Package daemon wires the services together and runs the admin HTTP server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	sdktransfer "github.com/aws/aws-sdk-go/service/transfer"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/awsutil"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/config"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/httpapi"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/version"
)

const shutdownTimeout = 30 * time.Second

type Options struct {
	Config config.Config
	Logger *slog.Logger
}

// Run serves the API until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Config
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			Release:          "sftpadmin@" + version.Version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	d, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer d.Close()
	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}

	secret, err := resolveSecret(ctx, cfg, d, log)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(secret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return err
	}

	sess, err := awsutil.NewSession(cfg.AWS, cfg.S3.ForcePathStyle)
	if err != nil {
		return err
	}
	dir := transfer.New(sdktransfer.New(sess), transfer.Options{
		ServerID: cfg.Transfer.ServerID,
		RoleARN:  cfg.IAM.RoleARN,
		Bucket:   cfg.S3.BucketName,
		Logger:   log,
	})

	storeOpt := objectstore.Options{
		Bucket:            cfg.S3.BucketName,
		Region:            cfg.AWS.Region,
		Endpoint:          cfg.AWS.Endpoint,
		ForcePathStyle:    cfg.S3.ForcePathStyle,
		Credentials:       sess.Config.Credentials,
		UploadMaxSize:     cfg.S3.UploadMaxSize,
		DownloadMaxExpiry: time.Duration(cfg.DownloadMaxExpires) * time.Second,
		Logger:            log,
	}
	if cfg.Redis.URL != "" && cfg.FolderStatsTTL > 0 {
		cache, err := objectstore.NewRedisStatsCache(ctx, cfg.Redis.URL, time.Duration(cfg.FolderStatsTTL)*time.Second, log)
		if err != nil {
			// Stats are recomputed from S3 without a cache.
			log.Warn("folder stats cache disabled", "err", err)
		} else {
			defer cache.Close()
			storeOpt.Cache = cache
		}
	}
	files := objectstore.New(s3.New(sess), storeOpt)

	rec := audit.New(d, log)
	var reg *prometheus.Registry
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	api, err := httpapi.New(httpapi.Options{
		Accounts: accounts.New(d, dir, accounts.Options{
			Bucket: cfg.S3.BucketName,
			Audit:  rec,
			Logger: log,
		}),
		Tokens:         tokens,
		Files:          files,
		Dashboard:      dashboard.New(d, dir, files, log),
		Audit:          rec,
		ServerID:       cfg.Transfer.ServerID,
		SFTPHost:       cfg.SFTPHost(),
		Env:            cfg.Env,
		Debug:          cfg.Debug,
		CORSOrigins:    cfg.CORS.Origins,
		RateLimit:      cfg.RateLimit.PerMinute,
		TrustedProxies: cfg.TrustedProxies,
		Registry:       reg,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return serve(ctx, srv, log)
}

func serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "version", version.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// resolveSecret prefers the configured key, then the one persisted by setup.
// Outside production the development secret is the last resort.
func resolveSecret(ctx context.Context, cfg config.Config, d *db.DB, log *slog.Logger) (string, error) {
	if cfg.JWT.SecretKey != "" {
		return cfg.JWT.SecretKey, nil
	}
	s, ok, err := d.JWTSecret(ctx)
	if err != nil {
		return "", err
	}
	if ok && s != "" {
		return s, nil
	}
	if cfg.IsProduction() {
		return "", errors.New("JWT_SECRET_KEY must be set in production")
	}
	log.Warn("using development JWT secret")
	return config.DevJWTSecret, nil
}
