// Command tts-service runs the speech synthesis gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/redis/go-redis/v9"

	"github.com/Discord-TTS/tts-service/cache"
	"github.com/Discord-TTS/tts-service/config"
	"github.com/Discord-TTS/tts-service/credentials"
	"github.com/Discord-TTS/tts-service/gateway"
	"github.com/Discord-TTS/tts-service/identity"
	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/metrics"
	"github.com/Discord-TTS/tts-service/server"
	"github.com/Discord-TTS/tts-service/translate"
	"github.com/Discord-TTS/tts-service/tts"
)

const gcloudAudience = "https://texttospeech.googleapis.com/"

func main() {
	if err := run(); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioCache, err := buildCache(cfg)
	if err != nil {
		return err
	}

	engines, err := buildEngines(ctx, cfg)
	if err != nil {
		return err
	}

	var dispatcherOpts []gateway.Option
	var languages server.LanguageLister
	if cfg.DeepLKey != "" {
		deepl := translate.New(cfg.DeepLKey, translate.WithBaseURL(cfg.DeepLURL))
		dispatcherOpts = append(dispatcherOpts, gateway.WithTranslator(deepl))
		languages = deepl
	}

	dispatcher := gateway.New(audioCache, engines, dispatcherOpts...)

	serverOpts := []server.Option{
		server.WithMetricsHandler(metrics.Handler(metrics.NewRegistry())),
	}
	if cfg.AuthKey != "" {
		serverOpts = append(serverOpts, server.WithAuthKey(cfg.AuthKey))
	}
	if languages != nil {
		serverOpts = append(serverOpts, server.WithLanguageLister(languages))
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.New(dispatcher, serverOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.BindAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildCache(cfg *config.Config) (*cache.AudioCache, error) {
	var opts []cache.Option
	if cfg.RemoteCacheEnabled() {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		tier := cache.NewRemoteTier(
			redis.NewClient(redisOpts),
			cache.NewCipher(cfg.CacheEncryptionKey),
		)
		opts = append(opts, cache.WithRemoteTier(tier))
		logger.Info("Remote cache tier enabled")
	}
	return cache.New(cfg.CacheMaxCapacity, opts...)
}

func buildEngines(ctx context.Context, cfg *config.Config) ([]tts.Engine, error) {
	block := netip.Prefix{}
	if cfg.RotationEnabled() {
		parsed, err := cfg.AddressBlock()
		if err != nil {
			return nil, err
		}
		block = parsed
	}

	rotator, err := identity.New(ctx, block, tts.GTTSProbe(""))
	if err != nil {
		return nil, err
	}

	engines := []tts.Engine{
		tts.NewGTTSEngine(rotator),
		tts.NewESpeakEngine(),
	}

	if cfg.GoogleCredentials != "" {
		account, err := credentials.LoadServiceAccount(cfg.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		manager, err := credentials.NewManager(account, gcloudAudience)
		if err != nil {
			return nil, err
		}
		engines = append(engines, tts.NewGCloudEngine(manager))
		logger.Info("gCloud backend enabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Warn("Polly backend disabled", "error", err)
	} else {
		engines = append(engines, tts.NewPollyEngine(polly.NewFromConfig(awsCfg)))
	}

	return engines, nil
}
