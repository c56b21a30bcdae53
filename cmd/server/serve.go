package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"webauth-backend/internal/api"
	"webauth-backend/internal/auth"
	"webauth-backend/internal/conf"
	"webauth-backend/internal/data"
	"webauth-backend/internal/metrics"
	"webauth-backend/internal/provider/github"
	"webauth-backend/internal/provider/google"
	"webauth-backend/internal/provider/local"
	"webauth-backend/internal/provider/oauth"
	"webauth-backend/internal/server"
	"webauth-backend/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// load config
	cfg, err := conf.Load(flagconf)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger = newLogger(cfg.Log.Level)

	// 手动依赖注入
	// data 层
	stateStore, err := data.NewStateStore(ctx, cfg.Auth.StateStore)
	if err != nil {
		return fmt.Errorf("failed to init state store: %w", err)
	}
	defer stateStore.Close()

	// auth 层
	providers, err := buildProviders(cfg.Auth.Providers)
	if err != nil {
		return err
	}
	codec := auth.NewCookieCodec(auth.CookieOptions{
		Names: auth.CookieNames{
			AccessToken:  cfg.Auth.Token.CookieNames.AccessToken,
			RefreshToken: cfg.Auth.Token.CookieNames.RefreshToken,
			Provider:     cfg.Auth.Token.CookieNames.Provider,
			TokenType:    cfg.Auth.Token.CookieNames.TokenType,
		},
		MaxAge: cfg.Auth.Token.MaxAge,
		Domain: cfg.Auth.Token.Domain,
		Secure: cfg.Auth.Token.Secure,
	})
	registry, err := auth.NewRegistry(auth.RegistryOptions{
		DefaultKey: cfg.Auth.DefaultProvider,
		Codec:      codec,
		Logger:     logger,
	}, providers...)
	if err != nil {
		return fmt.Errorf("failed to init provider registry: %w", err)
	}
	logger.Info("auth providers registered", "providers", registry.Keys(), "default", registry.Default().Key())

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	// service 层
	authService := service.NewAuthService(registry, service.Options{
		BaseURL: cfg.Server.BaseURL,
		Redirects: service.Redirects{
			IfLoggedIn:    cfg.Auth.Redirects.IfLoggedIn,
			IfNotLoggedIn: cfg.Auth.Redirects.IfNotLoggedIn,
		},
		StateStore: stateStore,
		Metrics:    m,
		Logger:     logger,
	})
	// api 层
	router := api.NewRouter(api.NewAuthHandler(authService), api.RouterOptions{
		SessionMiddleware: codec.SessionMiddleware(),
		Metrics:           m,
	})

	return server.New(cfg.Server.Addr, router, logger).Run(ctx)
}

func buildProviders(cfg conf.Providers) ([]auth.Provider, error) {
	var providers []auth.Provider

	if cfg.Local != nil {
		p, err := local.New(*cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to init local provider: %w", err)
		}
		providers = append(providers, p)
	}
	if g := cfg.Github; g != nil {
		p, err := github.New(github.Config{
			ClientID:      g.ClientID,
			ClientSecret:  g.ClientSecret,
			SigningSecret: g.SigningSecret,
			Scopes:        g.Scopes,
			Endpoints:     endpoints(g),
			EmailURL:      g.EmailURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init github provider: %w", err)
		}
		providers = append(providers, p)
	}
	if g := cfg.Google; g != nil {
		p, err := google.New(google.Config{
			ClientID:      g.ClientID,
			ClientSecret:  g.ClientSecret,
			SigningSecret: g.SigningSecret,
			Scopes:        g.Scopes,
			Endpoints:     endpoints(g),
			VerifyIDToken: g.VerifyIDToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init google provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func endpoints(o *conf.OAuth) oauth.Endpoints {
	return oauth.Endpoints{
		AuthURL:     o.AuthURL,
		TokenURL:    o.TokenURL,
		UserInfoURL: o.UserInfoURL,
		RevokeURL:   o.RevokeURL,
	}
}
