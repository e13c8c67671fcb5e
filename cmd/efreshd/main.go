package main

import (
	"context"
	"log/slog"
	"os"

	"greekcart-backend/lib/configutil"
	"greekcart-backend/lib/scrapers/efresh"
	"greekcart-backend/lib/serviceutil"
	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"
	"greekcart-backend/lib/webcache"
	"greekcart-backend/services/httpapi"
	"greekcart-backend/services/mcptools"
	"greekcart-backend/services/probe"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseURL  string `json:"base_url"`
	Language string `json:"language"`
	// SessionFile overrides the default per-target session path.
	SessionFile string `json:"session_file"`
	// CacheFile is the sqlite search cache; empty disables caching.
	CacheFile string `json:"cache_file"`
	// ActiveOrderStatuses overrides the statuses counted as active.
	ActiveOrderStatuses []string `json:"active_order_statuses"`
	HTTPPort            int      `json:"http_port"`
}

type app struct {
	client *efresh.Client
	auth   *session.Manager
	creds  storefront.Credentials
	config Config
}

func setup(ctx context.Context) *app {
	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.HTTPPort == 0 {
		config.HTTPPort = 9210
	}

	sessionFile := config.SessionFile
	if sessionFile == "" {
		sessionFile = session.DefaultPath("efresh")
	}
	auth := session.NewManager(sessionFile)

	var cache *webcache.Cache
	if config.CacheFile != "" {
		cache, err = webcache.Open(config.CacheFile)
		if err != nil {
			serviceutil.Fatal("failed to open search cache", err)
		}
	}

	client, err := efresh.NewClient(efresh.ClientOptions{
		BaseURL:        config.BaseURL,
		Language:       config.Language,
		Auth:           auth,
		Cache:          cache,
		ActiveStatuses: config.ActiveOrderStatuses,
	})
	if err != nil {
		serviceutil.Fatal("failed to build client", err)
	}

	creds := storefront.Credentials{}
	if email, password, ok := configutil.EnvCredentials("EFRESH"); ok {
		creds = storefront.Credentials{Email: email, Password: password}
		slog.Info("credentials loaded from environment", "email", email)
	} else {
		slog.Warn("EFRESH_EMAIL/EFRESH_PASSWORD not set, authenticated tools need a manual login")
	}

	return &app{client: client, auth: auth, creds: creds, config: config}
}

func main() {
	ctx := serviceutil.SignalContext()
	serviceutil.SetupLogging(slog.LevelInfo)

	tel, err := telemetry.SetupFromEnv(ctx, "efreshd")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer tel.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	root := &cobra.Command{
		Use:   "efreshd",
		Short: "MCP server for the e-fresh.gr storefront",
		Run: func(cmd *cobra.Command, args []string) {
			a := setup(ctx)
			s := mcptools.NewServer(mcptools.Options{
				Target:      "efresh",
				Client:      a.client,
				Credentials: a.creds,
			})
			if err := server.ServeStdio(s); err != nil {
				serviceutil.Fatal("stdio server failed", err)
			}
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "http",
		Short: "Serve the REST mirror of the tool surface",
		Run: func(cmd *cobra.Command, args []string) {
			a := setup(ctx)
			handler := httpapi.NewHandler(httpapi.Options{Client: a.client, Auth: a.auth})
			if err := serviceutil.StartHTTPServer(ctx, a.config.HTTPPort, handler); err != nil {
				serviceutil.Fatal("http server failed", err)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Print session, cart and order state for debugging",
		Run: func(cmd *cobra.Command, args []string) {
			a := setup(ctx)
			if a.creds.Email != "" && !a.auth.IsAuthenticated() {
				if _, err := a.client.Login(ctx, a.creds); err != nil {
					slog.Warn("login failed", "err", err)
				}
			}
			probe.Report(ctx, os.Stdout, a.client, a.auth)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("command failed", err)
	}
}
