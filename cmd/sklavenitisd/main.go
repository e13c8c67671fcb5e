package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"greekcart-backend/lib/configutil"
	"greekcart-backend/lib/scrapers/sklavenitis"
	"greekcart-backend/lib/serviceutil"
	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"
	"greekcart-backend/services/httpapi"
	"greekcart-backend/services/mcptools"
	"greekcart-backend/services/probe"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseURL     string `json:"base_url"`
	SessionFile string `json:"session_file"`
	// Delivery slot window requested on cart writes, hours of the day.
	SlotStartHour int `json:"slot_start_hour"`
	SlotEndHour   int `json:"slot_end_hour"`
	HTTPPort      int `json:"http_port"`
}

type app struct {
	client *sklavenitis.Client
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
		config.HTTPPort = 9211
	}

	sessionFile := config.SessionFile
	if sessionFile == "" {
		sessionFile = session.DefaultPath("sklavenitis")
	}

	// The site walls its login behind a captcha, so the session rides on
	// cookies copied out of a browser, plus the store hub for the
	// configured zip code.
	var sessionOpts []session.Option
	if zipcode := os.Getenv("SKLAVENITIS_ZIPCODE"); zipcode != "" {
		if hubID, err := strconv.Atoi(zipcode); err == nil {
			sessionOpts = append(sessionOpts, session.WithZone(hubID))
		} else {
			slog.Warn("ignoring non-numeric SKLAVENITIS_ZIPCODE", "value", zipcode)
		}
	}
	if cookies := configutil.EnvCookies("SKLAVENITIS"); cookies != nil {
		sessionOpts = append(sessionOpts, session.WithCookies(cookies))
		slog.Info("browser cookies loaded from environment", "count", len(cookies))
	}
	auth := session.NewManager(sessionFile, sessionOpts...)

	client, err := sklavenitis.NewClient(sklavenitis.ClientOptions{
		BaseURL:       config.BaseURL,
		Auth:          auth,
		SlotStartHour: config.SlotStartHour,
		SlotEndHour:   config.SlotEndHour,
	})
	if err != nil {
		serviceutil.Fatal("failed to build client", err)
	}

	creds := storefront.Credentials{}
	if email, password, ok := configutil.EnvCredentials("SKLAVENITIS"); ok {
		creds = storefront.Credentials{Email: email, Password: password}
	}

	return &app{client: client, auth: auth, creds: creds, config: config}
}

func main() {
	ctx := serviceutil.SignalContext()
	serviceutil.SetupLogging(slog.LevelInfo)

	tel, err := telemetry.SetupFromEnv(ctx, "sklavenitisd")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer tel.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	root := &cobra.Command{
		Use:   "sklavenitisd",
		Short: "MCP server for the sklavenitis.gr storefront",
		Run: func(cmd *cobra.Command, args []string) {
			a := setup(ctx)
			s := mcptools.NewServer(mcptools.Options{
				Target:      "sklavenitis",
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
			if !a.auth.IsAuthenticated() {
				if _, err := a.client.Login(ctx, a.creds); err != nil {
					slog.Warn("cookie validation failed", "err", err)
				}
			}
			probe.Report(ctx, os.Stdout, a.client, a.auth)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("command failed", err)
	}
}
