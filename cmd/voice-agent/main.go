package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/OtotaO/hipaa-voice-agent/internal/config"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/caller"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/eligibility"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/office"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scheduling"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scribe"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/voice"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/db"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/llm"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/mcp"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/middleware"
	"github.com/OtotaO/hipaa-voice-agent/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "voice-agent",
		Short: "HIPAA voice assistant backend",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(redactCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFS(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the built-in set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				if s.Modified {
					status = "modified"
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the built-in set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// routeCmd classifies an utterance locally and prints the result as JSON.
func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route [utterance...]",
		Short: "Route an utterance to a clinical intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			res := intent.NewRouter().Route(text)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func redactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redact [text...]",
		Short: "Redact PHI from text (reads stdin when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			detect, _ := cmd.Flags().GetBool("detect")
			mask, _ := cmd.Flags().GetString("mask")
			patterns, _ := cmd.Flags().GetString("patterns")

			redactor, err := buildRedactor(true, mask, patterns)
			if err != nil {
				return err
			}
			text, err := inputText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if detect {
				found := redactor.DetectPHI(text)
				if found == nil {
					found = []hipaa.Detection{}
				}
				return printJSON(cmd.OutOrStdout(), found)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), redactor.RedactString(text))
			return err
		},
	}
	cmd.Flags().Bool("detect", false, "Print PHI detections as JSON instead of redacted text")
	cmd.Flags().String("mask", "*", "Mask character")
	cmd.Flags().String("patterns", "", "YAML file with extra PHI patterns")
	return cmd
}

// mcpCmd serves the agent tools on stdio. Logs go to stderr since stdout is
// the transport.
func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve intent routing and PHI redaction as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, _ := cmd.Flags().GetString("mask")
			patterns, _ := cmd.Flags().GetString("patterns")

			logger := newLogger(os.Stderr, os.Getenv("ENV"))
			redactor, err := buildRedactor(true, mask, patterns)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(mcp.Config{Version: version}, intent.NewRouter(), redactor, nil, logger)
			logger.Info().Msg("mcp server listening on stdio")
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("mask", "*", "Mask character")
	cmd.Flags().String("patterns", "", "YAML file with extra PHI patterns")
	return cmd
}

func runServer() error {
	logger := newLogger(os.Stdout, os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// HIPAA core
	redactor, err := buildRedactor(cfg.PHIRedactionEnabled, cfg.PHIMaskCharacter, cfg.PHIPatternsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load PHI patterns")
	}
	auditStore := hipaa.NewPGAuditStore(pool)
	auditLogger := hipaa.NewAuditLogger(auditStore, redactor, cfg.AuditHMACSecret)

	var encryptor *hipaa.PHIEncryptor
	if key := cfg.EncryptionKey(); key != nil {
		if encryptor, err = hipaa.NewPHIEncryptor(key); err != nil {
			logger.Fatal().Err(err).Msg("failed to init PHI encryptor")
		}
	} else {
		logger.Warn().Msg("HIPAA_ENCRYPTION_KEY not set; raw eligibility responses will not be stored")
	}

	// Backends
	var chart *fhirclient.Client
	if cfg.FHIREnabled() {
		chart = fhirclient.New(ctx, fhirclient.Config{
			BaseURL:      cfg.MedplumBaseURL,
			TokenURL:     cfg.MedplumTokenURL,
			ClientID:     cfg.MedplumClientID,
			ClientSecret: cfg.MedplumClientSecret,
		}, redactor, logger)
	} else {
		logger.Warn().Msg("Medplum credentials not set; FHIR-backed commands are disabled")
	}
	gen := llm.New(cfg.AnthropicAPIKey, cfg.LLMModel, logger)

	// Domain services
	router := intent.NewRouter()
	scribeSvc := scribe.NewService(gen, redactor, auditLogger, logger)

	var voiceChart voice.ChartSource
	var patients eligibility.PatientSource
	if chart != nil {
		voiceChart = chart
		patients = chart
	}
	voiceSvc := voice.NewService(router, voiceChart, scribeSvc, redactor, auditLogger, logger)

	var messenger office.Messenger
	if chart != nil {
		messenger = chart
	}
	officeSvc := office.NewService(messenger, redactor, auditLogger, office.Location{
		Address: cfg.OfficeAddress,
		City:    cfg.OfficeCity,
		State:   cfg.OfficeState,
		Zip:     cfg.OfficeZip,
		Phone:   cfg.OfficePhone,
	}, logger)
	desk := voice.FrontDesk{Office: officeSvc}
	var scheduleSvc *scheduling.Service
	if chart != nil {
		scheduleSvc = scheduling.NewService(chart, redactor, auditLogger, scheduling.ServiceConfig{
			Location: cfg.Location(),
		}, logger)
		desk.Schedule = scheduleSvc
		desk.Callers = caller.NewVerifier(chart, auditLogger, caller.Config{
			SessionTTL:  time.Duration(cfg.CallerSessionTTLMinutes) * time.Minute,
			MaxAttempts: cfg.CallerMaxAttempts,
		}, logger)
	}
	voiceSvc.WithFrontDesk(desk)

	var house eligibility.Clearinghouse
	if cfg.StediAPIKey != "" {
		house = eligibility.NewStediClient(eligibility.StediConfig{
			BaseURL:      cfg.StediBaseURL,
			APIKey:       cfg.StediAPIKey,
			PracticeName: cfg.PracticeName,
			RPS:          cfg.StediRateLimitRPS,
		}, logger)
	}
	eligSvc := eligibility.NewService(eligibility.NewRepoPG(pool, encryptor), patients, house, auditLogger,
		eligibility.ServiceConfig{
			CacheSize: cfg.EligibilityCacheSize,
			CacheTTL:  time.Duration(cfg.EligibilityCacheTTLHours) * time.Hour,
		}, logger)

	// Retention
	retention := hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(cfg.AuditRetentionDays), auditLogger, logger)
	retention.RegisterPurger(hipaa.ResourceAuditEvent, auditStore)
	retention.RegisterPurger(hipaa.ResourceEligibilityCheck, eligSvc)
	if err := retention.Start(cfg.AuditRetentionSchedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule retention purge")
	}
	defer retention.Stop()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger, redactor.RedactString))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(256<<10, map[string]int64{"/api/v1/scribe/": 4 << 20}))
	e.Use(middleware.Sanitize(logger))

	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}
	e.Use(middleware.Audit(logger, auditRecorder(auditLogger, logger)))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(20*time.Second, map[string]time.Duration{
		"/api/v1/scribe/":        90 * time.Second,
		"/api/v1/voice/commands": 90 * time.Second,
		"/api/v1/eligibility/":   45 * time.Second,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"backends": map[string]bool{
				"fhir":          chart != nil,
				"clearinghouse": house != nil,
				"llm":           cfg.AnthropicAPIKey != "",
				"encryption":    encryptor != nil,
			},
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, logger))

	voice.NewHandler(voiceSvc).RegisterRoutes(apiV1)
	scribe.NewHandler(scribeSvc).RegisterRoutes(apiV1)
	eligibility.NewHandler(eligSvc).RegisterRoutes(apiV1)
	office.NewHandler(officeSvc).RegisterRoutes(apiV1)
	if scheduleSvc != nil {
		scheduling.NewHandler(scheduleSvc).RegisterRoutes(apiV1)
	}
	hipaa.NewHandler(redactor, auditLogger).RegisterRoutes(apiV1)
	hipaa.NewRetentionHandler(retention).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(w io.Writer, env string) zerolog.Logger {
	if env == "development" || env == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func buildRedactor(enabled bool, mask, patternsFile string) (*hipaa.Redactor, error) {
	if err := hipaa.ValidateMaskChar(mask); err != nil {
		return nil, err
	}
	var extra []hipaa.PHIPattern
	if patternsFile != "" {
		var err error
		if extra, err = hipaa.LoadPatternFile(patternsFile); err != nil {
			return nil, err
		}
	}
	return hipaa.NewRedactor(hipaa.RedactorConfig{
		Enabled:       enabled,
		MaskChar:      mask,
		ExtraPatterns: extra,
	}), nil
}

// auditRecorder writes middleware access entries to the tamper-evident
// audit log. Entries without a patient reference are only logged.
func auditRecorder(audit *hipaa.AuditLogger, logger zerolog.Logger) middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		if entry.PatientRef == "" {
			return nil
		}
		ev := hipaa.NewEvent(hipaa.EventPHIAccess, entry.UserID, entry.Action)
		ev.PatientRef = entry.PatientRef
		if entry.Status >= http.StatusBadRequest {
			ev.Outcome = hipaa.OutcomeFailure
			if entry.Status == http.StatusForbidden {
				ev.Outcome = hipaa.OutcomeDenied
			}
		}
		ev.Details = map[string]any{
			"route":       entry.Route,
			"method":      entry.Method,
			"resource":    entry.Resource,
			"status_code": entry.Status,
			"request_id":  entry.RequestID,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := audit.LogEvent(ctx, ev); err != nil {
			logger.Error().Err(err).Str("request_id", entry.RequestID).Msg("failed to persist access audit")
			return err
		}
		return nil
	})
}

// inputText joins args, or reads all of r when there are none.
func inputText(r io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	var b strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for sc.Scan() {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sc.Text())
	}
	return b.String(), sc.Err()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
