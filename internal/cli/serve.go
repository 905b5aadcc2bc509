package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mzli/pillarflow/internal/config"
	"github.com/mzli/pillarflow/internal/httpapi"
	"github.com/mzli/pillarflow/internal/otel"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port         int
		dev          bool
		planPath     string
		autoAdvance  bool
		advanceDelay time.Duration
		dbDriver     string
		dbURL        string
		envFile      string
		enableOtel   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Pillarflow HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			var metricsHandler http.Handler
			if enableOtel {
				h, err := otel.InitMeterProvider(cmd.Context(), "pillarflow")
				if err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				if err := otel.InitMetrics(cmd.Context()); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				metricsHandler = h
			}

			if dbURL == "" {
				dbURL = os.Getenv("DATABASE_URL")
			}

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Home:           home,
				Addr:           fmt.Sprintf("127.0.0.1:%d", port),
				Dev:            dev,
				APIKey:         os.Getenv("PILLARFLOW_API_KEY"),
				DBDriver:       dbDriver,
				DBURL:          dbURL,
				PlanPath:       planPath,
				AutoAdvance:    autoAdvance,
				AdvanceDelay:   advanceDelay,
				MetricsHandler: metricsHandler,
				UseOtelHTTP:    enableOtel,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pillarflow listening on http://%s\n", app.Server.Addr)

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Server.ListenAndServe()
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return app.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 4710, "Port for the HTTP API")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&planPath, "plan", "", "YAML task plan (default: <home>/plan.yaml, falls back to built-in plan)")
	cmd.Flags().BoolVar(&autoAdvance, "auto-advance", true, "Navigate to the next ready task after a completion")
	cmd.Flags().DurationVar(&advanceDelay, "advance-delay", 0, "Delay before auto-navigation (default 1s)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP/SSE/task instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
