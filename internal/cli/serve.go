package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/httpapi"
	"github.com/vladponakov/simple-task-pro-v2/internal/otel"
	"github.com/vladponakov/simple-task-pro-v2/internal/seed"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/internal/store/postgres"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dbDriver   string
		dbURL      string
		webhookURL string
		enableOtel bool
		noSeed     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Task Pro HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			cfg := config.Load()
			if addr != "" {
				cfg.Addr = addr
			}
			if dbDriver != "" {
				cfg.DBDriver = dbDriver
			}
			if dbURL != "" {
				cfg.DBURL = dbURL
			}
			if webhookURL != "" {
				cfg.WebhookURL = webhookURL
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			var (
				st  store.Store
				err error
			)
			if cfg.DBDriver == "postgres" {
				st, err = postgres.Open(cfg.DBURL)
			} else {
				st, err = store.Open(home)
			}
			if err != nil {
				return err
			}

			if !noSeed {
				if err := seed.Apply(cmd.Context(), st, log); err != nil {
					_ = st.Close()
					return fmt.Errorf("seed: %w", err)
				}
			}

			opts := httpapi.ServerOptions{
				Home:   home,
				Config: cfg,
				Store:  st,
				Log:    log,
			}
			if enableOtel {
				mh, err := otel.InitMeterProvider(cmd.Context(), "taskpro")
				if err != nil {
					_ = st.Close()
					return err
				}
				if err := otel.InitMetricsWithTaskCount(cmd.Context(), func() map[string]int64 {
					counts, err := st.CountTasksByStatus(context.Background())
					if err != nil {
						return nil
					}
					return counts
				}); err != nil {
					_ = st.Close()
					return err
				}
				opts.MetricsHandler = mh
				opts.UseOtelHTTP = true
			}

			app, err := httpapi.NewApp(opts)
			if err != nil {
				_ = st.Close()
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", app.Server.Addr)
				errCh <- app.Server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.Server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from TASKPRO_ADDR or 127.0.0.1:8080)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Completion webhook target (or set MAKE_WEBHOOK_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "Skip demo data seeding on startup")

	return cmd
}
