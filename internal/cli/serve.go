package cli

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/mbtiles"
	"github.com/matzehuels/tilecraft/pkg/observability"
	"github.com/matzehuels/tilecraft/pkg/tileserver"
)

const (
	defaultServeAddr = ":8080"
	shutdownTimeout  = 10 * time.Second
)

// serveCommand serves an archive over HTTP until interrupted.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr      string
		baseURL   string
		noMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "serve <archive.mbtiles>",
		Short: "Serve an MBTiles archive over HTTP",
		Long: `Serve a tile archive read-only over HTTP:

  /tiles.json             TileJSON description
  /tiles/{z}/{x}/{y}.pbf  vector tiles
  /healthz                liveness
  /metrics                Prometheus metrics`,
		Example: `  tilecraft serve out/tiles.mbtiles --addr :8080`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			archive, err := mbtiles.Open(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrCodeFileNotFound, err, "open archive %s", args[0])
			}
			defer archive.Close()

			opts := tileserver.Options{Logger: c.Logger, BaseURL: baseURL}
			if !noMetrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				observability.NewPrometheus(reg).Register()
				defer observability.Reset()
				opts.Gatherer = reg
			}

			srv, err := tileserver.New(ctx, archive, opts)
			if err != nil {
				return err
			}
			return c.listen(ctx, addr, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL used in TileJSON (default: derived from requests)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable the /metrics endpoint")

	return cmd
}

// listen serves h on addr until ctx is done, then shuts down gracefully.
func (c *CLI) listen(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.Logger.Info("serving tiles", "addr", addr)
		printInfo("Listening on %s", StyleHighlight.Render(addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
