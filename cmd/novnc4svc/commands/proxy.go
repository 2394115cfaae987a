package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/metrics"
	"github.com/go-the-way/novnc4svc/internal/proxy"
	"github.com/go-the-way/novnc4svc/internal/util"
)

const shutdownTimeout = 10 * time.Second

func NewProxyCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the websocket relay",
		Long: `Serve the noVNC websocket relay. Browsers connect to the relay route with
the VNC id in the query string and are relayed to the backend resolved from
the static table or the backend template. The backend table is reloaded when
the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Proxy.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProxy(ctx, cfg, configPath(), nil)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, :8080)")
	return cmd
}

// runProxy serves until ctx is done. ready, if set, receives the bound
// address once the listener is up.
func runProxy(ctx context.Context, cfg *config.Config, path string, ready func(addr string)) error {
	pc := cfg.Proxy
	if pc.BackendTemplate == "" && len(pc.Backends) == 0 {
		logging.Warn("no backends configured, every relay request will be rejected",
			logging.Component("proxy"))
	}

	prom := metrics.NewPrometheusCollector(metrics.NewCollector())
	opts := proxy.OptionsFromConfig(pc)
	opts.Metrics = prom
	opts.MetricsHandler = prom.PrometheusHandler()
	p := proxy.Plugin(proxy.NewTransformer(pc.BackendTemplate, pc.Backends), opts)

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	p.Plug(engine)

	ln, err := net.Listen("tcp", pc.ListenAddr)
	if err != nil {
		p.Close()
		return err
	}
	srv := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	util.SafeGoWithName("config-watch", func() {
		defer close(watchDone)
		err := config.Watch(watchCtx, path, func(c *config.Config) {
			p.SetTransformer(proxy.NewTransformer(c.Proxy.BackendTemplate, c.Proxy.Backends))
			logging.Info("backend table reloaded",
				"backends", len(c.Proxy.Backends),
				logging.Component("proxy"))
		})
		if err != nil {
			logging.Warn("config watch disabled", logging.Err(err), logging.Component("proxy"))
		}
	})
	defer func() {
		cancelWatch()
		<-watchDone
	}()

	errc := make(chan error, 1)
	util.SafeGoWithName("proxy-http", func() {
		errc <- srv.Serve(ln)
	})
	logging.Info("relay listening",
		"addr", ln.Addr().String(),
		"route", opts.WSRoute,
		logging.Component("proxy"))
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errc:
		p.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down relay", logging.Component("proxy"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	// Relays are hijacked connections, Shutdown does not wait for them.
	p.Close()
	<-errc
	return shutdownErr
}
