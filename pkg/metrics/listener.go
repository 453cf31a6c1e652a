package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

const listenerShutdownTimeout = 5 * time.Second

// Listener serves /metrics for the background workers, which have no API
// router of their own.
type Listener struct {
	server *http.Server
	logg   *logger.Logger
	addr   string
	done   chan struct{}
}

func NewListener(addr string, g prometheus.Gatherer, readHeaderTimeout time.Duration, logg *logger.Logger) *Listener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Listener{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logg: logg,
		addr: addr,
		done: make(chan struct{}),
	}
}

// Start binds the port synchronously so a taken port fails at boot, then
// serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		close(l.done)
		return err
	}
	l.addr = ln.Addr().String()
	go func() {
		defer close(l.done)
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && l.logg != nil {
			l.logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	return nil
}

// Addr is the bound address once Start has returned.
func (l *Listener) Addr() string {
	return l.addr
}

func (l *Listener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), listenerShutdownTimeout)
	defer cancel()
	err := l.server.Shutdown(ctx)
	<-l.done
	return err
}
