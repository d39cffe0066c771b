package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Environment contract between the master and its workers.
const (
	// EnvWorker marks a process as a serving worker rather than a master.
	EnvWorker = "APPBOOT_WORKER"
	// EnvWorkerID carries the worker's slot number for logging.
	EnvWorkerID = "APPBOOT_WORKER_ID"
	// EnvHeartbeatFile is the file the worker touches while healthy.
	EnvHeartbeatFile = "APPBOOT_HEARTBEAT_FILE"

	// listenerFD is where the inherited listening socket lands in a
	// worker process (after stdin/stdout/stderr).
	listenerFD = 3

	heartbeatInterval = time.Second

	// RecycleExitCode is the exit status of a worker that stopped because
	// it reached its request threshold. The master counts these as
	// recycles; any other non-zero status is a crash.
	RecycleExitCode = 3
)

// ErrRecycled reports a clean worker exit caused by the recycle threshold.
var ErrRecycled = errors.New("worker recycled after reaching request threshold")

// IsWorkerProcess reports whether this process was spawned as a worker.
func IsWorkerProcess() bool {
	return os.Getenv(EnvWorker) == "1"
}

// Worker is one serving process. It accepts from the listener inherited
// from the master, handles one request at a time (sync model), and exits
// cleanly once it has served its recycle threshold.
type Worker struct {
	opts          Options
	id            string
	logger        *zap.SugaredLogger
	heartbeatPath string

	threshold int
	served    atomic.Int64
	inFlight  atomic.Int64
	draining  atomic.Bool

	server   *http.Server
	stopOnce sync.Once
}

// NewWorker prepares a worker from its environment. The recycle threshold
// is drawn once, at startup, so each worker recycles at a different count.
func NewWorker(opts Options, logger *zap.SugaredLogger) *Worker {
	id := os.Getenv(EnvWorkerID)
	if id == "" {
		id = fmt.Sprintf("%d", os.Getpid())
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid())))
	return &Worker{
		opts:          opts,
		id:            id,
		logger:        logger.With("worker", id),
		heartbeatPath: os.Getenv(EnvHeartbeatFile),
		threshold:     RecycleThreshold(opts.MaxRequests, opts.MaxRequestsJitter, rng),
	}
}

// Run serves until the worker is recycled or signalled. Returns nil on
// clean exit; the master respawns regardless.
func (w *Worker) Run() error {
	ln, err := inheritedListener()
	if err != nil {
		return err
	}
	if w.opts.WorkerConnections > 0 {
		ln = limitListener(ln, w.opts.WorkerConnections)
	}

	router, err := NewRouter(w.opts.StaticRoot, w.logger)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	handler := w.syncGate(router)
	if w.opts.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, w.opts.RequestTimeout, "request timed out\n")
	}

	w.server = &http.Server{
		Handler: handler,
		// WriteTimeout trails the handler timeout so TimeoutHandler can
		// still write its response
		ReadTimeout:  w.opts.RequestTimeout,
		WriteTimeout: w.opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  w.opts.KeepAlive,
	}

	stopHeartbeat := w.startHeartbeat()
	defer stopHeartbeat()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		w.logger.Infow("Worker shutting down", "signal", sig.String())
		w.shutdown()
	}()

	w.logger.Infow("Worker serving",
		"pid", os.Getpid(),
		"recycle_threshold", w.threshold,
		"model", w.opts.WorkerModel)

	err = w.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		if w.draining.Load() {
			return ErrRecycled
		}
		return nil
	}
	return err
}

// syncGate admits one request at a time, counts completed requests, and
// triggers a drain once the recycle threshold is reached. Connections
// beyond the gate queue at the listener, bounded by worker-connections.
// Every completed request advances the heartbeat, so a saturated but
// healthy worker never looks stale to the master.
func (w *Worker) syncGate(next http.Handler) http.Handler {
	gate := make(chan struct{}, 1)
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gate <- struct{}{}
		w.inFlight.Add(1)
		defer func() {
			w.inFlight.Add(-1)
			<-gate
			w.touchHeartbeat()

			if total := w.served.Add(1); w.threshold > 0 && total >= int64(w.threshold) && !w.draining.Load() {
				w.draining.Store(true)
				w.logger.Infow("Recycle threshold reached, draining",
					"served", total, "threshold", w.threshold)
				w.shutdown()
			}
		}()

		if w.draining.Load() {
			rw.Header().Set("Connection", "close")
		}
		next.ServeHTTP(rw, req)
	})
}

// shutdown drains the server within the graceful window, then forces it.
func (w *Worker) shutdown() {
	w.stopOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.opts.GracefulTimeout)
			defer cancel()
			if err := w.server.Shutdown(ctx); err != nil {
				w.logger.Warnw("Worker drain timed out, closing", "error", err)
				_ = w.server.Close()
			}
		}()
	})
}

// touchHeartbeat advances the heartbeat file's mtime.
func (w *Worker) touchHeartbeat() {
	if w.heartbeatPath == "" {
		return
	}
	now := time.Now()
	_ = os.Chtimes(w.heartbeatPath, now, now)
}

// startHeartbeat touches the heartbeat file while the worker is idle;
// completed requests touch it through syncGate. Only a request that sits
// in the handler past the master's timeout leaves the file stale, and the
// master kills and respawns the worker.
func (w *Worker) startHeartbeat() func() {
	if w.heartbeatPath == "" {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if w.inFlight.Load() == 0 {
					w.touchHeartbeat()
				}
			}
		}
	}()
	return func() { close(done) }
}

// inheritedListener recovers the listening socket the master passed down.
func inheritedListener() (net.Listener, error) {
	f := os.NewFile(uintptr(listenerFD), "listener")
	if f == nil {
		return nil, fmt.Errorf("no inherited listener at fd %d", listenerFD)
	}
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("failed to recover inherited listener: %w", err)
	}
	// net.FileListener dups the fd, the original is no longer needed
	_ = f.Close()
	return ln, nil
}

// limitListener bounds simultaneous accepted connections.
type limitedListener struct {
	net.Listener
	sem chan struct{}
}

func limitListener(ln net.Listener, n int) net.Listener {
	return &limitedListener{Listener: ln, sem: make(chan struct{}, n)}
}

func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: conn, release: func() { <-l.sem }}, nil
}

type limitedConn struct {
	net.Conn
	release   func()
	closeOnce sync.Once
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(c.release)
	return err
}
