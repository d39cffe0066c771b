package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"appboot/metrics"
	"appboot/util/goroutine"
)

// heartbeatGrace is added to the configured timeout before a stale worker
// is killed, covering the heartbeat tick itself.
const heartbeatGrace = 2 * time.Second

// Master owns the listening socket and a fixed pool of worker processes.
// It spawns workers that inherit the socket, reaps and respawns them, and
// forwards termination signals so the pool drains as one unit.
type Master struct {
	opts   Options
	logger *zap.SugaredLogger

	runID        string
	listenerFile *os.File
	heartbeatDir string

	mu       sync.Mutex
	workers  map[int]*workerProc // slot -> process
	shutdown bool

	exitCh chan workerExit

	// respawnLimiter keeps a crash-looping worker from fork-bombing the
	// host
	respawnLimiter *rate.Limiter
}

type workerProc struct {
	slot          int
	cmd           *exec.Cmd
	heartbeatFile string
	startedAt     time.Time
}

type workerExit struct {
	slot int
	pid  int
	err  error
}

// NewMaster creates a prefork master for the given options.
func NewMaster(opts Options, logger *zap.SugaredLogger) *Master {
	return &Master{
		opts:           opts,
		logger:         logger,
		runID:          uuid.NewString(),
		workers:        make(map[int]*workerProc),
		exitCh:         make(chan workerExit, opts.Workers),
		respawnLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

// Run binds the listening socket, spawns the worker pool and supervises it
// until a termination signal arrives. A bind failure returns before any
// worker starts. Returns nil after a graceful drain.
func (m *Master) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.opts.Bind)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", m.opts.Bind, err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("unexpected listener type %T", ln)
	}
	m.listenerFile, err = tcpLn.File()
	if err != nil {
		return fmt.Errorf("failed to dup listener fd: %w", err)
	}
	defer m.listenerFile.Close()

	m.heartbeatDir, err = os.MkdirTemp("", "appboot-heartbeat-")
	if err != nil {
		return fmt.Errorf("failed to create heartbeat dir: %w", err)
	}
	defer os.RemoveAll(m.heartbeatDir)

	m.logger.Infow("Master listening",
		"bind", m.opts.Bind,
		"workers", m.opts.Workers,
		"run_id", m.runID)

	for slot := 1; slot <= m.opts.Workers; slot++ {
		if err := m.spawnWorker(slot, "initial"); err != nil {
			m.stopAll(syscall.SIGKILL)
			return fmt.Errorf("failed to start worker %d: %w", slot, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.drain()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				m.logger.Info("SIGHUP received, rolling worker restart")
				go func() {
					defer goroutine.Recover("rolling-restart", m.logger)
					m.rollingRestart()
				}()
			default:
				m.logger.Infow("Shutdown signal received", "signal", sig.String())
				return m.drain()
			}

		case exit := <-m.exitCh:
			m.handleExit(ctx, exit)

		case <-heartbeatTicker.C:
			m.killStaleWorkers()
		}
	}
}

// spawnWorker starts one worker process in the given slot. The worker
// inherits the listening socket as fd 3 and reports health through its
// heartbeat file.
func (m *Master) spawnWorker(slot int, reason string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	hbFile := filepath.Join(m.heartbeatDir, fmt.Sprintf("worker-%d", slot))
	if err := os.WriteFile(hbFile, nil, 0644); err != nil {
		return fmt.Errorf("failed to create heartbeat file: %w", err)
	}

	cmd := exec.Command(exe, "serve")
	cmd.Env = append(os.Environ(),
		EnvWorker+"=1",
		fmt.Sprintf("%s=%d", EnvWorkerID, slot),
		EnvHeartbeatFile+"="+hbFile,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{m.listenerFile}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	proc := &workerProc{
		slot:          slot,
		cmd:           cmd,
		heartbeatFile: hbFile,
		startedAt:     time.Now(),
	}

	m.mu.Lock()
	m.workers[slot] = proc
	alive := len(m.workers)
	m.mu.Unlock()

	metrics.WorkerSpawns.WithLabelValues(reason).Inc()
	metrics.WorkersAlive.Set(float64(alive))
	m.logger.Infow("Worker spawned",
		"slot", slot, "pid", cmd.Process.Pid, "reason", reason)

	go func() {
		defer goroutine.Recover(fmt.Sprintf("worker-%d-reaper", slot), m.logger)
		err := cmd.Wait()
		m.exitCh <- workerExit{slot: slot, pid: cmd.Process.Pid, err: err}
	}()

	return nil
}

// handleExit reaps a worker and respawns it unless the master is shutting
// down. Respawns are rate limited.
func (m *Master) handleExit(ctx context.Context, exit workerExit) {
	m.mu.Lock()
	delete(m.workers, exit.slot)
	alive := len(m.workers)
	down := m.shutdown
	m.mu.Unlock()

	metrics.WorkersAlive.Set(float64(alive))

	switch {
	case isRecycleExit(exit.err):
		metrics.WorkerRecycles.Inc()
		m.logger.Infow("Worker recycled",
			"slot", exit.slot, "pid", exit.pid)
	case exit.err != nil:
		m.logger.Warnw("Worker exited abnormally",
			"slot", exit.slot, "pid", exit.pid, "error", exit.err)
	default:
		m.logger.Infow("Worker exited cleanly",
			"slot", exit.slot, "pid", exit.pid)
	}

	if down {
		return
	}

	if err := m.respawnLimiter.Wait(ctx); err != nil {
		return
	}
	if err := m.spawnWorker(exit.slot, "respawn"); err != nil {
		m.logger.Errorw("Failed to respawn worker", "slot", exit.slot, "error", err)
	}
}

// isRecycleExit reports whether a worker exit came from reaching its
// request threshold rather than a crash or a drain.
func isRecycleExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == RecycleExitCode
}

// killStaleWorkers force-kills workers whose heartbeat is older than the
// request timeout. The reaper then respawns them.
func (m *Master) killStaleWorkers() {
	if m.opts.RequestTimeout <= 0 {
		return
	}
	deadline := m.opts.RequestTimeout + heartbeatGrace

	m.mu.Lock()
	var stale []*workerProc
	for _, proc := range m.workers {
		info, err := os.Stat(proc.heartbeatFile)
		if err != nil {
			continue
		}
		// A fresh worker gets a full window before its first beat counts
		last := info.ModTime()
		if proc.startedAt.After(last) {
			last = proc.startedAt
		}
		if time.Since(last) > deadline {
			stale = append(stale, proc)
		}
	}
	m.mu.Unlock()

	for _, proc := range stale {
		m.logger.Warnw("Worker timed out, killing",
			"slot", proc.slot, "pid", proc.cmd.Process.Pid,
			"timeout", m.opts.RequestTimeout.String())
		_ = proc.cmd.Process.Kill()
	}
}

// rollingRestart recycles workers one at a time so capacity never drops to
// zero. Each terminated worker is respawned by the exit handler.
func (m *Master) rollingRestart() {
	m.mu.Lock()
	var procs []*workerProc
	for _, proc := range m.workers {
		procs = append(procs, proc)
	}
	m.mu.Unlock()

	for _, proc := range procs {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
		time.Sleep(500 * time.Millisecond)
	}
}

// drain stops the pool: SIGTERM to every worker, wait for the graceful
// window, then SIGKILL stragglers.
func (m *Master) drain() error {
	m.mu.Lock()
	m.shutdown = true
	remaining := len(m.workers)
	m.mu.Unlock()

	m.logger.Infow("Draining workers", "count", remaining)
	m.stopAll(syscall.SIGTERM)

	deadline := time.After(m.opts.GracefulTimeout)
	for remaining > 0 {
		select {
		case exit := <-m.exitCh:
			m.mu.Lock()
			delete(m.workers, exit.slot)
			remaining = len(m.workers)
			m.mu.Unlock()
			metrics.WorkersAlive.Set(float64(remaining))

		case <-deadline:
			m.logger.Warnw("Graceful timeout exceeded, killing stragglers",
				"remaining", remaining)
			m.stopAll(syscall.SIGKILL)
			m.mu.Lock()
			m.workers = make(map[int]*workerProc)
			m.mu.Unlock()
			metrics.WorkersAlive.Set(0)
			remaining = 0
		}
	}

	m.logger.Info("All workers stopped")
	return nil
}

// stopAll signals every live worker.
func (m *Master) stopAll(sig syscall.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, proc := range m.workers {
		if proc.cmd.Process != nil {
			_ = proc.cmd.Process.Signal(sig)
		}
	}
}
