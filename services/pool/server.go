// Package pool implements the Server Supervisor (spec.md §4.6): it binds
// the TCP listener, spawns one Connection Engine per accepted socket,
// owns the global PerUser registry, and runs the 30-second periodic
// difficulty tick over it.
package pool

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-pool/poolsrv/errors"
	"github.com/bsv-pool/poolsrv/internal/connengine"
	"github.com/bsv-pool/poolsrv/internal/difficulty"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/poolvalidate"
	"github.com/bsv-pool/poolsrv/internal/rpcprobe"
	"github.com/bsv-pool/poolsrv/internal/signing"
	"github.com/bsv-pool/poolsrv/internal/useraccount"
	"github.com/bsv-pool/poolsrv/settings"
	"github.com/bsv-pool/poolsrv/ulogger"
)

const (
	tickInterval  = 30 * time.Second
	firstTickWait = 10 * time.Second
)

// Server is the pool's Server Supervisor, implementing
// util/servicemanager.Service.
type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	signer   *signing.Signer
	codec    poolproto.Codec
	hooks    connengine.Hooks

	global *useraccount.Global

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	ready    bool
}

// NewServer builds the pool server supervisor. codec is the wire framing
// implementation (an external collaborator per spec.md §6); hooks are the
// embedder-provided auth predicate and share/weak-block side effects.
func NewServer(logger ulogger.Logger, s *settings.Settings, signer *signing.Signer, codec poolproto.Codec, hooks connengine.Hooks) *Server {
	return &Server{
		logger:   logger,
		settings: s,
		signer:   signer,
		codec:    codec,
		hooks:    hooks,
		global:   useraccount.NewGlobal(),
	}
}

// Health reports whether the listener is up.
func (s *Server) Health(_ context.Context) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return http.StatusServiceUnavailable, "pool listener not ready", nil
	}
	return http.StatusOK, "OK", nil
}

// Init probes the configured upstream node once, per spec.md §6's startup
// preconditions, before the listener is ever exposed.
func (s *Server) Init(ctx context.Context) error {
	initPrometheusMetrics()

	if s.settings.Pool.SkipUpstreamProbe {
		return nil
	}

	probe := rpcprobe.New(s.settings.Pool.UpstreamRPCURL)
	s.logger.Infof("checking validity of upstream rpc url")
	if err := probe.CheckLiveness(ctx); err != nil {
		return errors.New(errors.CodeConfiguration, "upstream rpc url did not respond", err)
	}

	return nil
}

// Start binds the listener and runs until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.settings.Pool.ListenAddr)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to bind pool listener", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.ready = true
	s.mu.Unlock()

	s.logger.Infof("pool listening on %s", s.settings.Pool.ListenAddr)

	go s.runDifficultyTick(ctx)

	acceptErrCh := make(chan error, 1)
	go func() {
		acceptErrCh <- s.acceptLoop(ctx, listener)
	}()

	select {
	case <-ctx.Done():
		_ = listener.Close()
		s.wg.Wait()
		return nil
	case err := <-acceptErrCh:
		s.wg.Wait()
		return err
	}
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.New(errors.CodeInternal, "accept failed", err)
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		prometheusConnectionsAccepted.Inc()
		prometheusActiveConnections.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer prometheusActiveConnections.Dec()

	logger := s.logger.With("remote", conn.RemoteAddr().String())

	engine := connengine.New(connengine.Config{
		Logger:            logger,
		Signer:            s.signer,
		Codec:             s.codec,
		PayoutScript:      mustDecodePayoutScript(s.settings.Pool.PayoutScriptHex),
		ServerID:          []byte(s.settings.Pool.ServerID),
		OutboundQueueSize: s.settings.Pool.OutboundQueueSize,
		Global:            s.global,
		Hooks:             s.hooks,
	})

	if err := engine.Run(ctx, conn); err != nil {
		logger.Warnf("connection terminated: %v", err)
		return
	}
	logger.Debugf("connection closed")
}

// runDifficultyTick runs the server-wide 30-second periodic adjustment
// (spec.md §4.4/§4.6), first firing 10 seconds after start.
func (s *Server) runDifficultyTick(ctx context.Context) {
	timer := time.NewTimer(firstTickWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.runOneTick()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOneTick()
		}
	}
}

func (s *Server) runOneTick() {
	for _, u := range s.global.Snapshot() {
		if u.Dropped() {
			continue
		}
		result := difficulty.Tick(u)
		if !result.Changed {
			continue
		}

		msg := poolproto.ShareDifficulty{Difficulty: poolproto.PoolDifficulty{
			UserID:          u.UserID,
			Timestamp:       uint64(time.Now().UnixMilli()),
			ShareTarget:     poolvalidate.LeadingZerosToTarget(result.NewCurZ),
			WeakBlockTarget: poolvalidate.LeadingZerosToTarget(result.NewCurZ + poolvalidate.WeakRatioZ),
		}}

		if !u.TrySend(msg) {
			s.logger.Warnf("dropped tick difficulty update for user %x: outbound queue full", u.UserID)
		}
	}
}

// Stop closes the listener; Start's accept loop and all in-flight
// connections unwind via ctx cancellation from the caller.
func (s *Server) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
