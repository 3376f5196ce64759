// Package servicemanager runs a set of long-lived Service implementations
// side by side, the way the pool server's main package wires up the pool
// listener and any other background component: add each one, then block
// until the first of them exits.
package servicemanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bsv-pool/poolsrv/ulogger"
)

// Service is the lifecycle every component under management implements.
type Service interface {
	Health(ctx context.Context) (int, string, error)
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type entry struct {
	name    string
	service Service
}

// ServiceManager owns the set of registered services and the cancellation
// context they all share.
type ServiceManager struct {
	logger ulogger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  []entry
	errCh    chan error
	started  bool
}

// NewServiceManager returns a manager and the context every managed
// service's Start runs under; Wait cancels it once the first service
// exits. Init and Stop are called with their own background contexts.
func NewServiceManager(logger ulogger.Logger) (*ServiceManager, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &ServiceManager{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 8),
	}, ctx
}

// AddService registers and immediately initializes a service, then starts it
// on its own goroutine against the manager's own cancellable context, so
// Wait's cancellation on one service's exit reaches every other running one.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := service.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to init %s: %w", name, err)
	}

	sm.entries = append(sm.entries, entry{name: name, service: service})

	go func() {
		sm.logger.Infof("%s starting", name)
		if err := service.Start(sm.ctx); err != nil {
			sm.logger.Errorf("%s exited: %v", name, err)
			sm.errCh <- fmt.Errorf("%s: %w", name, err)
			return
		}
		sm.errCh <- nil
	}()

	return nil
}

// Wait blocks until one managed service exits (successfully or not) and
// returns its error, stopping every other registered service first.
func (sm *ServiceManager) Wait() error {
	err := <-sm.errCh
	sm.cancel()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, e := range sm.entries {
		stopCtx, cancel := context.WithCancel(context.Background())
		if stopErr := e.service.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("error stopping %s: %v", e.name, stopErr)
		}
		cancel()
	}

	return err
}

// HealthHandler aggregates Health() across every registered service for use
// behind an HTTP health endpoint. liveness requests a cheaper check than a
// full readiness probe; services that don't distinguish may ignore it.
func (sm *ServiceManager) HealthHandler(ctx context.Context, _ bool) (int, string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, e := range sm.entries {
		status, details, err := e.service.Health(ctx)
		if err != nil || status != http.StatusOK {
			return status, details, err
		}
	}

	return http.StatusOK, "OK", nil
}
