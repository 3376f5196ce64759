// Command poolserver is the pool server's entrypoint: it loads settings,
// builds the signer and wire codec, wires a default set of connection
// hooks, and runs the server supervisor under the service manager.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bsv-pool/poolsrv/internal/connengine"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/signing"
	"github.com/bsv-pool/poolsrv/services/pool"
	"github.com/bsv-pool/poolsrv/settings"
	"github.com/bsv-pool/poolsrv/ulogger"
	"github.com/bsv-pool/poolsrv/util/servicemanager"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const progname = "poolsrv"

var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
	gocore.Log(progname)
}

func main() {
	s, err := settings.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}

	logger := ulogger.New(s.ServiceName, s.LogLevel, s.Pretty)

	signer, err := signing.NewFromWIF(s.Pool.AuthKeyWIF)
	if err != nil {
		logger.Fatalf("invalid pool_authKey: %v", err)
	}

	hooks := defaultHooks(logger)

	srv := pool.NewServer(logger, s, signer, poolproto.NewBinaryCodec(), hooks)

	sm, ctx := servicemanager.NewServiceManager(logger)

	if err := sm.AddService("Pool", srv); err != nil {
		logger.Fatalf("failed to start pool service: %v", err)
	}

	prometheusEndpoint, ok := gocore.Config().Get("prometheusEndpoint")
	if ok && prometheusEndpoint != "" {
		http.Handle(prometheusEndpoint, promhttp.Handler())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, details, err := sm.HealthHandler(ctx, false)
		if err != nil {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(details))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(details))
	})

	port, ok := gocore.Config().GetInt("health_check_port", 8000)
	if !ok {
		port = 8000
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("health check server error: %v", err)
		}
	}()

	logger.Infof("health check endpoint listening on http://localhost:%d/health", port)

	if err := sm.Wait(); err != nil {
		logger.Errorf("pool server exited: %v", err)
		os.Exit(1)
	}
}

// defaultHooks builds the connection hooks used when this binary is run
// standalone: any presented user is authenticated, and share/weak-block
// submissions are only logged. An embedder that wants to check payouts
// against a real ledger or forward accepted blocks upstream replaces
// this with its own connengine.Hooks before calling pool.NewServer.
func defaultHooks(logger ulogger.Logger) connengine.Hooks {
	return connengine.Hooks{
		Authenticate: func(info poolproto.UserAuthInfo) bool {
			return true
		},
		ShareSubmitted: func(userID []byte, clientID uint64, ourPayout uint64) {
			logger.Debugf("share accepted: user=%x client=%d payout=%d", userID, clientID, ourPayout)
		},
		WeakBlockSubmitted: func(userID []byte, clientID uint64, ourPayout uint64, txn [][]byte, extraBlockData []byte) {
			logger.Infof("weak block accepted: user=%x client=%d payout=%d txn=%d", userID, clientID, ourPayout, len(txn))
		},
	}
}
