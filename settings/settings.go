// Package settings centralizes the pool server's startup configuration,
// loaded from gocore's key/value config store the same way the teacher
// loads every one of its settings (gocore.Config().Get/GetInt/GetBool).
package settings

import (
	"github.com/bsv-pool/poolsrv/errors"
	"github.com/ordishs/gocore"
)

// Pool holds the parameters from spec.md §6's "Startup preconditions".
type Pool struct {
	// ListenAddr is the TCP address the server binds, e.g. ":3333".
	ListenAddr string

	// AuthKeyWIF is the operator's compressed secp256k1 private key,
	// WIF-encoded, used to sign outbound PayoutInfo/AcceptUserAuth
	// messages and advertised (as a public key) in ProtocolVersion.
	AuthKeyWIF string

	// PayoutScriptHex is the precomputed script-pubkey (hex-encoded)
	// that coinbase output 0 must pay to.
	PayoutScriptHex string

	// ServerID is an optional string embedded in the coinbase postfix,
	// capped at 36 bytes.
	ServerID string

	// UpstreamRPCURL is the bitcoind-compatible JSON-RPC endpoint probed
	// once at startup before the listener is exposed.
	UpstreamRPCURL string

	// OutboundQueueSize bounds each connection's outbound message
	// channel (spec.md §5); a full channel is a fatal connection error.
	OutboundQueueSize int

	// SkipUpstreamProbe disables the startup liveness probe; used in
	// tests where no upstream node is available.
	SkipUpstreamProbe bool
}

// Settings is the full configuration surface of the pool server.
type Settings struct {
	ServiceName string
	LogLevel    string
	Pretty      bool
	Pool        Pool
}

// Load reads settings from gocore.Config(), applying the defaults a fresh
// deployment would want.
func Load() (*Settings, error) {
	s := &Settings{}

	s.ServiceName, _ = gocore.Config().Get("SERVICE_NAME", "poolsrv")
	s.LogLevel, _ = gocore.Config().Get("logLevel", "info")
	s.Pretty = gocore.Config().GetBool("PRETTY_LOGS", true)

	s.Pool.ListenAddr, _ = gocore.Config().Get("pool_listenAddr", ":3333")

	authKey, found := gocore.Config().Get("pool_authKey")
	if !found || authKey == "" {
		return nil, errors.New(errors.CodeConfiguration, "pool_authKey not set")
	}
	s.Pool.AuthKeyWIF = authKey

	payoutScript, found := gocore.Config().Get("pool_payoutScript")
	if !found || payoutScript == "" {
		return nil, errors.New(errors.CodeConfiguration, "pool_payoutScript not set")
	}
	s.Pool.PayoutScriptHex = payoutScript

	s.Pool.ServerID, _ = gocore.Config().Get("pool_serverID", "")
	if len(s.Pool.ServerID) > 36 {
		return nil, errors.New(errors.CodeConfiguration, "pool_serverID cannot be longer than 36 bytes")
	}

	s.Pool.UpstreamRPCURL, _ = gocore.Config().Get("pool_upstreamRPCURL")
	s.Pool.SkipUpstreamProbe = gocore.Config().GetBool("pool_skipUpstreamProbe", false)
	if s.Pool.UpstreamRPCURL == "" && !s.Pool.SkipUpstreamProbe {
		return nil, errors.New(errors.CodeConfiguration, "pool_upstreamRPCURL not set")
	}

	queueSize, ok := gocore.Config().GetInt("pool_outboundQueueSize", 5)
	if !ok || queueSize <= 0 {
		queueSize = 5
	}
	s.Pool.OutboundQueueSize = queueSize

	return s, nil
}
