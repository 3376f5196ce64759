package pool

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/bsv-pool/poolsrv/internal/connengine"
	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/bsv-pool/poolsrv/internal/signing"
	"github.com/bsv-pool/poolsrv/settings"
	"github.com/bsv-pool/poolsrv/ulogger"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/wif"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{})        {}
func (nopLogger) Infof(string, ...interface{})         {}
func (nopLogger) Warnf(string, ...interface{})         {}
func (nopLogger) Errorf(string, ...interface{})        {}
func (nopLogger) Fatalf(string, ...interface{})        {}
func (l nopLogger) With(...interface{}) ulogger.Logger { return l }

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()
	return &settings.Settings{
		ServiceName: "poolsrv-test",
		Pool: settings.Pool{
			ListenAddr:        "127.0.0.1:0",
			PayoutScriptHex:   hex.EncodeToString([]byte{0x76, 0xa9, 0x14, 0x01, 0x88, 0xac}),
			ServerID:          "t",
			SkipUpstreamProbe: true,
			OutboundQueueSize: 5,
		},
	}
}

// writeProtocolSupport writes a client-to-server ProtocolSupport frame
// directly (the codec only encodes the server's outbound message set, so
// a test acting as a client has to frame its own handshake request).
func writeProtocolSupport(w net.Conn, minVersion, maxVersion, flags uint16) error {
	body := make([]byte, 1+6)
	body[0] = byte(poolproto.MsgProtocolSupport)
	binary.BigEndian.PutUint16(body[1:3], minVersion)
	binary.BigEndian.PutUint16(body[3:5], maxVersion)
	binary.BigEndian.PutUint16(body[5:7], flags)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func testSigner(t *testing.T) *signing.Signer {
	t.Helper()
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)
	w, err := wif.NewWIF(priv, true)
	require.NoError(t, err)
	s, err := signing.NewFromWIF(w.String())
	require.NoError(t, err)
	return s
}

func TestHealthBeforeStartIsUnavailable(t *testing.T) {
	s := NewServer(nopLogger{}, testSettings(t), testSigner(t), poolproto.NewBinaryCodec(), connengine.Hooks{})
	status, _, err := s.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestInitSkipsProbeWhenConfigured(t *testing.T) {
	s := NewServer(nopLogger{}, testSettings(t), testSigner(t), poolproto.NewBinaryCodec(), connengine.Hooks{})
	require.NoError(t, s.Init(context.Background()))
}

func TestStartAcceptsConnectionAndCompletesHandshake(t *testing.T) {
	s := NewServer(nopLogger{}, testSettings(t), testSigner(t), poolproto.NewBinaryCodec(), connengine.Hooks{
		Authenticate: func(poolproto.UserAuthInfo) bool { return true },
	})
	require.NoError(t, s.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- s.Start(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		status, _, _ := s.Health(context.Background())
		if status != http.StatusOK {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener == nil {
			return false
		}
		addr = s.listener.Addr().String()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	codec := poolproto.NewBinaryCodec()
	require.NoError(t, writeProtocolSupport(conn, 1, 1, 0))

	msg, err := codec.ReadMessage(conn)
	require.NoError(t, err)
	_, ok := msg.(poolproto.ProtocolVersion)
	require.True(t, ok)

	msg, err = codec.ReadMessage(conn)
	require.NoError(t, err)
	_, ok = msg.(poolproto.PayoutInfo)
	require.True(t, ok)

	// Close the client side first: the engine's read loop only notices
	// ctx cancellation between frames, so an idle-but-open socket would
	// otherwise leave Start's wg.Wait blocked forever.
	conn.Close()
	cancel()
	require.NoError(t, <-startErrCh)
}

func TestStopClosesListener(t *testing.T) {
	s := NewServer(nopLogger{}, testSettings(t), testSigner(t), poolproto.NewBinaryCodec(), connengine.Hooks{})
	require.NoError(t, s.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		status, _, _ := s.Health(context.Background())
		return status == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-startErrCh)

	status, _, _ := s.Health(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, status)
}
