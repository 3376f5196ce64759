package signing

import (
	"testing"

	"github.com/bsv-pool/poolsrv/internal/poolproto"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/wif"
	"github.com/stretchr/testify/require"
)

func testWIF(t *testing.T) string {
	t.Helper()
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)
	w, err := wif.NewWIF(priv, true)
	require.NoError(t, err)
	return w.String()
}

func TestSignPayoutInfoRoundTrips(t *testing.T) {
	signer, err := NewFromWIF(testWIF(t))
	require.NoError(t, err)

	body := poolproto.PayoutInfoBody{
		Timestamp:       1234,
		RemainingPayout: []byte{0x76, 0xa9},
		AppendedOutputs: []poolproto.TxOut{{Value: 5000, Script: []byte{0x01}}},
	}

	msg, err := signer.SignPayoutInfo(body)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Signature)

	unsigned := poolproto.EncodePayoutInfoBody(body)
	ok, err := signer.Verify(poolproto.MsgPayoutInfo, unsigned, msg.Signature)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignAcceptUserAuthRoundTrips(t *testing.T) {
	signer, err := NewFromWIF(testWIF(t))
	require.NoError(t, err)

	body := poolproto.AcceptUserAuthBody{
		UserID:          []byte("alice"),
		Timestamp:       5678,
		CoinbasePostfix: []byte("pool-id-1"),
	}

	msg, err := signer.SignAcceptUserAuth(body)
	require.NoError(t, err)

	unsigned := poolproto.EncodeAcceptUserAuthBody(body)
	ok, err := signer.Verify(poolproto.MsgAcceptUserAuth, unsigned, msg.Signature)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	signer, err := NewFromWIF(testWIF(t))
	require.NoError(t, err)

	body := poolproto.PayoutInfoBody{Timestamp: 1}
	msg, err := signer.SignPayoutInfo(body)
	require.NoError(t, err)

	tampered := poolproto.EncodePayoutInfoBody(poolproto.PayoutInfoBody{Timestamp: 2})
	ok, err := signer.Verify(poolproto.MsgPayoutInfo, tampered, msg.Signature)
	require.NoError(t, err)
	require.False(t, ok)
}
