package pool

import "encoding/hex"

func mustDecodePayoutScript(hexScript string) []byte {
	b, err := hex.DecodeString(hexScript)
	if err != nil {
		// settings.Load validates this is present; a malformed hex
		// string at this point is a configuration error that should
		// have been caught at startup.
		panic("invalid pool_payoutScript hex: " + err.Error())
	}
	return b
}
