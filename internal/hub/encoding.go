package hub

import "github.com/vmihailenco/msgpack/v5"

// encodeCompactBinary serialises v with a compact binary encoding
// (MemoryPack-equivalent, spec §4.6 step 5) — used only for the plaintext
// that gets sealed into a SecureEnvelope. Broadcasts and unencrypted
// responses stay UTF-8 JSON (spec §9(b)).
func encodeCompactBinary(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}
