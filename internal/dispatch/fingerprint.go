package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint computes a stable hash over an operation's identity and
// normalized input, used to deduplicate DispatchCommands submissions.
// Grounded on the spec's definition: "a stable hash over (operation
// name, caller identity, full normalized input payload including the
// nonce)".
func fingerprint(op, accountID string, v any) string {
	// json.Marshal of a struct is stable for a fixed Go type (field
	// order follows struct declaration order), which is normalization
	// enough for a single in-process implementation.
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte(err.Error())
	}

	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
