package idempotency

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the JSON encoding of input. Inputs whose JSON forms
// match produce the same fingerprint; map keys are sorted by encoding/json.
func Fingerprint(input any) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return FingerprintBytes(data), nil
}

// FingerprintBytes hashes raw bytes.
func FingerprintBytes(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
