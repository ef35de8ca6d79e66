package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// Namespace scopes the name-based identifiers handed out by HashUUID.
var Namespace = uuid.MustParse("5c0b6a7e-3f1d-4c52-9a8e-70a1f1e2b3c4")

// Md5ThenHex is a quick hasher
func Md5ThenHex(value []byte) string {
	hasher := md5.New()
	hasher.Write(value)
	return hex.EncodeToString(hasher.Sum(nil))
}

// HashUUID derives a stable name-based UUID from the JSON form of value.
// Equal values give equal identifiers across runs.
func HashUUID(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return uuid.NewMD5(Namespace, raw).String()
}

// NewRunID returns a random identifier for correlating the logs of one run.
func NewRunID() string {
	return uuid.NewString()
}
