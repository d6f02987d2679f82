package conn

import (
	"crypto/rand"
	"encoding/hex"
)

// generateClientID produces a fresh identifier for a CONNECT that arrived
// with an empty ClientId and CleanSession set, per the MQTT 3.1.1 rule that
// the server must assign one in that case.
func generateClientID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "riftmq-" + hex.EncodeToString(b[:]), nil
}
