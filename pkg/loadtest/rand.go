package loadtest

import (
	"crypto/rand"
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// Generates a cryptographically random payload of the given length. Every
// frame of a run carries the same payload.
func randomPayload(length int) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	n, err := rand.Read(payload)
	if err != nil {
		return nil, err
	}
	if n != length {
		return nil, fmt.Errorf("expected to read %d random bytes, but read %d instead", length, n)
	}
	return payload, nil
}

func makeRunID() string {
	return strings.ReplaceAll(uuid.NewV4().String(), "-", "")
}
