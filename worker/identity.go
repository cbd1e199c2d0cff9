package worker

import (
	"crypto/rand"
	"fmt"
	"os"
)

// newWorkerID builds a worker identity stable for the duration of one
// execute() call: host-pid-nonce, as recommended by the lease protocol.
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}

	var nonce [6]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return fmt.Sprintf("%s-%d-%x", host, os.Getpid(), nonce)
}
