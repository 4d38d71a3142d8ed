package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire serializes Postgres-backed test packages on a loopback listener.
// WALLET_TEST_LOCK_ADDR overrides the address.
func Acquire() func() {
	addr := os.Getenv("WALLET_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
