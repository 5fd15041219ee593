//go:build !unix

package server

import "syscall"

// reuseAddrControl is a no-op where x/sys/unix is unavailable
func reuseAddrControl(network, address string, rc syscall.RawConn) error {
	return nil
}
