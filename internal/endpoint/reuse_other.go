//go:build !unix

package endpoint

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
