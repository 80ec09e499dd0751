package endpoint

import (
	"fmt"
	"net"
	"net/netip"
)

// test hook
var interfaceAddrs = net.InterfaceAddrs

// selfFilter recognises datagrams sent by our own sender socket. It is built
// once at setup and only read afterwards.
type selfFilter struct {
	addr netip.AddrPort
	// local holds every interface address of the sender's family when the
	// sender is bound to the unspecified address.
	local map[netip.Addr]struct{}
}

func newSelfFilter(addr netip.AddrPort) (selfFilter, error) {
	f := selfFilter{addr: netip.AddrPortFrom(addr.Addr().WithZone(""), addr.Port())}
	if !addr.Addr().IsUnspecified() {
		return f, nil
	}
	addrs, err := interfaceAddrs()
	if err != nil {
		return f, fmt.Errorf("list interface addresses: %w", err)
	}
	f.local = make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		ip, ok := prefixAddr(a)
		if !ok || ip.Is4() != addr.Addr().Is4() {
			continue
		}
		f.local[ip] = struct{}{}
	}
	return f, nil
}

func (f selfFilter) match(src netip.AddrPort) bool {
	if src.Port() != f.addr.Port() {
		return false
	}
	ip := src.Addr().WithZone("")
	if ip == f.addr.Addr() {
		return true
	}
	_, ok := f.local[ip]
	return ok
}

func prefixAddr(a net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	out, ok := netip.AddrFromSlice(ip)
	return out.Unmap(), ok
}
