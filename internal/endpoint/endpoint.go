// Package endpoint sets up the UDP side of the bridge: a single connected
// socket for unicast peers, or a group-bound receive socket plus a separate
// sender for multicast.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrFamilyMismatch is returned when bind and remote addresses are not both
// IPv4 or both IPv6.
var ErrFamilyMismatch = errors.New("endpoint: bind and remote must both be IPv4 or both IPv6")

const defaultMulticastTTL = 1

// Options tune endpoint setup. The zero value is usable.
type Options struct {
	// MulticastTTL is the TTL (IPv4) or hop limit (IPv6) of outgoing group
	// datagrams. Zero means 1.
	MulticastTTL int
}

// Endpoint is a ready pair of UDP sockets. For unicast recv and send are the
// same connected socket.
type Endpoint struct {
	recv      *net.UDPConn
	send      *net.UDPConn
	remote    netip.AddrPort
	multicast bool
	self      selfFilter
}

// Setup creates the sockets for exchanging batches with remote, sending from
// local. A multicast remote joins the group; anything else is unicast.
func Setup(ctx context.Context, local, remote netip.AddrPort, opts Options) (*Endpoint, error) {
	local = unmap(local)
	remote = unmap(remote)
	if local.Addr().Is4() != remote.Addr().Is4() {
		return nil, fmt.Errorf("%w (bind %s, remote %s)", ErrFamilyMismatch, local, remote)
	}
	var (
		e   *Endpoint
		err error
	)
	if remote.Addr().IsMulticast() {
		e, err = setupMulticast(ctx, local, remote, opts)
	} else {
		e, err = setupUnicast(ctx, local, remote)
	}
	if err != nil {
		return nil, err
	}
	self, err := newSelfFilter(e.LocalAddr())
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.self = self
	return e, nil
}

func network(a netip.Addr) string {
	if a.Is4() {
		return "udp4"
	}
	return "udp6"
}

func setupUnicast(ctx context.Context, local, remote netip.AddrPort) (*Endpoint, error) {
	d := net.Dialer{LocalAddr: net.UDPAddrFromAddrPort(local)}
	c, err := d.DialContext(ctx, network(remote.Addr()), remote.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s connect %s: %w", local, remote, err)
	}
	uc := c.(*net.UDPConn)
	return &Endpoint{recv: uc, send: uc, remote: remote}, nil
}

func setupMulticast(ctx context.Context, local, remote netip.AddrPort, opts Options) (*Endpoint, error) {
	nw := network(remote.Addr())
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, nw, remote.String())
	if err != nil {
		return nil, fmt.Errorf("bind multicast %s: %w", remote, err)
	}
	recv := pc.(*net.UDPConn)
	ifi, err := groupInterface(local.Addr(), remote.Addr())
	if err != nil {
		_ = recv.Close()
		return nil, err
	}
	group := &net.UDPAddr{IP: remote.Addr().AsSlice()}
	if remote.Addr().Is4() {
		err = ipv4.NewPacketConn(recv).JoinGroup(ifi, group)
	} else {
		err = ipv6.NewPacketConn(recv).JoinGroup(ifi, group)
	}
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("join group %s: %w", remote.Addr(), err)
	}

	var slc net.ListenConfig
	spc, err := slc.ListenPacket(ctx, nw, local.String())
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("bind sender %s: %w", local, err)
	}
	send := spc.(*net.UDPConn)
	if err := configureSender(send, remote.Addr().Is4(), ifi, opts.MulticastTTL); err != nil {
		_ = recv.Close()
		_ = send.Close()
		return nil, err
	}
	return &Endpoint{recv: recv, send: send, remote: remote, multicast: true}, nil
}

func configureSender(c *net.UDPConn, v4 bool, ifi *net.Interface, ttl int) error {
	if ttl <= 0 {
		ttl = defaultMulticastTTL
	}
	if v4 {
		p := ipv4.NewPacketConn(c)
		if ifi != nil {
			if err := p.SetMulticastInterface(ifi); err != nil {
				return fmt.Errorf("multicast interface %s: %w", ifi.Name, err)
			}
		}
		if err := p.SetMulticastTTL(ttl); err != nil {
			return fmt.Errorf("multicast ttl: %w", err)
		}
		return p.SetMulticastLoopback(true)
	}
	p := ipv6.NewPacketConn(c)
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("multicast interface %s: %w", ifi.Name, err)
		}
	}
	if err := p.SetMulticastHopLimit(ttl); err != nil {
		return fmt.Errorf("multicast hop limit: %w", err)
	}
	return p.SetMulticastLoopback(true)
}

// groupInterface picks the interface used for the membership: the one owning
// the local address for IPv4, the remote zone for IPv6. Nil lets the kernel
// choose.
func groupInterface(local, group netip.Addr) (*net.Interface, error) {
	if group.Is6() {
		zone := group.Zone()
		if zone == "" {
			return nil, nil
		}
		if idx, err := strconv.Atoi(zone); err == nil {
			return net.InterfaceByIndex(idx)
		}
		return net.InterfaceByName(zone)
	}
	if local.IsUnspecified() {
		return nil, nil
	}
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for i := range ifs {
		addrs, err := ifs[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ip, ok := prefixAddr(a); ok && ip == local {
				return &ifs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface owns %s", local)
}

// Send transmits one datagram to the remote peer or group.
func (e *Endpoint) Send(b []byte) error {
	var err error
	if e.multicast {
		_, err = e.send.WriteToUDPAddrPort(b, e.remote)
	} else {
		_, err = e.send.Write(b)
	}
	return err
}

// Receive reads one datagram into b and reports its source.
func (e *Endpoint) Receive(b []byte) (int, netip.AddrPort, error) {
	n, src, err := e.recv.ReadFromUDPAddrPort(b)
	return n, unmap(src), err
}

// IsSelf reports whether src is this endpoint's own sender.
func (e *Endpoint) IsSelf(src netip.AddrPort) bool { return e.self.match(unmap(src)) }

// LocalAddr is the bound address datagrams are sent from.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	return unmap(e.send.LocalAddr().(*net.UDPAddr).AddrPort())
}

// RecvAddr is the bound address datagrams are received on.
func (e *Endpoint) RecvAddr() netip.AddrPort {
	return unmap(e.recv.LocalAddr().(*net.UDPAddr).AddrPort())
}

func (e *Endpoint) Remote() netip.AddrPort { return e.remote }

func (e *Endpoint) Multicast() bool { return e.multicast }

// Close closes both sockets, unblocking pending Receive calls.
func (e *Endpoint) Close() error {
	err := e.recv.Close()
	if e.send != e.recv {
		err = errors.Join(err, e.send.Close())
	}
	return err
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
