package session

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveBindAddr turns the textual -l bind address (possibly empty, for
// "all interfaces", IPv4 only) and port into the unix.Sockaddr Bind needs.
// A literal or hostname that is or resolves to an IPv4 address produces an
// AF_INET address; an IPv6 one produces AF_INET6.
func resolveBindAddr(host string, port int) (unix.Sockaddr, error) {
	if host == "" {
		return &unix.SockaddrInet4{Port: port}, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, fmt.Errorf("session: resolve bind address %q: %w", host, err)
		}
		ip = resolved.IP
	}
	if v4 := ip.To4(); v4 != nil {
		var addr unix.SockaddrInet4
		addr.Port = port
		copy(addr.Addr[:], v4)
		return &addr, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, fmt.Errorf("session: bind address %q is neither IPv4 nor IPv6", host)
	}
	var addr unix.SockaddrInet6
	addr.Port = port
	copy(addr.Addr[:], v6)
	return &addr, nil
}
