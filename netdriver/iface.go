package netdriver

import "net"

// iface is a minimal projection of net.Interface plus its first IPv4
// address, so selfIdentify can work against plain stdlib-derived data
// without importing net.Interface/net.Flags at every call site.
type iface struct {
	flags ifaceFlags
	mac   []byte
	ipv4  string
}

type ifaceFlags uint32

const (
	ifaceUp ifaceFlags = 1 << iota
	ifaceLoopback
)

func netInterfaces() ([]iface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]iface, 0, len(raw))
	for _, r := range raw {
		var flags ifaceFlags
		if r.Flags&net.FlagUp != 0 {
			flags |= ifaceUp
		}
		if r.Flags&net.FlagLoopback != 0 {
			flags |= ifaceLoopback
		}

		entry := iface{flags: flags, mac: []byte(r.HardwareAddr)}

		if addrs, err := r.Addrs(); err == nil {
			for _, a := range addrs {
				ipNet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				if v4 := ipNet.IP.To4(); v4 != nil {
					entry.ipv4 = v4.String()
					break
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
