// Package discovery implements mDNS/DNS-SD discovery for VIP2P servers.
//
// Servers advertise the _vip2p._tcp service with one instance per listener.
// The default instance name is VIP2P-<host>; it can be overridden per server.
//
// TXT records:
//   - ver: protocol version spoken by the server (e.g. "1.0")
//   - name: human-readable server name (optional)
//   - max: connection cap, 0 or absent meaning unlimited (optional)
//
// Clients browse the same service type to find servers without a
// configured address.
package discovery
