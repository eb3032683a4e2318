// Package config loads YAML configuration for the vip2p commands.
//
// A file has a server section, a client section and a log level. Durations
// are Go duration strings ("2s", "500ms"). Missing fields keep their
// defaults.
//
//	log_level: debug
//	server:
//	  address: ":9595"
//	  poll_interval: 2s
//	  handshake_timeout: 30s
//	  mdns:
//	    enabled: true
//	    name: lab
//	client:
//	  address: 127.0.0.1:9595
//	  retry:
//	    attempts: 5
package config
