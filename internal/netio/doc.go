// Package netio watches the local network interface table for link
// up/down transitions so a bearer can react to a carrier loss immediately
// instead of waiting out its idle timeout.
package netio
