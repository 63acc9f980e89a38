// Package discovery implements the supplemental LAN peer-discovery broadcast:
// a sender calls DiscoverPeers, a receiver calls ListenForDiscovery to
// advertise itself while bound. It is never imported by internal/transfer,
// only by the CLI.
package discovery

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DiscoveryPort is the well-known UDP port peers listen on for broadcasts.
const DiscoveryPort = 48126

const discoveryMsg = "RELAYDROP_DISCOVER"

// ReplyTimeout bounds how long DiscoverPeers waits for replies.
const ReplyTimeout = 2 * time.Second

// Peer is a discovered host offering a receiver endpoint.
type Peer struct {
	Hostname string `json:"hostname"`
	Address  string `json:"address"` // host:port of its receiver
}

// DiscoverPeers broadcasts a discovery message and collects replies until
// ReplyTimeout elapses.
func DiscoverPeers(log zerolog.Logger) map[string]Peer {
	localAddr, err := net.ResolveUDPAddr("udp", ":0")
	if err != nil {
		log.Error().Err(err).Msg("resolve local discovery address")
		return nil
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		log.Error().Err(err).Msg("listen for discovery replies")
		return nil
	}
	defer conn.Close()

	broadcastAddr, err := net.ResolveUDPAddr("udp", udpBroadcastAddr(DiscoveryPort))
	if err != nil {
		log.Error().Err(err).Msg("resolve broadcast address")
		return nil
	}
	if _, err := conn.WriteToUDP([]byte(discoveryMsg), broadcastAddr); err != nil {
		log.Error().Err(err).Msg("send discovery broadcast")
		return nil
	}

	peers := make(map[string]Peer)
	buf := make([]byte, 2048)
	_ = conn.SetReadDeadline(time.Now().Add(ReplyTimeout))

	for {
		n, _, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				break
			}
			log.Debug().Err(rerr).Msg("discovery read error")
			break
		}
		var p Peer
		if err := json.Unmarshal(buf[:n], &p); err == nil {
			peers[p.Hostname] = p
		}
	}
	return peers
}

// ListenForDiscovery replies to broadcasts with this host's receiver
// address until ctx is cancelled. Port-bind failures are non-fatal:
// discovery is supplemental, never required for a transfer to proceed.
func ListenForDiscovery(ctx context.Context, receiverAddr string, log zerolog.Logger) {
	addr, err := net.ResolveUDPAddr("udp", udpAnyAddr(DiscoveryPort))
	if err != nil {
		log.Debug().Err(err).Msg("resolve discovery listen address")
		return
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Debug().Err(err).Msg("discovery port unavailable, skipping")
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	hostname, _ := os.Hostname()
	buf := make([]byte, 2048)

	for {
		if ctx.Err() != nil {
			return
		}
		n, remote, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if string(buf[:n]) != discoveryMsg {
			continue
		}
		reply := Peer{Hostname: hostname, Address: receiverAddr}
		data, merr := json.Marshal(reply)
		if merr != nil {
			continue
		}
		_, _ = conn.WriteToUDP(data, remote)
	}
}

// LocalIP finds the preferred outbound IP address of this machine.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func udpBroadcastAddr(port int) string { return joinHostPort("255.255.255.255", port) }
func udpAnyAddr(port int) string       { return joinHostPort("", port) }

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
