package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsService = "_teleprompter-collab._tcp"

// RegisterService advertises this agent over mDNS so other agents on the
// LAN can find it. The returned shutdown func must be called on exit.
func RegisterService(port int) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("collab-agent-%s", host),
		mdnsService,
		"local.",
		port,
		[]string{"role=agent"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	log.Printf("mDNS service registered on port %d", port)
	return server.Shutdown, nil
}

// DiscoverServer browses the LAN for a collab server and returns its
// websocket URL, or an error when none answers within the timeout.
func DiscoverServer(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, mdnsService, "local.", entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no collab server found within %s", timeout)
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no collab server found within %s", timeout)
			}
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			url := fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port)
			log.Printf("mDNS discovered server %s at %s", entry.Instance, url)
			return url, nil
		}
	}
}
