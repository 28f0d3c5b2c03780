// The collab agent is the offline-first client daemon. Edits made while
// disconnected land in a durable queue and drain to the server, in order,
// once the link is back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/agent"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/conflict"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/syncq"
)

func main() {
	serverURL := flag.String("server", "", "collab server websocket URL (default: discover via mDNS)")
	queuePath := flag.String("queue", "agent-queue.db", "path of the durable sync queue")
	maxRetries := flag.Int("max-retries", 5, "retry budget per queued item")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := *serverURL
	if url == "" {
		discovered, err := agent.DiscoverServer(ctx, 15*time.Second)
		if err != nil {
			log.Fatalf("discover server: %v", err)
		}
		url = discovered
	}

	transport := agent.NewTransport(url)
	queue, err := syncq.Open(syncq.Config{
		Path:      *queuePath,
		Transport: transport,
		Resolve:   conflict.Resolve,
		ApplyRemote: func(item syncq.PendingItem) error {
			log.Printf("applying remote %s %s/%s", item.Kind, item.EntityType, item.EntityID)
			return nil
		},
		OnPermanentFailure: func(item syncq.PendingItem, err error) {
			// Surfaced to the user through the agent log; the item is
			// gone from the queue.
			log.Printf("PERMANENT FAILURE: %v", err)
		},
		MaxRetries: *maxRetries,
		AckWindow:  10 * time.Second,
	})
	if err != nil {
		log.Fatalf("open sync queue: %v", err)
	}
	defer queue.Close()
	transport.AttachQueue(queue)

	if pending := queue.PendingCount(); pending > 0 {
		log.Printf("%d items pending from a previous run", pending)
	}

	shutdownMDNS, err := agent.RegisterService(8080)
	if err != nil {
		log.Printf("mDNS registration failed: %v", err)
	} else {
		defer shutdownMDNS()
	}

	queue.Start(ctx)
	go transport.Run(ctx)

	// Demo mutation stream until a local editor is wired in.
	if flag.Arg(0) == "demo" {
		payload, _ := json.Marshal(map[string]string{"content": "queued while offline"})
		if _, err := queue.Enqueue("document", "demo-doc", syncq.Update, payload); err != nil {
			log.Printf("enqueue: %v", err)
		}
	}

	log.Printf("collab agent running (server %s, queue %s)", url, *queuePath)
	<-ctx.Done()
	log.Println("shutting down")
}
