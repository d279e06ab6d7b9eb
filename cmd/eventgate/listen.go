package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderline/eventgate/internal/config"
	"github.com/orderline/eventgate/pkg/client"
)

// runListen connects as a client and prints every received frame, one JSON
// document per line.
func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	tenant := fs.String("tenant", "", "tenant id sent in the handshake")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	m := client.New(client.Options{
		URL:               *url,
		TenantID:          *tenant,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		MaxReconnectDelay: cfg.Client.MaxReconnectDelay,
		MaxRetries:        cfg.Client.MaxRetries,
		Handler: func(frame json.RawMessage) {
			_ = enc.Encode(frame)
		},
		OnStateChange: func(s client.State) {
			slog.Info("client state", "state", s.String())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Close()
}
