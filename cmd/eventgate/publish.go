package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const publishTimeout = 10 * time.Second

// runPublish posts one event to a running gateway's ingress API.
func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	base := fs.String("url", "http://localhost:8080", "gateway base URL")
	tenant := fs.String("tenant", "", "tenant id; empty broadcasts to every tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("publish: expected exactly one JSON payload argument")
	}

	payload := []byte(fs.Arg(0))
	if !json.Valid(payload) {
		return errors.New("publish: payload is not valid JSON")
	}

	target, err := publishURL(*base, *tenant)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("publish: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = os.Stdout.Write(body)
	return nil
}

// publishURL builds the ingress endpoint for an optional tenant.
func publishURL(base, tenant string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("publish: parse url: %w", err)
	}
	if tenant == "" {
		return u.JoinPath("api", "v1", "broadcast").String(), nil
	}
	return u.JoinPath("api", "v1", "tenants", tenant, "broadcast").String(), nil
}
