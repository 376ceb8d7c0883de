// Command healthcheck queries the commitcast status API. It exits 0 when the
// health endpoint answers 200 with a running monitor and 1 otherwise, for use
// as a container HEALTHCHECK in images without a shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultAddr  = "127.0.0.1:8080"
	requestTimeout = 2 * time.Second
)

func main() {
	os.Exit(check(os.Getenv("COMMITCAST_LISTEN_ADDR")))
}

// healthBody is the subset of the health response that is inspected.
type healthBody struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func check(listenAddr string) int {
	if err := checkHealth(listenAddr); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	return 0
}

func checkHealth(listenAddr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	endpoint := "http://" + loopbackAddr(listenAddr) + "/api/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := (&http.Client{Timeout: requestTimeout}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint answered %s", resp.Status)
	}

	var body healthBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("health status %q", body.Status)
	}
	if body.State == "stopped" {
		return fmt.Errorf("monitor has stopped")
	}
	return nil
}

// loopbackAddr dials loopback when the server listens on every interface.
func loopbackAddr(raw string) string {
	host, port, err := net.SplitHostPort(raw)
	if raw == "" || err != nil {
		return defaultAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
