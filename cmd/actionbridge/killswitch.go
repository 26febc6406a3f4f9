package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/basket/actionbridge/internal/config"
)

// runKillSwitchCommand flips or shows the kill switch through the admin
// endpoint of a running server.
func runKillSwitchCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: actionbridge killswitch <on|off|show>")
		return 2
	}

	cfg, err := config.Load(config.DefaultHomeDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "api_key is not configured; the admin endpoint requires it")
		return 1
	}

	url := "http://" + cfg.BindAddr + "/admin/killswitch"
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var req *http.Request
	switch strings.ToLower(args[0]) {
	case "show":
		req, err = http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	case "on":
		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader([]byte(`{"active":true}`)))
	case "off":
		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader([]byte(`{"active":false}`)))
	default:
		fmt.Fprintln(os.Stderr, "usage: actionbridge killswitch <on|off|show>")
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "killswitch: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	_, _ = os.Stdout.Write(body)
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
