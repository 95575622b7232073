package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type checkPayload struct {
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
	Method   string `json:"method"`
}

type domainPayload struct {
	Name   string         `json:"name"`
	Checks []checkPayload `json:"checks"`
}

// payloadFor turns a site URL into a domain with a single GET check.
func payloadFor(raw string) (domainPayload, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return domainPayload{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domainPayload{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() != "" {
		return domainPayload{}, fmt.Errorf("need a bare host name without a port")
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return domainPayload{
		Name:   strings.ToLower(u.Hostname()),
		Checks: []checkPayload{{Path: path, Protocol: u.Scheme, Method: "get"}},
	}, nil
}

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter a site URL to monitor (e.g., https://example.com/health): ")
	raw, _ := reader.ReadString('\n')

	p, err := payloadFor(raw)
	if err != nil {
		fmt.Println("Invalid URL:", err)
		return
	}

	body, _ := json.Marshal(p)
	req, err := http.NewRequest(http.MethodPost, api+"/api/domains", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Invalid API_BASE:", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Printf("Added %s! See GET /api/status/%s once the first probe has run.\n", p.Name, p.Name)
		return
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	fmt.Println("API returned status:", resp.Status, strings.TrimSpace(string(msg)))
}
