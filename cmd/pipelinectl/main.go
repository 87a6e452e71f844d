// Command pipelinectl is a thin CLI wrapping the control API, grounded on
// the teacher's cmd/agentctl: parse a verb and arguments, issue one HTTP
// call, print the JSON response.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "control API base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	if err := dispatch(*addr, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pipelinectl [-addr URL] <command> [args...]

commands:
  pause <stage>
  resume <stage>
  status
  stats
  pending <stage>
  rejected
  failed
  fallback
  history <item-id>
  resubmit <item-id>
  set-setting <key> <value>
  rebind <stage> <provider> <base_url> <model>
  probe <stage>
  reload-endpoints
  stuck
  reset-stuck
  logs`)
}

func dispatch(addr, cmd string, args []string) error {
	switch cmd {
	case "pause":
		return call(addr, http.MethodPost, path("/v1/stages/%s/pause", need(args, 0)), nil)
	case "resume":
		return call(addr, http.MethodPost, path("/v1/stages/%s/resume", need(args, 0)), nil)
	case "status":
		return call(addr, http.MethodGet, "/v1/queue/status", nil)
	case "stats":
		return call(addr, http.MethodGet, "/v1/queue/stats", nil)
	case "pending":
		return call(addr, http.MethodGet, "/v1/items/pending?stage="+need(args, 0), nil)
	case "rejected":
		return call(addr, http.MethodGet, "/v1/items/rejected", nil)
	case "failed":
		return call(addr, http.MethodGet, "/v1/items/failed", nil)
	case "fallback":
		return call(addr, http.MethodGet, "/v1/fallback", nil)
	case "history":
		return call(addr, http.MethodGet, path("/v1/items/%s/history", need(args, 0)), nil)
	case "resubmit":
		return call(addr, http.MethodPost, path("/v1/items/%s/resubmit", need(args, 0)), nil)
	case "set-setting":
		body, err := json.Marshal(map[string]string{"value": need(args, 1)})
		if err != nil {
			return err
		}
		return call(addr, http.MethodPut, path("/v1/settings/%s", need(args, 0)), bytes.NewReader(body))
	case "rebind":
		body, err := json.Marshal(map[string]string{
			"provider": need(args, 1),
			"base_url": need(args, 2),
			"model":    need(args, 3),
		})
		if err != nil {
			return err
		}
		return call(addr, http.MethodPut, path("/v1/endpoints/%s", need(args, 0)), bytes.NewReader(body))
	case "probe":
		return call(addr, http.MethodGet, path("/v1/endpoints/%s/probe", need(args, 0)), nil)
	case "reload-endpoints":
		return call(addr, http.MethodPost, "/v1/endpoints/reload", nil)
	case "stuck":
		return call(addr, http.MethodGet, "/v1/stuck", nil)
	case "reset-stuck":
		return call(addr, http.MethodPost, "/v1/stuck/reset", nil)
	case "logs":
		return call(addr, http.MethodGet, "/v1/logs", nil)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func need(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}

func path(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func call(addr, method, urlPath string, body io.Reader) error {
	req, err := http.NewRequest(method, strings.TrimRight(addr, "/")+urlPath, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, mustRead(resp.Body), "", "  "); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func mustRead(r io.Reader) []byte {
	b, err := io.ReadAll(r)
	if err != nil {
		return []byte("{}")
	}
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
