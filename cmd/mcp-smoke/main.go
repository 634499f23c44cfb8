// Command mcp-smoke is an end-to-end smoke harness for the validation
// gateway: it spawns the proxy, waits for health, then drives the REST
// and MCP surfaces as a real client would. Intended for release checks,
// not CI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// scenario is one named check against the running gateway.
type scenario struct {
	name string
	fn   func(ctx context.Context, base string, session *mcp.ClientSession) error
}

func main() {
	var (
		port    = flag.Int("port", 18080, "Gateway HTTP port")
		timeout = flag.Duration("timeout", 90*time.Second, "Overall timeout")
		runOnly = flag.String("scenario", "", "Run only this named scenario")
	)
	flag.Parse()
	log.SetFlags(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	serverCmd, err := startServer(ctx, *port)
	if err != nil {
		log.Fatalf("FATAL start_server: %v", err)
	}
	defer stopServer(serverCmd)

	base := fmt.Sprintf("http://127.0.0.1:%d", *port)
	if err := waitForHealth(ctx, base); err != nil {
		log.Fatalf("FATAL health_check: %v", err)
	}
	fmt.Println("gateway: healthy")

	client := mcp.NewClient(&mcp.Implementation{Name: "mcp-smoke", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint: base + "/mcp",
	}, nil)
	if err != nil {
		log.Fatalf("FATAL mcp_connect: %v", err)
	}
	defer session.Close()

	scenarios := []scenario{
		{"rest_health", checkHealth},
		{"rest_license", checkLicense},
		{"rest_validate_malformed", checkValidateMalformed},
		{"rest_metrics", checkMetrics},
		{"mcp_tools_list", checkToolsList},
		{"mcp_validate_request", checkValidateTool},
	}

	failed := 0
	for _, s := range scenarios {
		if *runOnly != "" && s.name != *runOnly {
			continue
		}
		if err := s.fn(ctx, base, session); err != nil {
			fmt.Printf("FAIL %s: %v\n", s.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS %s\n", s.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, base string, _ *mcp.ClientSession) error {
	body, err := getJSON(ctx, base+"/health")
	if err != nil {
		return err
	}
	if body["status"] != "healthy" {
		return fmt.Errorf("status = %v", body["status"])
	}
	return nil
}

func checkLicense(ctx context.Context, base string, _ *mcp.ClientSession) error {
	body, err := getJSON(ctx, base+"/license")
	if err != nil {
		return err
	}
	if _, ok := body["license"].(string); !ok {
		return fmt.Errorf("license field missing: %v", body)
	}
	return nil
}

// checkValidateMalformed sends a non-tools/call request; the gateway
// must deny it rather than error.
func checkValidateMalformed(ctx context.Context, base string, _ *mcp.ClientSession) error {
	payload := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/validate", strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if valid, ok := body["valid"].(bool); !ok || valid {
		return fmt.Errorf("expected valid=false, got %v", body["valid"])
	}
	return nil
}

func checkMetrics(ctx context.Context, base string, _ *mcp.ClientSession) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/metrics", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !strings.Contains(string(raw), "mcpscan_gateway") {
		return fmt.Errorf("gateway collectors missing from /metrics")
	}
	return nil
}

func checkToolsList(ctx context.Context, _ string, session *mcp.ClientSession) error {
	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	want := map[string]bool{"validate_request": false, "proxy_request": false}
	for _, t := range tools.Tools {
		if _, ok := want[t.Name]; ok {
			want[t.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			return fmt.Errorf("tool %s not advertised", name)
		}
	}
	return nil
}

// checkValidateTool calls validate_request over MCP and expects a
// decision document back.
func checkValidateTool(ctx context.Context, _ string, session *mcp.ClientSession) error {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: "validate_request",
		Arguments: map[string]any{
			"request": map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"method":  "tools/call",
				"params": map[string]any{
					"name":      "read_file",
					"arguments": map[string]any{"path": "README.md"},
				},
			},
		},
	})
	if err != nil {
		return err
	}
	if result.IsError {
		return fmt.Errorf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return fmt.Errorf("unexpected content type %T", result.Content[0])
	}
	var decision map[string]any
	if err := json.Unmarshal([]byte(text.Text), &decision); err != nil {
		return fmt.Errorf("decision is not JSON: %w", err)
	}
	if _, ok := decision["valid"]; !ok {
		return fmt.Errorf("decision missing valid field: %s", text.Text)
	}
	return nil
}

func getJSON(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func startServer(ctx context.Context, port int) (*exec.Cmd, error) {
	root, err := findRepoRoot()
	if err != nil {
		return nil, fmt.Errorf("find repo root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/cli", "proxy",
		"-listen", fmt.Sprintf("127.0.0.1:%d", port), "-silent")
	cmd.Dir = root
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func stopServer(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()
}

func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		modPath := dir + string(os.PathSeparator) + "go.mod"
		if data, err := os.ReadFile(modPath); err == nil {
			if strings.Contains(string(data), "module github.com/mcpscan/mcpscan") {
				return dir, nil
			}
		}
		parent := dir[:max(strings.LastIndex(dir, string(os.PathSeparator)), 0)]
		if parent == dir || parent == "" {
			return "", fmt.Errorf("repo root not found walking up from %s", dir)
		}
		dir = parent
	}
}

func waitForHealth(ctx context.Context, base string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	url := base + "/health"

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
