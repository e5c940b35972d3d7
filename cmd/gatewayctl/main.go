// Command gatewayctl is a small operator client for the gateway. It speaks
// the websocket wire protocol for request commands and plain HTTP for the
// health and system-info endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pulsegate/backend/pkg/sdk"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := sdk.Config{
		GatewayURL: os.Getenv("GATEWAY_URL"),
		Token:      os.Getenv("GATEWAY_TOKEN"),
		Format:     os.Getenv("GATEWAY_FORMAT"),
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "http://localhost:8080"
	}

	var err error
	switch os.Args[1] {
	case "echo":
		err = runRequest(cfg, func(ctx context.Context, c *sdk.Client) (*sdk.Response, error) {
			return c.Echo(ctx)
		})
	case "whoami":
		err = runRequest(cfg, func(ctx context.Context, c *sdk.Client) (*sdk.Response, error) {
			return c.WhoAmI(ctx)
		})
	case "broadcast":
		err = cmdBroadcast(cfg, os.Args[2:])
	case "time":
		err = runRequest(cfg, func(ctx context.Context, c *sdk.Client) (*sdk.Response, error) {
			return c.ServerTime(ctx)
		})
	case "health":
		err = get(cfg, "/health")
	case "system-info":
		err = get(cfg, "/system-info")
	case "version":
		fmt.Printf("gatewayctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Gateway CLI v` + version + `

Usage: gatewayctl <command> [flags]

Commands:
  echo         Send an echo request
  whoami       Show the authenticated identity
  broadcast    Send a broadcast to all connected clients (admin)
  time         Fetch the server time
  health       Check gateway health
  system-info  Show runtime diagnostics (admin)
  version      Print version
  help         Show this help

Environment:
  GATEWAY_URL      Gateway URL (default: http://localhost:8080)
  GATEWAY_TOKEN    Bearer token for authentication
  GATEWAY_FORMAT   Wire format: json or protobuf (default: json)

Examples:
  gatewayctl whoami
  gatewayctl broadcast --message "maintenance at noon"`)
}

func cmdBroadcast(cfg sdk.Config, args []string) error {
	fs := flag.NewFlagSet("broadcast", flag.ExitOnError)
	message := fs.String("message", "", "Message to broadcast")
	fs.Parse(args)
	if *message == "" {
		return fmt.Errorf("broadcast requires --message")
	}
	return runRequest(cfg, func(ctx context.Context, c *sdk.Client) (*sdk.Response, error) {
		return c.Announce(ctx, *message)
	})
}

func runRequest(cfg sdk.Config, call func(context.Context, *sdk.Client) (*sdk.Response, error)) error {
	client, err := sdk.Dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := call(context.Background(), client)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", resp.Status)
	return printJSON(resp.Data)
}

func get(cfg sdk.Config, path string) error {
	req, err := http.NewRequest(http.MethodGet, cfg.GatewayURL+path, nil)
	if err != nil {
		return err
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", resp.Status)

	var pretty map[string]any
	if json.Unmarshal(body, &pretty) == nil {
		return printJSON(pretty)
	}
	fmt.Println(string(body))
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
