package commands

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `dcassist health` command. It probes a running
// gateway, so container health checks can reuse the binary itself.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether a running gateway is healthy",
		Long: `Query the /health endpoint of a running dcassist gateway.

Exits non-zero when the gateway is unreachable or unhealthy, which makes
the command usable as a Docker HEALTHCHECK.`,
		RunE: runHealth,
	}
	cmd.Flags().String("address", "", "gateway address to probe (defaults to the configured one)")
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	address, _ := cmd.Flags().GetString("address")
	if address == "" {
		// No config is not fatal here: fall back to the default bind.
		address = ":8090"
		if cfg, _, err := resolveConfig(cmd); err == nil {
			address = cfg.Gateway.Address
		}
	}

	url, err := healthURL(address)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: %s: %s", resp.Status, body)
	}
	fmt.Println(string(body))
	return nil
}

// healthURL turns a bind address like ":8090" or "0.0.0.0:8090" into a
// loopback URL a local probe can reach.
func healthURL(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("invalid gateway address %q: %w", address, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port)), nil
}
