package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckAddr    string
	healthcheckTimeout time.Duration
)

// healthcheckCmd is meant for container HEALTHCHECK: exit 0 only when
// /healthz answers 200.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "探测本地服务的 /healthz",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := deriveHealthzURL(healthcheckAddr)
		if err != nil {
			return err
		}
		return runHealthcheck(u, healthcheckTimeout)
	},
}

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckAddr, "addr", "127.0.0.1:25500", "服务地址（host:port、:port、port 或 http(s) URL）")
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 3*time.Second, "探测超时")
	rootCmd.AddCommand(healthcheckCmd)
}

// deriveHealthzURL accepts a listen address or a base URL. Wildcard and
// empty hosts are probed on loopback.
func deriveHealthzURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("addr 不能为空")
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/") + "/healthz", nil
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid addr %q: %w", addr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
