package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/browserbridge/bridge/internal/config"
)

// daemonBaseURL derives the daemon address from the effective configuration.
// A wildcard bind address is reached over loopback.
func daemonBaseURL(cfg config.Config) string {
	host := cfg.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	cfg, err := config.Load()
	if err != nil {
		return out.Error("Failed to load configuration", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(daemonBaseURL(cfg) + "/api/v1/status")
	if err != nil {
		return out.Error("Failed to reach daemon (is bridged running?)", err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return out.Error("Invalid response from daemon", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  Address: %s\n", daemonBaseURL(cfg))
	fmt.Printf("  Extension: %v\n", status["extension"])
	if uptime, ok := status["uptime"]; ok {
		fmt.Printf("  Uptime: %v seconds\n", uptime)
	}
	return nil
}
