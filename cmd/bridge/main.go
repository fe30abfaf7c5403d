package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bridgeversion "github.com/browserbridge/bridge/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter renders command results as JSON or human-readable text
// depending on the --json flag.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "bridge",
		Short: "Browser Bridge - manage API keys and inspect the gateway daemon",
	}
	rootCmd.Version = bridgeversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func main() {
	keygenCmd := &cobra.Command{
		Use:           "keygen",
		Short:         "Generate a new API key",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          generateKey,
	}
	keygenCmd.Flags().String("name", "unnamed", "Display name for the key")
	keygenCmd.Flags().StringSlice("commands", nil, "Restrict the key to these commands (repeatable or comma-separated)")
	keygenCmd.Flags().StringSlice("ip", nil, "Restrict the key to these client IPs (repeatable or comma-separated)")

	keysCmd := &cobra.Command{
		Use:           "keys",
		Short:         "List API keys (masked)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listKeys,
	}

	revokeCmd := &cobra.Command{
		Use:           "revoke <prefix>",
		Short:         "Revoke the API key matching the given prefix",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          revokeKey,
	}

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	rootCmd.AddCommand(keygenCmd, keysCmd, revokeCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		// Error is already printed by command handlers
		os.Exit(1)
	}
}
