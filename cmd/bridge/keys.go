package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/browserbridge/bridge/internal/auth"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/keystore"
)

// openKeyService opens the key store at the configured location. The caller
// must Close the returned store.
func openKeyService() (*keystore.Store, *auth.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	paths := config.GetPaths(cfg.ConfigDir)
	if err := config.EnsureDirs(paths); err != nil {
		return nil, nil, err
	}
	store, err := keystore.Open(paths.KeysDB)
	if err != nil {
		return nil, nil, err
	}
	return store, auth.NewService(store), nil
}

func generateKey(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	name, _ := cmd.Flags().GetString("name")
	commands, _ := cmd.Flags().GetStringSlice("commands")
	ips, _ := cmd.Flags().GetStringSlice("ip")

	store, svc, err := openKeyService()
	if err != nil {
		return out.Error("Failed to open key store", err)
	}
	defer store.Close()

	secret, err := svc.Generate(name, commands, ips)
	if err != nil {
		return out.Error("Failed to generate key", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{
			"key":      secret,
			"name":     name,
			"commands": commands,
			"ips":      ips,
		})
	}

	fmt.Printf("API key for %q:\n", name)
	fmt.Printf("  %s\n", secret)
	fmt.Println("Store it securely; it will not be shown again.")
	if len(commands) > 0 {
		fmt.Printf("  Allowed commands: %s\n", strings.Join(commands, ", "))
	}
	if len(ips) > 0 {
		fmt.Printf("  Allowed IPs: %s\n", strings.Join(ips, ", "))
	}
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	store, svc, err := openKeyService()
	if err != nil {
		return out.Error("Failed to open key store", err)
	}
	defer store.Close()

	keys, err := svc.List()
	if err != nil {
		return out.Error("Failed to list keys", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"keys": keys})
	}

	if len(keys) == 0 {
		fmt.Println("No API keys. The daemon accepts unauthenticated requests until one exists.")
		return nil
	}

	fmt.Println("API keys:")
	fmt.Println("Prefix\t\tName\t\tCreated\t\t\tLast used")
	for _, key := range keys {
		lastUsed := "never"
		if key.LastUsed != nil {
			lastUsed = key.LastUsed.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s\t%s\t\t%s\t%s\n",
			key.MaskedPrefix,
			key.Name,
			key.Created.Format("2006-01-02 15:04:05"),
			lastUsed)
	}
	return nil
}

func revokeKey(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	prefix := args[0]

	store, svc, err := openKeyService()
	if err != nil {
		return out.Error("Failed to open key store", err)
	}
	defer store.Close()

	deleted, err := svc.Revoke(prefix)
	if err != nil {
		switch {
		case errors.Is(err, keystore.ErrNotFound):
			return out.Error(fmt.Sprintf("No key matches prefix %q", prefix), nil)
		case errors.Is(err, keystore.ErrAmbiguous):
			return out.Error(fmt.Sprintf("Prefix %q matches multiple keys; use more characters", prefix), nil)
		default:
			return out.Error("Failed to revoke key", err)
		}
	}

	return out.Success(fmt.Sprintf("Key %q revoked", deleted.Name), map[string]interface{}{
		"name": deleted.Name,
	})
}
