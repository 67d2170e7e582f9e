package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/skylattice/orbit/internal/config"
	"github.com/skylattice/orbit/internal/secrets"
)

// NewSecretCommand returns the secret subcommand. Secrets are encrypted
// with an age key under ORBIT_PATH and stored as ENC[age:...] blobs in the
// .env file; model auth resolution decrypts them transparently.
func NewSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Manage encrypted credentials",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Generate the age encryption key",
				Action: runSecretInit,
			},
			{
				Name:      "set",
				Usage:     "Encrypt a value and store it in the .env file",
				ArgsUsage: "<ENV_VAR> <value>",
				Action:    runSecretSet,
			},
		},
	}
}

func runSecretInit(_ context.Context, _ *cli.Command) error {
	keyPath := secrets.KeyPath()
	if _, err := os.Stat(keyPath); err == nil {
		return fmt.Errorf("key already exists at %s", keyPath)
	}

	if err := secrets.GenerateIdentity(keyPath); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	fmt.Printf("Encryption key written to %s\n", keyPath)
	return nil
}

func runSecretSet(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().Get(0)
	value := cmd.Args().Get(1)
	if name == "" || value == "" {
		return fmt.Errorf("usage: orbit secret set <ENV_VAR> <value>")
	}

	identity, err := secrets.LoadIdentity(secrets.KeyPath())
	if err != nil {
		return fmt.Errorf("load key (run `orbit secret init` first): %w", err)
	}

	blob, err := secrets.Encrypt(value, identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	envPath := config.DotenvPath()
	if err := secrets.SetEntry(envPath, name, blob); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}

	fmt.Printf("%s stored encrypted in %s\n", name, envPath)
	return nil
}
