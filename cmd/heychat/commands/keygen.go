package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/keys"
)

// keygenLogN is the scrypt cost of the sealed key file.
const keygenLogN = 16

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity and store it password protected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.KeyPath(configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", path)
			}

			pw, err := readPassword("New password: ")
			if err != nil {
				return err
			}
			if _, ok := os.LookupEnv(passwordEnv); !ok {
				again, err := readPassword("Repeat password: ")
				if err != nil {
					return err
				}
				if again != pw {
					return errors.New("passwords do not match")
				}
			}
			if pw == "" {
				return errors.New("empty password")
			}

			key := keys.Generate()
			defer key.Zero()
			pk, err := key.PubKey()
			if err != nil {
				return err
			}
			blob, err := keys.EncryptPrivateKey(key, pw, keygenLogN)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(blob+"\n"), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath(path), []byte(pk+"\n"), 0o644); err != nil {
				return err
			}

			acct, _ := account.Resolve(pk)
			fmt.Printf("Identity created.\nnpub:    %s\naccount: %s\nkey:     %s\n", acct.NPub(), acct, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
