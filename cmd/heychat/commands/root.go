// Package commands implements the heychat command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/pinpox/heychat/internal/config"
)

var (
	configPath string
	envName    string
	profileID  string

	cfg config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:          "heychat",
		Short:        "End-to-end encrypted direct messages over Nostr relays",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if envName != "" {
				cfg.Environment = envName
			}
			if profileID != "" {
				cfg.ProfileID = profileID
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/heychat/config.toml)")
	root.PersistentFlags().StringVarP(&envName, "env", "e", "", "environment: prod, staging or dev")
	root.PersistentFlags().StringVar(&profileID, "profile", "", "profile id (npub or hex) to log in as")

	root.AddCommand(
		chatCmd(),
		keygenCmd(),
		whoamiCmd(),
		sendCmd(),
		requestsCmd(),
		decideCmd(true),
		decideCmd(false),
	)
	return root.Execute()
}
