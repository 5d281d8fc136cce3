package commands

import (
	"fmt"
	"os"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/pinpox/heychat/internal/account"
)

func whoamiCmd() *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the configured identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := resolveProfile()
			if err != nil {
				return err
			}
			acct, ok := account.Resolve(profile)
			if !ok {
				return fmt.Errorf("invalid profile id %q", profile)
			}
			fmt.Printf("npub:        %s\naccount:     %s\nenvironment: %s\n", acct.NPub(), acct, cfg.Env())
			if qr {
				qrterminal.GenerateWithConfig("nostr:"+acct.NPub(), qrterminal.Config{
					Level:          qrterminal.M,
					Writer:         os.Stdout,
					HalfBlocks:     true,
					BlackChar:      qrterminal.BLACK_BLACK,
					WhiteChar:      qrterminal.WHITE_WHITE,
					BlackWhiteChar: qrterminal.BLACK_WHITE,
					WhiteBlackChar: qrterminal.WHITE_BLACK,
					QuietZone:      1,
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", true, "print the npub as a QR code")
	return cmd
}
