package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pinpox/heychat/internal/protocol"
)

// send <peer> <message...>: send one message and exit.
func sendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send <npub> [message...]",
		Short: "Send a message or a file to a peer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if text == "" && file == "" {
				return fmt.Errorf("nothing to send")
			}

			a, err := login(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout()
			defer cancel()
			var ack protocol.Ack
			if file != "" {
				if ack, err = a.client.SendAttachment(ctx, peer, file); err != nil {
					return err
				}
				fmt.Println("sent", file, ack.ID)
			}
			if text != "" {
				if ack, err = a.client.Send(ctx, peer, text); err != nil {
					return err
				}
				fmt.Println("sent", ack.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "upload a file and send it as an attachment")
	return cmd
}
