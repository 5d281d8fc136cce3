package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func requestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List pending chat requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := login(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout()
			defer cancel()
			feeds, err := a.client.Requests(ctx)
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				fmt.Println("no pending requests")
				return nil
			}
			for _, f := range feeds {
				last, _ := f.Last()
				fmt.Printf("%s  %s  %d message(s)  %s\n",
					f.Peer.NPub(),
					time.UnixMilli(last.Timestamp).Format("2006-01-02 15:04"),
					len(f.Messages),
					last.Content())
			}
			return nil
		},
	}
}

// decideCmd builds the approve and reject commands.
func decideCmd(approve bool) *cobra.Command {
	use, short := "approve <npub>", "Accept a chat request"
	if !approve {
		use, short = "reject <npub>", "Hide a chat request"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			a, err := login(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout()
			defer cancel()
			if approve {
				err = a.client.Approve(ctx, peer)
			} else {
				err = a.client.Reject(ctx, peer)
			}
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
