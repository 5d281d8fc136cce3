package commands

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/pinpox/heychat/internal/config"
	"github.com/pinpox/heychat/internal/tui"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the chat interface (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

func runChat() error {
	// Query the terminal background before the TUI takes over stdio.
	mdStyle := tui.DetectGlamourStyle()

	a, err := login(true)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := a.client.PublishDMRelays(ctx); err != nil {
			a.log.Warningf("publishing DM relay list: %v", err)
		}
	}()

	err = tui.Run(a.client,
		tui.WithLogger(a.logs.GetLogger("tui")),
		tui.WithMarkdownStyle(mdStyle),
	)
	if newest := a.client.Newest(); newest > 0 {
		if err := config.SaveLastSeen(configPath, nostr.Timestamp(newest/1000)); err != nil {
			a.log.Warningf("saving last seen: %v", err)
		}
	}
	return err
}
