package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/client"
	"github.com/pinpox/heychat/internal/protocol"
)

type (
	eventMsg        struct{ ev client.Event }
	eventsClosedMsg struct{}

	sentMsg struct {
		peer account.Account
		what string
		ack  protocol.Ack
	}
	opErrMsg struct {
		what string
		err  error
	}
	historyLoadedMsg struct{}
	requestsMsg      struct{ feeds []client.Feed }
	decidedMsg       struct {
		peer   account.Account
		status protocol.RequestStatus
	}
)

// waitForEvent blocks on the client's event stream. The handler re-issues it
// after every event.
func waitForEvent(ch <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func connectCmd(c Client) tea.Cmd {
	return func() tea.Msg {
		if err := c.Connect(); err != nil {
			return opErrMsg{what: "connect", err: err}
		}
		return nil
	}
}

func reconnectCmd(c Client) tea.Cmd {
	return func() tea.Msg {
		if err := c.Reconnect(); err != nil {
			return opErrMsg{what: "reconnect", err: err}
		}
		return nil
	}
}

func loadHistoryCmd(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := c.LoadHistory(ctx); err != nil {
			return opErrMsg{what: "history", err: err}
		}
		return historyLoadedMsg{}
	}
}

func fetchRequestsCmd(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		feeds, err := c.Requests(ctx)
		if err != nil {
			return opErrMsg{what: "requests", err: err}
		}
		return requestsMsg{feeds: feeds}
	}
}

func sendCmd(c Client, peer account.Account, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		ack, err := c.Send(ctx, peer, text)
		if err != nil {
			return opErrMsg{what: "send", err: err}
		}
		return sentMsg{peer: peer, what: "message", ack: ack}
	}
}

func sendFileCmd(c Client, peer account.Account, path string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		ack, err := c.SendAttachment(ctx, peer, path)
		if err != nil {
			return opErrMsg{what: "upload", err: err}
		}
		return sentMsg{peer: peer, what: filepath.Base(path), ack: ack}
	}
}

func reactCmd(c Client, peer account.Account, id, emoji string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		ack, err := c.React(ctx, peer, id, emoji)
		if err != nil {
			return opErrMsg{what: "react", err: err}
		}
		return sentMsg{peer: peer, what: "reaction", ack: ack}
	}
}

func decideCmd(c Client, peer account.Account, approve bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if approve {
			if err := c.Approve(ctx, peer); err != nil {
				return opErrMsg{what: "approve", err: err}
			}
			return decidedMsg{peer: peer, status: protocol.Approved}
		}
		if err := c.Reject(ctx, peer); err != nil {
			return opErrMsg{what: "reject", err: err}
		}
		return decidedMsg{peer: peer, status: protocol.Rejected}
	}
}

// findMessage resolves an id prefix in the active conversation. The newest
// match wins.
func (m *Model) findMessage(prefix string) (chat.Message, bool) {
	if prefix == "" || m.active == "" {
		return chat.Message{}, false
	}
	msgs := m.client.Store().Messages(m.active)
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.HasPrefix(msgs[i].ID, prefix) {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

func (m *Model) handleCommand(text string) (tea.Model, tea.Cmd) {
	parts := strings.SplitN(text, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/dm":
		if arg == "" {
			m.addSystemMsg("usage: /dm <npub or hex pubkey>")
			return m, nil
		}
		return m.openDM(arg)

	case "/reply":
		if m.active == "" {
			m.addSystemMsg("open a conversation first")
			return m, nil
		}
		target, ok := m.findMessage(arg)
		if !ok {
			m.addSystemMsg("no message with id " + arg)
			return m, nil
		}
		if err := m.client.SetReplyTarget(m.active, target.ID); err != nil {
			m.addSystemMsg("reply: " + err.Error())
			return m, nil
		}
		m.updateLayout()
		return m, nil

	case "/cancel":
		if m.active != "" {
			m.client.CancelReply(m.active)
			m.updateLayout()
		}
		return m, nil

	case "/react":
		fields := strings.Fields(arg)
		if len(fields) != 2 {
			m.addSystemMsg("usage: /react <id> <emoji>")
			return m, nil
		}
		target, ok := m.findMessage(fields[0])
		if !ok {
			m.addSystemMsg("no message with id " + fields[0])
			return m, nil
		}
		return m, reactCmd(m.client, m.active, target.ID, fields[1])

	case "/file":
		if m.active == "" {
			m.addSystemMsg("open a conversation first")
			return m, nil
		}
		if arg == "" {
			m.addSystemMsg("usage: /file <path>")
			return m, nil
		}
		m.addSystemMsg("uploading " + filepath.Base(arg) + "...")
		return m, sendFileCmd(m.client, m.active, arg)

	case "/approve", "/reject":
		peer := m.active
		if arg != "" {
			a, ok := account.Resolve(arg)
			if !ok {
				m.addSystemMsg("invalid public key: " + arg)
				return m, nil
			}
			peer = a
		}
		if peer == "" {
			m.addSystemMsg("usage: " + cmd + " [npub]")
			return m, nil
		}
		return m, decideCmd(m.client, peer, cmd == "/approve")

	case "/requests":
		return m, fetchRequestsCmd(m.client)

	case "/reconnect":
		m.addSystemMsg("reconnecting...")
		return m, reconnectCmd(m.client)

	case "/me":
		npub := m.self.NPub()
		if npub == "" {
			m.addSystemMsg("not logged in")
			return m, nil
		}
		m.qrOverlay = renderQR("Your npub:", "nostr:"+npub)
		return m, nil

	case "/help":
		m.addSystemMsg("/dm <npub|hex> - open a conversation")
		m.addSystemMsg("/reply <id> - reply to a message, /cancel to stop replying")
		m.addSystemMsg("/react <id> <emoji> - react to a message")
		m.addSystemMsg("/file <path> - send a file (pasting a path works too)")
		m.addSystemMsg("/approve [npub] - accept a chat request")
		m.addSystemMsg("/reject [npub] - hide a chat request")
		m.addSystemMsg("/requests - refresh pending chat requests")
		m.addSystemMsg("/reconnect - reconnect after the connection was lost")
		m.addSystemMsg("/me - show QR code of your npub")
		m.addSystemMsg("/quit - exit")
		return m, nil

	case "/quit":
		return m, tea.Quit

	default:
		m.addSystemMsg("unknown command: " + cmd)
		return m, nil
	}
}

// openDM switches to a conversation, adding the peer if new.
func (m *Model) openDM(input string) (tea.Model, tea.Cmd) {
	peer, ok := account.Resolve(strings.TrimPrefix(input, "nostr:"))
	if !ok {
		m.addSystemMsg(fmt.Sprintf("invalid public key: %s", input))
		return m, nil
	}
	if m.addPeer(peer) {
		m.log.Debugf("opened conversation with %s", peer.Short())
	}
	m.selectPeer(peer)
	return m, nil
}
