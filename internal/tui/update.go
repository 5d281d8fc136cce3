package tui

import (
	"errors"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/blossom"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/client"
	"github.com/pinpox/heychat/internal/listener"
	"github.com/pinpox/heychat/internal/protocol"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)
	case tea.MouseMsg:
		return m.handleMouse(msg)
	case eventMsg:
		return m.handleEvent(msg)
	case eventsClosedMsg:
		m.setStatus("event stream closed")
		return m, nil
	case sentMsg:
		return m.handleSent(msg)
	case opErrMsg:
		return m.handleOpErr(msg)
	case historyLoadedMsg:
		return m.handleHistoryLoaded()
	case requestsMsg:
		return m.handleRequests(msg)
	case decidedMsg:
		return m.handleDecided(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m.handleInputUpdate(msg)
}

func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.updateLayout()
	return m, tea.ClearScreen
}

func (m *Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
	case tea.MouseButtonLeft:
		if msg.Action == tea.MouseActionPress && msg.X < m.sidebarWidth() {
			if peer, ok := m.sidebarItemAt(msg.Y); ok {
				m.selectPeer(peer)
			}
		}
	}
	return m, nil
}

func (m *Model) handleEvent(msg eventMsg) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.client.Events())
	switch ev := msg.ev.(type) {
	case client.StateEvent:
		m.state = ev.State
		switch {
		case ev.State == listener.ConnectionLost:
			m.setStatus("connection lost, /reconnect to retry")
			if ev.Err != nil {
				m.addSystemMsg("connection lost: " + ev.Err.Error())
			}
		case ev.Err != nil:
			m.setStatus("%v", ev.Err)
		default:
			m.setStatus("")
		}
	case client.MessageEvent:
		isNew := m.addPeer(ev.Peer)
		if ev.Peer != m.active {
			m.unread[ev.Peer] = true
		}
		if isNew && ev.Message.From != m.self {
			// Someone we have not talked to yet; the request list decides
			// where it goes.
			m.updateLayout()
			return m, tea.Batch(next, fetchRequestsCmd(m.client))
		}
		if ev.Peer == m.active {
			m.updateViewport()
		}
	case client.NoticeEvent:
		m.setStatus("%s", ev.Text)
	}
	return m, next
}

func (m *Model) handleSent(msg sentMsg) (tea.Model, tea.Cmd) {
	m.log.Debugf("sent %s to %s as %s", msg.what, msg.peer.Short(), msg.ack.ID)
	if m.requests[msg.peer] {
		// Answering a request accepts the conversation.
		m.markRequest(msg.peer, false)
	}
	if msg.what != "message" && msg.what != "reaction" {
		m.addSystemMsg("sent " + msg.what)
	}
	m.updateLayout()
	return m, nil
}

func (m *Model) handleOpErr(msg opErrMsg) (tea.Model, tea.Cmd) {
	m.log.Warningf("%s: %v", msg.what, msg.err)
	switch code := chaterr.CodeOf(msg.err); {
	case code == chaterr.CodeNotAuthenticated:
		m.addSystemMsg(msg.what + ": not logged in")
	case code == chaterr.CodeConnectionLost:
		m.addSystemMsg(msg.what + " failed: connection lost, try /reconnect")
	case code != chaterr.CodeUnknown:
		// Chat errors already name the operation.
		m.addSystemMsg(msg.err.Error())
	case errors.Is(msg.err, client.ErrNoUploader):
		m.addSystemMsg("no blossom servers configured")
	default:
		m.addSystemMsg(msg.what + " failed: " + msg.err.Error())
	}
	return m, nil
}

func (m *Model) handleHistoryLoaded() (tea.Model, tea.Cmd) {
	for _, p := range m.client.Store().Peers() {
		if p != m.self {
			m.addPeer(p)
		}
	}
	m.updateLayout()
	return m, nil
}

func (m *Model) handleRequests(msg requestsMsg) (tea.Model, tea.Cmd) {
	pending := make(map[string]bool, len(msg.feeds))
	for _, f := range msg.feeds {
		if f.Status == protocol.Pending {
			pending[string(f.Peer)] = true
			m.addPeer(f.Peer)
		}
	}
	for _, p := range m.peers {
		m.markRequest(p, pending[string(p)])
	}
	if n := len(pending); n > 0 {
		m.setStatus("%d pending chat request(s)", n)
	}
	m.updateLayout()
	return m, nil
}

func (m *Model) handleDecided(msg decidedMsg) (tea.Model, tea.Cmd) {
	switch msg.status {
	case protocol.Approved:
		m.markRequest(msg.peer, false)
		m.addSystemMsg("approved " + msg.peer.Short())
	case protocol.Rejected:
		m.removePeer(msg.peer)
		m.addSystemMsg("rejected " + msg.peer.Short())
	}
	m.updateLayout()
	return m, nil
}

// removePeer drops peer from the sidebar and selects its neighbour.
func (m *Model) removePeer(peer account.Account) {
	idx := m.activeIndex()
	for i, p := range m.peers {
		if p == peer {
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			break
		}
	}
	delete(m.requests, peer)
	delete(m.unread, peer)
	if m.active != peer {
		return
	}
	items := m.sidebarItems()
	switch {
	case len(items) == 0:
		m.active = ""
	case idx >= len(items):
		m.active = items[len(items)-1]
	case idx >= 0:
		m.active = items[idx]
	default:
		m.active = items[0]
	}
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Dismiss QR overlay on any key (except ctrl+c which still quits).
	if m.qrOverlay != "" {
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.qrOverlay = ""
		return m, nil
	}

	// Intercept bracketed paste: a file path is sent as an attachment.
	if msg.Paste {
		text := strings.TrimSpace(string(msg.Runes))
		if blossom.IsFilePath(text) && m.active != "" {
			m.addSystemMsg("uploading " + filepath.Base(text) + "...")
			return m, sendFileCmd(m.client, m.active, text)
		}
	}

	// Input history navigation, only from the first or last textarea line.
	if msg.String() == "up" && m.input.Line() == 0 && len(m.inputHistory) > 0 {
		if m.historyIndex == -1 {
			m.historySaved = m.input.Value()
			m.historyIndex = len(m.inputHistory) - 1
		} else if m.historyIndex > 0 {
			m.historyIndex--
		}
		m.input.SetValue(m.inputHistory[m.historyIndex])
		m.syncInputHeight()
		return m, nil
	}
	if msg.String() == "down" && m.input.Line() == m.input.LineCount()-1 && m.historyIndex >= 0 {
		if m.historyIndex < len(m.inputHistory)-1 {
			m.historyIndex++
			m.input.SetValue(m.inputHistory[m.historyIndex])
		} else {
			m.historyIndex = -1
			m.input.SetValue(m.historySaved)
			m.historySaved = ""
		}
		m.syncInputHeight()
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if m.active != "" {
			if _, ok := m.client.Store().ReplyTarget(m.active); ok {
				m.client.CancelReply(m.active)
				m.updateLayout()
				return m, nil
			}
		}
		return m.handleInputUpdate(msg)

	case "ctrl+up", "ctrl+p":
		m.moveSelection(-1)
		return m, nil

	case "ctrl+down", "ctrl+n":
		m.moveSelection(1)
		return m, nil

	case "pgup":
		m.viewport.ScrollUp(10)
		return m, nil

	case "pgdown":
		m.viewport.ScrollDown(10)
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.inputHistory = append(m.inputHistory, text)
		m.historyIndex = -1
		m.historySaved = ""
		m.input.Reset()
		m.input.SetHeight(inputMinHeight)
		m.lastInputHeight = inputMinHeight
		m.updateLayout()

		if strings.HasPrefix(text, "/") {
			return m.handleCommand(text)
		}
		if m.active == "" {
			m.addSystemMsg("no conversation selected, use /dm <npub>")
			return m, nil
		}
		return m, sendCmd(m.client, m.active, text)
	}

	return m.handleInputUpdate(msg)
}

func (m *Model) handleInputUpdate(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Pre-grow textarea before newline insertion so the internal viewport
	// calculates its scroll offset with the correct height.
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if s := keyMsg.String(); s == "alt+enter" || s == "ctrl+j" {
			target := m.input.LineCount() + 1
			if target > inputMaxHeight {
				target = inputMaxHeight
			}
			if target != m.lastInputHeight {
				m.input.SetHeight(target)
				m.lastInputHeight = target
				m.updateLayout()
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.syncInputHeight()
	return m, cmd
}
