// Package tui is the terminal chat interface. It renders the conversation
// store of a client and turns key presses and slash commands into client
// operations.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/client"
	"github.com/pinpox/heychat/internal/listener"
	hlog "github.com/pinpox/heychat/internal/log"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
)

// opTimeout bounds every network operation started from the UI.
const opTimeout = 30 * time.Second

// Client is the part of *client.Client the UI drives.
type Client interface {
	Events() <-chan client.Event
	Store() *chat.Store
	Session() *session.Config
	Connect() error
	Reconnect() error
	State() listener.State
	Send(ctx context.Context, peer account.Account, text string) (protocol.Ack, error)
	SendAttachment(ctx context.Context, peer account.Account, path string) (protocol.Ack, error)
	React(ctx context.Context, peer account.Account, messageID, emoji string) (protocol.Ack, error)
	SetReplyTarget(peer account.Account, messageID string) error
	CancelReply(peer account.Account)
	Approve(ctx context.Context, peer account.Account) error
	Reject(ctx context.Context, peer account.Account) error
	LoadHistory(ctx context.Context) error
	Requests(ctx context.Context) ([]client.Feed, error)
}

// sysLine is a local status line shown inside a conversation.
type sysLine struct {
	ts   int64 // unix millis
	text string
}

type Model struct {
	client Client
	log    *logging.Logger
	self   account.Account

	width  int
	height int

	// Sidebar: accepted chats first, then pending requests. The active
	// conversation is tracked by peer so it survives reordering.
	peers    []account.Account
	requests map[account.Account]bool
	active   account.Account
	unread   map[account.Account]bool

	viewport viewport.Model
	input    textarea.Model
	mdRender *glamour.TermRenderer
	mdStyle  string

	// System lines keyed by peer; "" holds lines shown without a peer.
	system map[account.Account][]sysLine

	lastInputHeight int

	inputHistory []string
	historyIndex int
	historySaved string

	state     listener.State
	statusMsg string

	// QR overlay (non-empty = show full-screen QR)
	qrOverlay string
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger for UI events.
func WithLogger(l *logging.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithMarkdownStyle selects the glamour style ("dark", "light", "notty").
func WithMarkdownStyle(style string) Option {
	return func(m *Model) { m.mdStyle = style }
}

// New builds the UI for a logged-in client.
func New(c Client, opts ...Option) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message... (/help for commands)"
	ta.Prompt = "> "
	ta.CharLimit = 2000
	ta.SetHeight(inputMinHeight)
	ta.MaxHeight = inputMaxHeight
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	m := &Model{
		client:          c,
		width:           80,
		height:          24,
		requests:        make(map[account.Account]bool),
		unread:          make(map[account.Account]bool),
		system:          make(map[account.Account][]sysLine),
		viewport:        viewport.New(80, 20),
		input:           ta,
		mdStyle:         "dark",
		lastInputHeight: inputMinHeight,
		historyIndex:    -1,
		state:           c.State(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = hlog.Discard("tui")
	}
	if cfg := c.Session(); cfg != nil {
		m.self = cfg.Account()
	}
	m.mdRender = newMarkdownRenderer(m.mdStyle)
	return m
}

// Run starts the UI on the terminal and blocks until the user quits.
func Run(c Client, opts ...Option) error {
	p := tea.NewProgram(New(c, opts...), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	m.addSystemMsg("heychat: encrypted direct messages")
	if npub := m.self.NPub(); npub != "" {
		m.addSystemMsg("you are " + npub)
	}
	m.addSystemMsg("use /dm <npub> to start a conversation, /help for commands")
	return tea.Batch(
		textarea.Blink,
		waitForEvent(m.client.Events()),
		connectCmd(m.client),
		loadHistoryCmd(m.client),
		fetchRequestsCmd(m.client),
	)
}

// sidebarItems returns the peers in display order.
func (m *Model) sidebarItems() []account.Account {
	items := make([]account.Account, 0, len(m.peers))
	for _, p := range m.peers {
		if !m.requests[p] {
			items = append(items, p)
		}
	}
	for _, p := range m.peers {
		if m.requests[p] {
			items = append(items, p)
		}
	}
	return items
}

func (m *Model) activeIndex() int {
	for i, p := range m.sidebarItems() {
		if p == m.active {
			return i
		}
	}
	return -1
}

// addPeer makes peer known to the sidebar. It reports whether peer is new.
func (m *Model) addPeer(peer account.Account) bool {
	if peer == "" {
		return false
	}
	for _, p := range m.peers {
		if p == peer {
			return false
		}
	}
	m.peers = append(m.peers, peer)
	if m.active == "" {
		m.active = peer
	}
	return true
}

// selectPeer switches to the conversation with peer.
func (m *Model) selectPeer(peer account.Account) {
	m.addPeer(peer)
	m.active = peer
	m.updateLayout()
}

// moveSelection moves the active conversation by delta, wrapping around.
func (m *Model) moveSelection(delta int) {
	items := m.sidebarItems()
	if len(items) < 2 {
		return
	}
	i := m.activeIndex() + delta
	if i < 0 {
		i = len(items) - 1
	}
	if i >= len(items) {
		i = 0
	}
	m.active = items[i]
	m.updateLayout()
}

func (m *Model) addSystemMsg(text string) {
	m.system[m.active] = append(m.system[m.active], sysLine{
		ts:   time.Now().UnixMilli(),
		text: text,
	})
	m.updateViewport()
}

// resolveAuthor returns the display name of an account.
func (m *Model) resolveAuthor(a account.Account) string {
	if a == m.self {
		return "you"
	}
	return a.Short()
}

// syncInputHeight resizes the textarea to match its content and re-layouts if needed.
func (m *Model) syncInputHeight() {
	lines := m.input.LineCount()
	if lines < inputMinHeight {
		lines = inputMinHeight
	}
	if lines > inputMaxHeight {
		lines = inputMaxHeight
	}
	if lines != m.lastInputHeight {
		m.input.SetHeight(lines)
		m.lastInputHeight = lines
		m.updateLayout()
	}
}

// sidebarWidth returns the width needed for the longest peer name.
func (m *Model) sidebarWidth() int {
	longest := len("REQUESTS")
	for _, p := range m.peers {
		if n := len(m.resolveAuthor(p)) + 2; n > longest {
			longest = n
		}
	}
	w := longest + sidebarPadding
	if w < minSidebarWidth {
		w = minSidebarWidth
	}
	return w
}

func (m *Model) markRequest(peer account.Account, pending bool) {
	if pending {
		m.requests[peer] = true
	} else {
		delete(m.requests, peer)
	}
}

func (m *Model) setStatus(format string, args ...any) {
	m.statusMsg = fmt.Sprintf(format, args...)
}
