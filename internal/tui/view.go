package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/listener"
)

// idPrefixLen is how much of a message id is shown and accepted by
// /reply and /react.
const idPrefixLen = 6

func shortID(id string) string {
	if len(id) > idPrefixLen {
		return id[:idPrefixLen]
	}
	return id
}

// sidebarItemAt maps a Y coordinate to a sidebar peer. Section headers and
// rows below the last item return false.
func (m *Model) sidebarItemAt(y int) (account.Account, bool) {
	row := 1 // "CHATS"
	headed := false
	for _, p := range m.sidebarItems() {
		if m.requests[p] && !headed {
			row++ // "REQUESTS"
			headed = true
		}
		if y == row {
			return p, true
		}
		row++
	}
	return "", false
}

// renderTitleBar returns the rendered title bar for the active conversation.
func (m *Model) renderTitleBar() string {
	title := "heychat"
	if m.active != "" {
		title = "@" + m.resolveAuthor(m.active)
		if m.requests[m.active] {
			title += " (chat request: /approve or /reject)"
		}
	}
	return lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1).Render(title)
}

// renderReplyBanner shows the pending reply target, if any.
func (m *Model) renderReplyBanner() string {
	if m.active == "" {
		return ""
	}
	target, ok := m.client.Store().ReplyTarget(m.active)
	if !ok {
		return ""
	}
	text := fmt.Sprintf("replying to [%s] %s: %s (esc to cancel)",
		shortID(target.ID), m.resolveAuthor(target.From), target.Content())
	return replyBannerStyle.Render(ansi.Truncate(text, m.viewport.Width-2, "…"))
}

func (m *Model) updateLayout() {
	contentWidth := m.width - m.sidebarWidth() - sidebarBorder
	if contentWidth < 10 {
		contentWidth = 10
	}

	// Set widths first so measured heights are accurate.
	m.viewport.Width = contentWidth
	m.input.SetWidth(contentWidth)

	titleHeight := lipgloss.Height(m.renderTitleBar())
	statusHeight := lipgloss.Height(m.viewStatusBar())
	inputHeight := lipgloss.Height(m.input.View())
	bannerHeight := 0
	if b := m.renderReplyBanner(); b != "" {
		bannerHeight = lipgloss.Height(b)
	}

	contentHeight := m.height - titleHeight - statusHeight - inputHeight - bannerHeight
	if contentHeight < 1 {
		contentHeight = 1
	}

	m.viewport.Height = contentHeight
	m.updateViewport()
}

// row is one entry of the conversation view, ordered by ts.
type row struct {
	ts    int64
	lines []string
}

func (m *Model) updateViewport() {
	delete(m.unread, m.active)

	var rows []row
	for _, s := range m.system[m.active] {
		rows = append(rows, row{ts: s.ts, lines: []string{chatSystemStyle.Render("  " + s.text)}})
	}
	if m.active != "" {
		store := m.client.Store()
		for _, msg := range store.Messages(m.active) {
			if msg.Type() == codec.TypeReaction {
				if _, ok := store.Message(m.active, msg.ReferenceID()); ok {
					continue
				}
			}
			rows = append(rows, row{ts: msg.Timestamp, lines: m.renderMessage(store, msg)})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	var lines []string
	for _, r := range rows {
		lines = append(lines, r.lines...)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// renderMessage renders one message with its quote line and the reactions
// it received.
func (m *Model) renderMessage(store *chat.Store, msg chat.Message) []string {
	authorStyle := lipgloss.NewStyle().Foreground(colorForPubkey(msg.From.PubKey())).Bold(true)
	if msg.From == m.self {
		authorStyle = chatOwnAuthorStyle
	}
	ts := chatTimestampStyle.Render(time.UnixMilli(msg.Timestamp).Format("15:04"))
	id := chatTimestampStyle.Render("[" + shortID(msg.ID) + "]")
	prefix := fmt.Sprintf("%s %s %s: ", ts, id, authorStyle.Render(m.resolveAuthor(msg.From)))
	prefixW := lipgloss.Width(prefix)
	pad := strings.Repeat(" ", prefixW)

	var lines []string
	body := msg.Intent
	if reply, ok := body.(codec.Reply); ok {
		quote := "↪ [" + shortID(reply.Reference) + "]"
		if target, ok := store.Message(m.active, reply.Reference); ok {
			quote += " " + m.resolveAuthor(target.From) + ": " + target.Content()
		}
		lines = append(lines, pad+chatQuoteStyle.Render(ansi.Truncate(quote, m.viewport.Width-prefixW, "…")))
		body = reply.Body
	}

	var content string
	switch b := body.(type) {
	case codec.Text:
		// Convert single newlines to paragraph breaks for glamour.
		content = renderMarkdown(m.mdRender, strings.ReplaceAll(b.Content, "\n", "\n\n"))
	case codec.Attachment:
		name := b.File.Name
		if name == "" {
			name = "file"
		}
		content = "[" + name + "] " + b.File.URL
	case codec.Reaction:
		content = fmt.Sprintf("reacted %s to [%s]", b.Content, shortID(b.Reference))
	default:
		content = msg.Content()
	}

	contentLines := wrapContent(content, m.viewport.Width-prefixW)
	lines = append(lines, prefix+contentLines[0])
	for _, cl := range contentLines[1:] {
		lines = append(lines, pad+cl)
	}

	if r := m.renderReactions(store.Reactions(m.active, msg.ID)); r != "" {
		lines = append(lines, pad+r)
	}
	return lines
}

// renderReactions aggregates reactions by emoji in first-seen order.
func (m *Model) renderReactions(reactions []chat.Message) string {
	if len(reactions) == 0 {
		return ""
	}
	var order []string
	who := make(map[string][]string)
	for _, r := range reactions {
		emoji := r.Content()
		if _, ok := who[emoji]; !ok {
			order = append(order, emoji)
		}
		who[emoji] = append(who[emoji], m.resolveAuthor(r.From))
	}
	parts := make([]string, 0, len(order))
	for _, e := range order {
		parts = append(parts, e+" "+strings.Join(who[e], ", "))
	}
	return chatSystemStyle.Render(strings.Join(parts, "  "))
}

// wrapContent trims blank edges from rendered content, then word-wraps it
// and hard-wraps whatever still overflows (long URLs).
func wrapContent(content string, width int) []string {
	if width < 1 {
		width = 1
	}
	// strings.TrimSpace can't see through ANSI codes, so strip them first.
	rawLines := strings.Split(content, "\n")
	for len(rawLines) > 0 && strings.TrimSpace(ansi.Strip(rawLines[0])) == "" {
		rawLines = rawLines[1:]
	}
	for len(rawLines) > 0 && strings.TrimSpace(ansi.Strip(rawLines[len(rawLines)-1])) == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}
	var out []string
	for _, cl := range rawLines {
		wrapped := wordwrap.String(cl, width)
		for _, wl := range strings.Split(wrapped, "\n") {
			if lipgloss.Width(wl) > width {
				out = append(out, strings.Split(wrap.String(wl, width), "\n")...)
			} else {
				out = append(out, wl)
			}
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.qrOverlay != "" {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.qrOverlay)
	}

	mainArea := lipgloss.JoinHorizontal(lipgloss.Top, m.viewSidebar(), m.viewContent())
	return lipgloss.JoinVertical(lipgloss.Left, mainArea, m.viewStatusBar())
}

func (m *Model) viewSidebar() string {
	contentHeight := m.height - lipgloss.Height(m.viewStatusBar())
	sw := m.sidebarWidth()

	render := func(p account.Account, marker string) string {
		name := marker + m.resolveAuthor(p)
		if len(name) > sw-2 {
			name = name[:sw-2]
		}
		switch {
		case p == m.active:
			return sidebarSelectedStyle.Render(name)
		case m.unread[p]:
			return sidebarUnreadStyle.Render(name)
		}
		return sidebarItemStyle.Render(name)
	}

	items := []string{sidebarSectionStyle.Render("CHATS")}
	headed := false
	for _, p := range m.sidebarItems() {
		if m.requests[p] {
			if !headed {
				items = append(items, sidebarSectionStyle.Render("REQUESTS"))
				headed = true
			}
			items = append(items, render(p, "?"))
			continue
		}
		items = append(items, render(p, "@"))
	}

	return sidebarStyle.Width(sw).Height(contentHeight).MaxHeight(contentHeight).Render(strings.Join(items, "\n"))
}

func (m *Model) viewContent() string {
	totalHeight := m.height - lipgloss.Height(m.viewStatusBar())

	parts := []string{m.renderTitleBar(), m.viewport.View()}
	if b := m.renderReplyBanner(); b != "" {
		parts = append(parts, b)
	}
	parts = append(parts, m.input.View())

	inner := lipgloss.JoinVertical(lipgloss.Left, parts...)
	return lipgloss.NewStyle().Height(totalHeight).MaxHeight(totalHeight).Render(inner)
}

func (m *Model) viewStatusBar() string {
	var state string
	switch m.state {
	case listener.Connected:
		state = statusConnectedStyle.Render("● connected")
	case listener.Connecting:
		state = statusPendingStyle.Render("● connecting")
	case listener.ConnectionLost:
		state = statusLostStyle.Render("● connection lost")
	default:
		state = statusPendingStyle.Render("○ offline")
	}
	left := state
	if m.statusMsg != "" {
		left += "  " + m.statusMsg
	}
	right := m.self.Short()

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
