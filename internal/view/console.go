// Package view renders session state to a terminal.
package view

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"charm.land/lipgloss/v2"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// TimeLayout is how message timestamps are printed (local time).
const TimeLayout = "02.01.2006 15:04:05"

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorAuthor  = lipgloss.Color("#06B6D4")
	colorError   = lipgloss.Color("#EF4444")
)

type styles struct {
	header    lipgloss.Style
	active    lipgloss.Style
	timestamp lipgloss.Style
	author    lipgloss.Style
	system    lipgloss.Style
	notice    lipgloss.Style
	err       lipgloss.Style
}

func colorStyles() styles {
	return styles{
		header:    lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		active:    lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		timestamp: lipgloss.NewStyle().Foreground(colorMuted),
		author:    lipgloss.NewStyle().Foreground(colorAuthor).Bold(true),
		system:    lipgloss.NewStyle().Bold(true),
		notice:    lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		err:       lipgloss.NewStyle().Foreground(colorError).Bold(true),
	}
}

func plainStyles() styles {
	plain := lipgloss.NewStyle()
	return styles{
		header:    plain,
		active:    plain,
		timestamp: plain,
		author:    plain,
		system:    plain,
		notice:    plain,
		err:       plain,
	}
}

// Console writes the channel list, messages and notifications as lines of
// text. It is safe for concurrent use.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	st       styles
	prompt   string
	channels []core.Channel
	active   core.ChannelID
	visible  bool
}

// NewConsole returns a Console writing to out. With color off every line is
// plain text.
func NewConsole(out io.Writer, color bool) *Console {
	st := plainStyles()
	if color {
		st = colorStyles()
	}
	return &Console{out: out, st: st, prompt: "> "}
}

// SetChannels replaces the channel list and prints it.
func (c *Console) SetChannels(channels []core.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channels = append([]core.Channel(nil), channels...)
	c.printChannelsLocked()
}

// AddChannel appends ch to the list.
func (c *Console) AddChannel(ch core.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channels = append(c.channels, ch)
	c.linef("%s", c.st.notice.Render(fmt.Sprintf("joined #%s (%s)", ch.Name, ch.ID)))
}

// RemoveChannel drops id from the list.
func (c *Console) RemoveChannel(id core.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ch := range c.channels {
		if ch.ID == id {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			c.linef("%s", c.st.notice.Render(fmt.Sprintf("left #%s (%s)", ch.Name, ch.ID)))
			break
		}
	}
	if c.active == id {
		c.active = ""
	}
}

// SetActive marks id as the active channel, or unmarks it.
func (c *Console) SetActive(id core.ChannelID, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !active {
		if c.active == id {
			c.active = ""
		}
		return
	}
	c.active = id
	c.linef("%s", c.st.header.Render("== #"+c.nameLocked(id)+" =="))
}

// ReplaceMessages prints msgs as the new content of the message area.
func (c *Console) ReplaceMessages(msgs []core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.visible {
		return
	}
	if len(msgs) == 0 {
		c.linef("%s", c.st.notice.Render("(no messages yet)"))
		return
	}
	for _, msg := range msgs {
		c.linef("%s", c.formatLocked(msg))
	}
}

// AppendMessage prints one message.
func (c *Console) AppendMessage(msg core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.visible {
		return
	}
	c.linef("%s", c.formatLocked(msg))
}

// ShowMessageArea toggles message output.
func (c *Console) ShowMessageArea(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.visible == visible {
		return
	}
	c.visible = visible
	if !visible {
		c.linef("%s", c.st.notice.Render("no channel selected, /join <name> to start"))
	}
}

// ClearComposer prints a fresh prompt.
func (c *Console) ClearComposer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prompt != "" {
		fmt.Fprint(c.out, c.prompt)
	}
}

// Notify prints err.
func (c *Console) Notify(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.linef("%s", c.st.err.Render("error: "+err.Error()))
}

// Println prints s as-is.
func (c *Console) Println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linef("%s", s)
}

// PrintChannels prints the channel list with the active entry marked.
func (c *Console) PrintChannels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printChannelsLocked()
}

// Format renders msg the way the console prints it, without styling.
func Format(msg core.Message) string {
	return plainStyles().format(msg)
}

func (c *Console) formatLocked(msg core.Message) string {
	return c.st.format(msg)
}

func (st styles) format(msg core.Message) string {
	ts := msg.Time().Format(TimeLayout)
	if msg.IsSystem() {
		return st.system.Render(ts + " - " + msg.Text)
	}
	return st.timestamp.Render("["+ts+"]") + " " + st.author.Render(msg.Author+":") + " " + msg.Text
}

func (c *Console) printChannelsLocked() {
	if len(c.channels) == 0 {
		c.linef("%s", c.st.notice.Render("no channels joined"))
		return
	}
	var b strings.Builder
	b.WriteString(c.st.header.Render("channels:"))
	for _, ch := range c.channels {
		b.WriteString("\n")
		entry := fmt.Sprintf("  %s  #%s", ch.ID, ch.Name)
		if ch.ID == c.active {
			b.WriteString(c.st.active.Render(entry + " *"))
			continue
		}
		b.WriteString(entry)
	}
	c.linef("%s", b.String())
}

func (c *Console) nameLocked(id core.ChannelID) string {
	for _, ch := range c.channels {
		if ch.ID == id {
			return ch.Name
		}
	}
	return id.String()
}

func (c *Console) linef(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}
