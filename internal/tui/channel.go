package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/render"
	"github.com/eachlabs/opschat/internal/session"
)

var (
	purple    = lipgloss.Color("#A855F7")
	green     = lipgloss.Color("#22C55E")
	yellow    = lipgloss.Color("#FBBF24")
	red       = lipgloss.Color("#EF4444")
	gray      = lipgloss.Color("#6B7280")
	darkGray  = lipgloss.Color("#374151")
	lightGray = lipgloss.Color("#9CA3AF")
	white     = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lightGray)

	indicatorStyle = lipgloss.NewStyle().
			Foreground(darkGray).
			Background(yellow).
			Bold(true).
			Padding(0, 1)

	selfStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true)

	authorStyle = lipgloss.NewStyle().
			Foreground(green).
			Bold(true)

	botStyle = lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true)

	bodyStyle = lipgloss.NewStyle().
			Foreground(white)

	metaStyle = lipgloss.NewStyle().
			Foreground(gray)

	failedStyle = lipgloss.NewStyle().
			Foreground(red).
			Bold(true)

	flowStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(yellow).
			PaddingLeft(1)

	buttonStyle = lipgloss.NewStyle().
			Foreground(white).
			Background(darkGray).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1)

	inputBoxFocusedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(green).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(gray)
)

// Options tunes the channel view.
type Options struct {
	// ScrollThreshold is how many lines above the bottom still count as
	// following the conversation.
	ScrollThreshold int
	// BotID authors workflow messages and is highlighted.
	BotID string
}

// Painter forwards session repaints to a running program. It exists before
// the program does, so it can be handed to session.Options.OnRender.
type Painter struct {
	p atomic.Pointer[tea.Program]
}

// Paint implements session.Options.OnRender.
func (pt *Painter) Paint(f render.Frame) {
	if p := pt.p.Load(); p != nil {
		p.Send(frameMsg(f))
	}
}

type frameMsg render.Frame

type resultMsg struct {
	note string
	err  error
}

type pressable struct {
	kind   flow.Kind
	action flow.Action
}

// ChannelModel is the bubbletea model for one session.
type ChannelModel struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	s    *session.Session
	opts Options
	ctx  context.Context

	view    session.View
	buttons []pressable
	width   int
	height  int
	ready   bool
	busy    int
	status  string
	failed  bool
}

// NewChannelModel creates the view for s.
func NewChannelModel(ctx context.Context, s *session.Session, opts Options) ChannelModel {
	ta := textarea.New()
	ta.Placeholder = "Message, or /join, /upload, /thread, /b..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(purple)

	return ChannelModel{
		textarea: ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		s:        s,
		opts:     opts,
		ctx:      ctx,
		view:     s.View(),
	}
}

func (m ChannelModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m ChannelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.view.Thread != nil {
				m.s.CloseThread()
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			line := m.textarea.Value()
			m.textarea.Reset()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			return m.submit(line)

		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			m.trackScroll()
			return m, cmd
		}
		cmds = append(cmds, m.typing())

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.trackScroll()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.textarea.SetWidth(m.width - 4)
		m.view = m.s.View()
		m.refresh(true)

	case frameMsg:
		m.view = m.s.View()
		m.refresh(msg.ScrollToBottom)

	case resultMsg:
		m.busy--
		switch {
		case msg.err != nil:
			m.status, m.failed = msg.err.Error(), true
		case msg.note != "":
			m.status, m.failed = msg.note, false
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// run executes fn off the UI goroutine.
func (m *ChannelModel) run(fn func(ctx context.Context) (string, error)) tea.Cmd {
	m.busy++
	m.status = ""
	ctx := m.ctx
	return func() tea.Msg {
		note, err := fn(ctx)
		return resultMsg{note: note, err: err}
	}
}

func (m ChannelModel) typing() tea.Cmd {
	s := m.s
	return func() tea.Msg {
		s.Typing(true)
		return nil
	}
}

func (m ChannelModel) submit(line string) (tea.Model, tea.Cmd) {
	s := m.s
	m.s.Typing(false)

	cmd, err := parseCommand(line)
	if errors.Is(err, errNotCommand) {
		text := unescape(line)
		if m.view.Thread != nil {
			return m, m.run(func(ctx context.Context) (string, error) {
				return "", s.ReplyThread(ctx, text)
			})
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			in, err := s.HandleInput(ctx, text)
			if in == session.InputDispatched && err == nil {
				return "answer sent, waiting for the bot", nil
			}
			return "", err
		})
	}
	if err != nil {
		m.status, m.failed = err.Error(), true
		return m, nil
	}

	switch cmd.name {
	case "quit":
		return m, tea.Quit

	case "channels":
		var names []string
		for _, c := range s.App().Channels() {
			names = append(names, fmt.Sprintf("%s (%s)", c.DisplayName(), c.Key()))
		}
		m.status, m.failed = strings.Join(names, "  "), false
		return m, nil

	case "join":
		ref := strings.Join(cmd.args, " ")
		ch, ok := s.App().Find(ref)
		if !ok {
			m.status, m.failed = fmt.Sprintf("no channel %q", ref), true
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", s.SelectChannel(ctx, ch.Key())
		})

	case "thread":
		i, err := index(cmd.args[0], len(m.view.Messages))
		if err != nil {
			m.status, m.failed = err.Error(), true
			return m, nil
		}
		id := m.view.Messages[i].ID
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", s.OpenThread(ctx, id)
		})

	case "close":
		s.CloseThread()
		return m, nil

	case "react":
		i, err := index(cmd.args[0], len(m.view.Messages))
		if err != nil {
			m.status, m.failed = err.Error(), true
			return m, nil
		}
		id, emoji := m.view.Messages[i].ID, cmd.args[1]
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", s.React(ctx, id, emoji)
		})

	case "upload":
		path := expandHome(strings.Join(cmd.args, " "))
		force := cmd.force
		return m, m.run(func(ctx context.Context) (string, error) {
			if err := s.SendReceipt(ctx, path, force); err != nil {
				return "", err
			}
			return "uploaded " + filepath.Base(path), nil
		})

	case "b":
		i, err := index(cmd.args[0], len(m.buttons))
		if err != nil {
			m.status, m.failed = err.Error(), true
			return m, nil
		}
		b := m.buttons[i]
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", s.Press(ctx, b.kind, b.action)
		})
	}
	return m, nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// trackScroll tells the session whether new messages should pull the
// viewport down.
func (m *ChannelModel) trackScroll() {
	below := m.viewport.TotalLineCount() - (m.viewport.YOffset + m.viewport.Height)
	m.s.SetNearBottom(m.viewport.AtBottom() || below <= m.opts.ScrollThreshold)
}

// refresh re-renders the log from the current snapshot.
func (m *ChannelModel) refresh(scroll bool) {
	if !m.ready {
		return
	}
	m.buttons = nil
	for _, fv := range m.view.Flows {
		for _, b := range fv.Buttons {
			m.buttons = append(m.buttons, pressable{kind: fv.Slot.Kind, action: b.Action})
		}
	}

	// header, rule, typing, status, rule, input box, help
	chrome := 2 + 1 + 1 + 1 + 3 + 1
	height := m.height - chrome - lipgloss.Height(m.renderFlows())
	if height < 3 {
		height = 3
	}
	m.viewport.Width = m.width - 2
	m.viewport.Height = height

	m.viewport.SetContent(m.renderLog())
	if scroll {
		m.viewport.GotoBottom()
	}
	m.trackScroll()
}

func (m ChannelModel) renderLog() string {
	v := m.view
	var b strings.Builder

	if th := v.Thread; th != nil {
		b.WriteString(metaStyle.Render("Thread, Esc to go back") + "\n\n")
		b.WriteString(m.renderMessage(0, th.Root) + "\n")
		b.WriteString(strings.Repeat("╌", max(m.width-2, 1)) + "\n")
		switch {
		case th.Err != nil:
			b.WriteString(failedStyle.Render("Could not load replies: "+th.Err.Error()) + "\n")
		case !th.Loaded:
			b.WriteString(metaStyle.Render("Loading replies...") + "\n")
		}
		for _, r := range th.Messages {
			b.WriteString(m.renderMessage(0, r) + "\n")
		}
		return b.String()
	}

	if v.Channel.Key().IsZero() {
		return metaStyle.Render("No channel open. /channels lists them, /join opens one.")
	}
	if v.Err != nil {
		b.WriteString(failedStyle.Render("Could not load messages: "+v.Err.Error()) + "\n\n")
	} else if !v.Loaded {
		b.WriteString(metaStyle.Render("Loading messages...") + "\n\n")
	}
	for i, msg := range v.Messages {
		b.WriteString(m.renderMessage(i+1, msg) + "\n")
	}
	return b.String()
}

func (m ChannelModel) renderMessage(n int, msg *channel.Message) string {
	var author string
	switch msg.UserID {
	case m.view.SelfID:
		author = selfStyle.Render("you")
	case m.opts.BotID:
		author = botStyle.Render(msg.UserID)
	default:
		author = authorStyle.Render(msg.UserID)
	}

	head := author + " " + metaStyle.Render(humanize.Time(msg.CreatedAt))
	if n > 0 {
		head = metaStyle.Render(fmt.Sprintf("%3d ", n)) + head
	}
	switch msg.Status {
	case channel.StatusSending:
		head += " " + metaStyle.Render("sending...")
	case channel.StatusFailed:
		head += " " + failedStyle.Render("failed")
	}

	lines := []string{head}
	if msg.Content != "" {
		lines = append(lines, bodyStyle.Width(max(m.width-6, 10)).Render(msg.Content))
	}
	for _, a := range msg.Attachments {
		att := "📎 " + a.Name
		if a.Size > 0 {
			att += " (" + humanize.Bytes(uint64(a.Size)) + ")"
		}
		lines = append(lines, metaStyle.Render(att))
	}

	var extras []string
	extras = append(extras, msg.ReactionSummary()...)
	if msg.ThreadCount > 0 {
		extras = append(extras, humanize.Comma(int64(msg.ThreadCount))+" "+plural(msg.ThreadCount, "reply", "replies"))
	}
	if len(extras) > 0 {
		lines = append(lines, metaStyle.Render(strings.Join(extras, "  ")))
	}
	return strings.Join(lines, "\n    ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (m ChannelModel) renderHeader() string {
	h := m.view.Header
	if h.Title == "" {
		h.Title = "opschat"
	}
	out := titleStyle.Render(h.Title)
	if h.Subtitle != "" {
		out += "  " + subtitleStyle.Render(h.Subtitle)
	}
	if h.Indicator != "" {
		out += "  " + indicatorStyle.Render(h.Indicator)
	}
	return out
}

func (m ChannelModel) renderFlows() string {
	if len(m.view.Flows) == 0 || m.view.Thread != nil {
		return ""
	}
	var blocks []string
	n := 0
	for _, fv := range m.view.Flows {
		title := metaStyle.Render(fmt.Sprintf("%s: %s", fv.Slot.Kind, strings.ReplaceAll(string(fv.Slot.State), "_", " ")))
		var row string
		if fv.Failed {
			row = failedStyle.Render("answer not delivered, try again once the bot replies")
		} else {
			var bs []string
			for _, b := range fv.Buttons {
				n++
				bs = append(bs, buttonStyle.Render(fmt.Sprintf("%d %s", n, b.Label)))
			}
			row = strings.Join(bs, " ")
			if fv.Slot.State.FreeText() {
				row += " " + metaStyle.Render("or type your answer")
			}
		}
		blocks = append(blocks, flowStyle.Render(title+"\n"+row))
	}
	return strings.Join(blocks, "\n")
}

func (m ChannelModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	rule := strings.Repeat("─", max(m.width-2, 1))

	b.WriteString(m.renderHeader() + "\n")
	b.WriteString(rule + "\n")
	b.WriteString(m.viewport.View() + "\n")

	if flows := m.renderFlows(); flows != "" {
		b.WriteString(flows + "\n")
	}

	switch {
	case m.busy > 0:
		b.WriteString(m.spinner.View() + " " + metaStyle.Render("Working...") + "\n")
	case m.view.Typing != "":
		b.WriteString(metaStyle.Italic(true).Render(m.view.Typing) + "\n")
	default:
		b.WriteString("\n")
	}

	switch {
	case m.status == "":
		b.WriteString("\n")
	case m.failed:
		b.WriteString(failedStyle.Render(m.status) + "\n")
	default:
		b.WriteString(metaStyle.Render(m.status) + "\n")
	}

	inputStyle := inputBoxFocusedStyle
	if m.busy > 0 {
		inputStyle = inputBoxStyle
	}
	b.WriteString(inputStyle.Render(m.textarea.View()) + "\n")

	help := "Enter to send • /b n presses a button • Esc closes thread or quits"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// Run starts the channel view. painter must be the one the session was
// created with.
func Run(ctx context.Context, s *session.Session, painter *Painter, opts Options) error {
	model := NewChannelModel(ctx, s, opts)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	painter.p.Store(p)
	defer painter.p.Store(nil)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
