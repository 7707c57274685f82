// Package tui implements the interactive broker explorer: a topic tree fed
// by session snapshots, a message pane, and forms for subscribe, publish
// and unsubscribe. The model polls the session core once per tick; nothing
// in the render path blocks on the network.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog"

	"github.com/termqapp/termq/internal/core/config"
	"github.com/termqapp/termq/internal/mqtt/session"
)

const toastLifetime = 5 * time.Second

// tickMsg drives the snapshot poll.
type tickMsg time.Time

// toast is a notice with a display deadline.
type toast struct {
	notice  session.Notice
	expires time.Time
}

type focusArea int

const (
	focusTopics focusArea = iota
	focusMessages
)

// Model is the bubbletea model for the explorer.
type Model struct {
	sess *session.Session
	cfg  *config.Config
	log  zerolog.Logger

	keys keyMap
	help help.Model

	width  int
	height int

	focus    focusArea
	selected string // selected topic name; survives list reordering

	connState session.ConnState
	topics    []session.TopicInfo
	allTopics []session.TopicInfo
	subs      []session.Subscription
	stats     session.Stats
	toasts    []toast

	filterInput textinput.Model
	filtering   bool

	msgView viewport.Model

	form     *huh.Form
	formKind formKind
	formData formData

	showHelp bool
}

// New builds the model and queues the initial connect plus the configured
// subscriptions. The commands are applied once the program starts ticking.
func New(sess *session.Session, cfg *config.Config, log zerolog.Logger) Model {
	filter := textinput.New()
	filter.Placeholder = "sensors/**"
	filter.Prompt = "/ "
	filter.CharLimit = 128

	m := Model{
		sess:        sess,
		cfg:         cfg,
		log:         log.With().Str("component", "tui").Logger(),
		keys:        defaultKeyMap(),
		help:        help.New(),
		filterInput: filter,
		msgView:     viewport.New(0, 0),
	}

	m.submit(session.Connect(endpointFromConfig(cfg)))
	for _, sub := range cfg.Subscriptions {
		m.submit(session.Subscribe(sub.Filter, sub.QoS))
	}

	return m
}

// endpointFromConfig maps the broker configuration onto a session endpoint.
func endpointFromConfig(cfg *config.Config) session.Endpoint {
	return session.Endpoint{
		URL:            cfg.Broker.URL,
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      cfg.Broker.KeepAlive.Std(),
		CleanSession:   cfg.Broker.CleanSession,
		ConnectTimeout: cfg.Broker.ConnectTimeout.Std(),
	}
}

func (m *Model) submit(cmd session.Command) {
	if err := m.sess.Submit(cmd); err != nil {
		m.log.Warn().Err(err).Stringer("command", cmd.Kind).Msg("command dropped")
		m.pushToast(session.Notice{
			Level:   session.NoticeWarn,
			Message: "busy, command dropped: " + cmd.Kind.String(),
			Time:    time.Now(),
		})
	}
}

func (m *Model) pushToast(n session.Notice) {
	m.toasts = append(m.toasts, toast{notice: n, expires: time.Now().Add(toastLifetime)})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.scheduleTick()
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.cfg.TUI.PollInterval.Std(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, m.scheduleTick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.form != nil {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		return m.updateForm(msg)
	}
	if m.filtering {
		return m.updateFilter(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.sess.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		if m.focus == focusTopics {
			m.focus = focusMessages
		} else {
			m.focus = focusTopics
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.focus == focusMessages {
			m.msgView.ScrollUp(1)
			return m, nil
		}
		m.moveSelection(-1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.focus == focusMessages {
			m.msgView.ScrollDown(1)
			return m, nil
		}
		m.moveSelection(1)
		return m, nil

	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		m.filterInput.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Connect):
		m.submit(session.Connect(endpointFromConfig(m.cfg)))
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		m.submit(session.Disconnect())
		return m, nil

	case key.Matches(msg, m.keys.Subscribe):
		m.formData = formData{}
		m.formKind = formSubscribe
		m.form = newSubscribeForm(&m.formData)
		return m, m.form.Init()

	case key.Matches(msg, m.keys.Unsubscribe):
		if len(m.subs) == 0 {
			return m, nil
		}
		m.formData = formData{}
		m.formKind = formUnsubscribe
		m.form = newUnsubscribeForm(&m.formData, m.subs)
		return m, m.form.Init()

	case key.Matches(msg, m.keys.Publish):
		m.formData = formData{Topic: m.selected}
		m.formKind = formPublish
		m.form = newPublishForm(&m.formData)
		return m, m.form.Init()

	case key.Matches(msg, m.keys.Clear):
		if m.selected != "" {
			m.submit(session.ClearTopic(m.selected))
		}
		return m, nil
	}

	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.filterInput.SetValue("")
		m.filterInput.Blur()
		m.applyFilter()
		return m, nil
	case "enter":
		m.filtering = false
		m.filterInput.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.closeForm()
		return m, nil
	}

	next, cmd := m.form.Update(msg)
	if f, ok := next.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.submitForm()
		m.closeForm()
	case huh.StateAborted:
		m.closeForm()
	}
	return m, cmd
}

func (m *Model) submitForm() {
	d := m.formData
	switch m.formKind {
	case formSubscribe:
		m.submit(session.Subscribe(d.Filter, d.QoS))
	case formUnsubscribe:
		if d.Filter != "" {
			m.submit(session.Unsubscribe(d.Filter))
		}
	case formPublish:
		m.submit(session.Publish(d.Topic, []byte(d.Payload), d.QoS, d.Retain))
	}
}

func (m *Model) closeForm() {
	m.form = nil
	m.formKind = formNone
}

// refresh pulls fresh snapshots from the session core. This is the only
// place the TUI reads core state.
func (m *Model) refresh() {
	m.connState = m.sess.ConnState()
	m.allTopics = m.sess.Topics()
	m.subs = m.sess.Subscriptions()
	m.stats = m.sess.Stats()

	for _, n := range m.sess.Notices() {
		m.pushToast(n)
		switch n.Level {
		case session.NoticeError:
			m.log.Error().Msg(n.Message)
		case session.NoticeWarn:
			m.log.Warn().Msg(n.Message)
		}
	}

	now := time.Now()
	live := m.toasts[:0]
	for _, t := range m.toasts {
		if t.expires.After(now) {
			live = append(live, t)
		}
	}
	m.toasts = live

	m.applyFilter()
	m.syncMessages()
}

func (m *Model) applyFilter() {
	m.topics = filterTopics(m.allTopics, m.filterInput.Value())

	if len(m.topics) == 0 {
		m.selected = ""
		return
	}
	if m.indexOf(m.selected) == -1 {
		m.selected = m.topics[0].Topic
	}
}

func (m *Model) indexOf(topic string) int {
	for i, info := range m.topics {
		if info.Topic == topic {
			return i
		}
	}
	return -1
}

func (m *Model) moveSelection(delta int) {
	if len(m.topics) == 0 {
		return
	}
	idx := m.indexOf(m.selected) + delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.topics) {
		idx = len(m.topics) - 1
	}
	m.selected = m.topics[idx].Topic
	m.syncMessages()
}

// syncMessages rebuilds the message pane for the selected topic. The
// viewport follows the tail unless the user scrolled away.
func (m *Model) syncMessages() {
	if m.selected == "" {
		m.msgView.SetContent("")
		return
	}

	follow := m.msgView.AtBottom()
	m.msgView.SetContent(renderMessages(m.sess.TopicSnapshot(m.selected), m.msgView.Width))
	if follow {
		m.msgView.GotoBottom()
	}
}

func (m *Model) layout() {
	m.help.Width = m.width
	m.msgView.Width = m.width - topicPaneWidth(m.width) - 3
	m.msgView.Height = m.height - 5
	if m.msgView.Height < 1 {
		m.msgView.Height = 1
	}
	m.syncMessages()
}
