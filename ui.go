package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
)

const toastDuration = 2 * time.Second

// Notification texts.
const (
	toastConnected     = "Conectado ao %s!"
	toastNoDevice      = "Nenhum dispositivo emparelhado encontrado"
	toastAmbiguous     = "Mais de um dispositivo emparelhado, use --device ou --name"
	toastPermission    = "Erro de permissão de Bluetooth"
	toastConnectFail   = "Falha na conexão"
	toastSendFail      = "Erro ao enviar comando"
	toastDisconnected  = "Desconectado"
	toastDisconnectErr = "Erro ao desconectar"
)

type screen int

const (
	screenConnect screen = iota
	screenControl
)

var (
	colorAccent = lipgloss.Color("#7D56F4")
	colorError  = lipgloss.Color("#FF5F87")
	colorMuted  = lipgloss.Color("#6C6C6C")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginBottom(1)
	buttonStyle = lipgloss.NewStyle().
			Padding(0, 3).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)
	focusedButtonStyle = buttonStyle.
				BorderForeground(colorAccent).
				Bold(true)
	toastStyle      = lipgloss.NewStyle().Foreground(colorAccent)
	toastErrorStyle = lipgloss.NewStyle().Foreground(colorError)
	helpStyle       = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)
)

type keyMap struct {
	Left       key.Binding
	Right      key.Binding
	Next       key.Binding
	Press      key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Left:       key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "esquerda")),
		Right:      key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "direita")),
		Next:       key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "focar")),
		Press:      key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "selecionar")),
		Disconnect: key.NewBinding(key.WithKeys("d", "esc"), key.WithHelp("d", "desconectar")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "sair")),
	}
}

type connectDoneMsg struct {
	status Status
	err    error
}

type sendDoneMsg struct {
	cmd Command
	err error
}

type statusMsg struct {
	status Status
	err    error
}

type devicesMsg struct {
	devices []Device
	err     error
}

type disconnectDoneMsg struct{ err error }

type clearToastMsg struct{ gen int }

// uiModel is the two-screen slide remote. All Bluetooth work is issued as
// tea.Cmds so the event loop never blocks on I/O. Sends are queued while
// Update runs, so they reach the device in key press order.
type uiModel struct {
	ctl     Controller
	queue   asyncController
	sel     Selector
	timeout time.Duration
	keys    keyMap
	spinner spinner.Model

	screen        screen
	focus         Command
	connecting    bool
	cancelConnect context.CancelFunc
	status        Status
	bonded        []Device

	toast    string
	toastErr bool
	toastGen int
	quitting bool
}

func newUIModel(ctl Controller, sel Selector, timeout time.Duration) uiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorAccent)

	queue, ok := ctl.(asyncController)
	if !ok {
		queue = newRequestQueue(ctl, timeout)
	}
	return uiModel{
		ctl:     ctl,
		queue:   queue,
		sel:     sel,
		timeout: timeout,
		keys:    defaultKeyMap(),
		spinner: s,
		focus:   CommandLeft,
		status:  Status{State: StateDisconnected},
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(statusCmd(m.ctl, m.timeout), devicesCmd(m.queue.DevicesAsync()))
}

// close stops the request queue, if the model owns one.
func (m uiModel) close() {
	if q, ok := m.queue.(*requestQueue); ok {
		q.stop()
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case connectDoneMsg:
		m.connecting = false
		m.cancelConnect = nil
		m.status = msg.status
		if msg.err != nil {
			if errors.Is(msg.err, context.Canceled) {
				return m, nil
			}
			return m.notify(connectToast(msg.err), true)
		}
		m.screen = screenControl
		name := "dispositivo"
		if msg.status.Device != nil {
			name = msg.status.Device.DisplayName()
		}
		var cmd tea.Cmd
		m, cmd = m.notify(fmt.Sprintf(toastConnected, name), false)
		return m, tea.Batch(cmd, statusCmd(m.ctl, m.timeout))

	case sendDoneMsg:
		if msg.err != nil {
			return m.notify(toastSendFail, true)
		}
		return m, nil

	case devicesMsg:
		if msg.err == nil {
			m.bonded = msg.devices
		}
		return m, nil

	case statusMsg:
		if msg.err == nil {
			m.status = msg.status
			if m.screen == screenConnect && msg.status.State == StateConnected {
				m.screen = screenControl
			}
		}
		return m, nil

	case disconnectDoneMsg:
		m.screen = screenConnect
		m.status = Status{State: StateDisconnected}
		if msg.err != nil {
			return m.notify(toastDisconnectErr, true)
		}
		return m.notify(toastDisconnected, false)

	case clearToastMsg:
		if msg.gen == m.toastGen {
			m.toast = ""
		}
		return m, nil

	case spinner.TickMsg:
		if !m.connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		if m.cancelConnect != nil {
			m.cancelConnect()
			m.cancelConnect = nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	switch m.screen {
	case screenConnect:
		if key.Matches(msg, m.keys.Press) && !m.connecting {
			return m.startConnect()
		}

	case screenControl:
		switch {
		case key.Matches(msg, m.keys.Left):
			m.focus = CommandLeft
			return m, sendCmd(m.queue, CommandLeft)
		case key.Matches(msg, m.keys.Right):
			m.focus = CommandRight
			return m, sendCmd(m.queue, CommandRight)
		case key.Matches(msg, m.keys.Next):
			if m.focus == CommandLeft {
				m.focus = CommandRight
			} else {
				m.focus = CommandLeft
			}
		case key.Matches(msg, m.keys.Press):
			return m, sendCmd(m.queue, m.focus)
		case key.Matches(msg, m.keys.Disconnect):
			return m, disconnectCmd(m.ctl, m.timeout)
		}
	}
	return m, nil
}

func (m uiModel) startConnect() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.connecting = true
	m.cancelConnect = cancel
	return m, tea.Batch(connectCmd(ctx, m.ctl, m.sel), m.spinner.Tick)
}

func (m uiModel) notify(text string, isErr bool) (uiModel, tea.Cmd) {
	m.toast = text
	m.toastErr = isErr
	m.toastGen++
	gen := m.toastGen
	return m, tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return clearToastMsg{gen: gen}
	})
}

func (m uiModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("slidectl"))
	b.WriteString("\n")

	switch m.screen {
	case screenConnect:
		label := "Conectar Bluetooth"
		if m.connecting {
			label = m.spinner.View() + " Conectando..."
		}
		b.WriteString(focusedButtonStyle.Render(label))
		b.WriteString("\n")
		if line := bondedLine(m.bonded); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render(helpLine(m.keys.Press, m.keys.Quit)))

	case screenControl:
		left, right := buttonStyle, buttonStyle
		if m.focus == CommandLeft {
			left = focusedButtonStyle
		} else {
			right = focusedButtonStyle
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			left.Render("Esquerda"), "  ", right.Render("Direita")))
		b.WriteString("\n")
		b.WriteString(statusLine(m.status))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(helpLine(m.keys.Left, m.keys.Right, m.keys.Next, m.keys.Press, m.keys.Disconnect, m.keys.Quit)))
	}

	if m.toast != "" {
		style := toastStyle
		if m.toastErr {
			style = toastErrorStyle
		}
		b.WriteString("\n\n")
		b.WriteString(style.Render(m.toast))
	}
	b.WriteString("\n")
	return b.String()
}

func statusLine(st Status) string {
	if st.State == StateConnected && st.Device != nil {
		return lipgloss.NewStyle().Foreground(colorMuted).Render("● " + st.Device.DisplayName())
	}
	return lipgloss.NewStyle().Foreground(colorError).Render("○ sem conexão")
}

// bondedLine lists the devices a connect can pick from.
func bondedLine(devices []Device) string {
	var names []string
	for _, d := range devices {
		if d.SupportsSerialPort() {
			names = append(names, d.DisplayName())
		}
	}
	if len(names) == 0 {
		return ""
	}
	return lipgloss.NewStyle().Foreground(colorMuted).Render("Emparelhados: " + strings.Join(names, ", "))
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

func connectToast(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return toastPermission
	case errors.Is(err, ErrNoDeviceFound):
		return toastNoDevice
	case errors.Is(err, ErrAmbiguousDevice):
		return toastAmbiguous
	}
	return toastConnectFail
}

func connectCmd(ctx context.Context, ctl Controller, sel Selector) tea.Cmd {
	return func() tea.Msg {
		st, err := ctl.Connect(ctx, sel)
		return connectDoneMsg{status: st, err: err}
	}
}

// sendCmd queues cmd now and returns a tea.Cmd that only waits for the
// result. tea.Cmds run on their own goroutines, so the write itself must not
// happen inside one.
func sendCmd(q asyncController, cmd Command) tea.Cmd {
	ch := q.SendAsync(cmd)
	return func() tea.Msg {
		r := <-ch
		return sendDoneMsg{cmd: cmd, err: r.Err}
	}
}

func devicesCmd(ch <-chan Result) tea.Cmd {
	return func() tea.Msg {
		r := <-ch
		return devicesMsg{devices: r.Devices, err: r.Err}
	}
}

func statusCmd(ctl Controller, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := ctl.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

func disconnectCmd(ctl Controller, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return disconnectDoneMsg{err: ctl.Disconnect(ctx)}
	}
}

// runUI blocks until the user quits.
func runUI(ctl Controller, sel Selector, timeout time.Duration) error {
	m := newUIModel(ctl, sel, timeout)
	defer m.close()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// asyncController queues a request when the method is called and delivers
// its result on the returned channel. Worker implements it directly.
type asyncController interface {
	SendAsync(cmd Command) <-chan Result
	DevicesAsync() <-chan Result
}

type queuedRequest struct {
	op    string
	run   func(ctx context.Context) Result
	reply chan Result
}

// requestQueue gives any Controller an asyncController front. One goroutine
// drains the queue, so requests run in the order they were queued.
type requestQueue struct {
	ctl     Controller
	timeout time.Duration
	reqs    chan queuedRequest
	quit    chan struct{}
	once    sync.Once
}

func newRequestQueue(ctl Controller, timeout time.Duration) *requestQueue {
	q := &requestQueue{
		ctl:     ctl,
		timeout: timeout,
		reqs:    make(chan queuedRequest, 64),
		quit:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *requestQueue) loop() {
	for {
		select {
		case r := <-q.reqs:
			ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
			r.reply <- r.run(ctx)
			cancel()
		case <-q.quit:
			for {
				select {
				case r := <-q.reqs:
					r.reply <- Result{Err: stoppedError(r.op)}
				default:
					return
				}
			}
		}
	}
}

func (q *requestQueue) push(op string, fn func(ctx context.Context) Result) <-chan Result {
	r := queuedRequest{op: op, run: fn, reply: make(chan Result, 1)}
	select {
	case <-q.quit:
		r.reply <- Result{Err: stoppedError(op)}
		return r.reply
	default:
	}
	select {
	case q.reqs <- r:
	case <-q.quit:
		r.reply <- Result{Err: stoppedError(op)}
	}
	return r.reply
}

func (q *requestQueue) SendAsync(cmd Command) <-chan Result {
	return q.push("send", func(ctx context.Context) Result {
		return Result{Err: q.ctl.Send(ctx, cmd)}
	})
}

func (q *requestQueue) DevicesAsync() <-chan Result {
	return q.push("devices", func(ctx context.Context) Result {
		devices, err := q.ctl.Devices(ctx)
		return Result{Devices: devices, Err: err}
	})
}

func (q *requestQueue) stop() {
	q.once.Do(func() { close(q.quit) })
}
