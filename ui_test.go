package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newTestUI(t *testing.T, ctl Controller) uiModel {
	t.Helper()
	m := newTestUI(t, ctl)
	t.Cleanup(m.close)
	return m
}

func update(t *testing.T, m uiModel, msg tea.Msg) (uiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	um, ok := next.(uiModel)
	require.True(t, ok)
	return um, cmd
}

func TestUIConnectFlow(t *testing.T) {
	ctl := &fakeController{status: Status{State: StateConnected, Device: &clicker}}
	m := newTestUI(t, ctl)
	assert.Contains(t, m.View(), "Conectar Bluetooth")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.connecting)
	assert.Contains(t, m.View(), "Conectando")

	// A second Enter while pending is ignored.
	_, cmd2 := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd2)

	msg := connectCmd(context.Background(), ctl, m.sel)()
	m, _ = update(t, m, msg)
	assert.False(t, m.connecting)
	assert.Equal(t, screenControl, m.screen)
	assert.Equal(t, "Conectado ao Clicker!", m.toast)
	assert.Contains(t, m.View(), "Esquerda")
	assert.Contains(t, m.View(), "Direita")
}

func TestUIConnectErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{newOpError("connect", ErrNoDeviceFound, nil), "Nenhum dispositivo emparelhado encontrado"},
		{newOpError("connect", ErrPermissionDenied, nil), "Erro de permissão de Bluetooth"},
		{newOpError("connect", ErrConnectFailure, errors.New("refused")), "Falha na conexão"},
		{newOpError("select", ErrAmbiguousDevice, nil), toastAmbiguous},
	}
	for _, tt := range tests {
		m := newTestUI(t, &fakeController{})
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		m, cmd := update(t, m, connectDoneMsg{status: Status{State: StateDisconnected}, err: tt.err})
		assert.NotNil(t, cmd)
		assert.Equal(t, screenConnect, m.screen)
		assert.Equal(t, tt.want, m.toast)
		assert.True(t, m.toastErr)
	}
}

func TestUICancelledConnectIsSilent(t *testing.T) {
	m := newTestUI(t, &fakeController{})
	m, _ = update(t, m, connectDoneMsg{err: newOpError("connect", ErrConnectFailure, context.Canceled)})
	assert.Empty(t, m.toast)
}

func TestUISendKeys(t *testing.T) {
	ctl := &fakeController{}
	m := newTestUI(t, ctl)
	m.screen = screenControl

	for _, k := range []tea.KeyMsg{
		{Type: tea.KeyLeft},
		keyRune('l'),
		keyRune('h'),
		{Type: tea.KeyRight},
	} {
		var cmd tea.Cmd
		m, cmd = update(t, m, k)
		require.NotNil(t, cmd)
		m, _ = update(t, m, cmd())
	}
	assert.Equal(t, []Command{CommandLeft, CommandRight, CommandLeft, CommandRight}, ctl.sent)
	assert.Equal(t, CommandRight, m.focus)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, CommandLeft, m.focus)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())
	assert.Equal(t, CommandLeft, ctl.sent[len(ctl.sent)-1])
	assert.Empty(t, m.toast)
}

func TestUISendFailure(t *testing.T) {
	ctl := &fakeController{err: newOpError("send", ErrNotConnected, nil)}
	m := newTestUI(t, ctl)
	m.screen = screenControl

	m, cmd := update(t, m, keyRune('l'))
	m, tick := update(t, m, cmd())
	assert.Equal(t, "Erro ao enviar comando", m.toast)
	require.NotNil(t, tick)

	// Only the latest toast is cleared.
	gen := m.toastGen
	m, _ = update(t, m, clearToastMsg{gen: gen - 1})
	assert.NotEmpty(t, m.toast)
	m, _ = update(t, m, clearToastMsg{gen: gen})
	assert.Empty(t, m.toast)
}

func TestUIQuitCancelsConnect(t *testing.T) {
	m := newTestUI(t, &fakeController{})
	ctx, cancel := context.WithCancel(context.Background())
	m.connecting = true
	m.cancelConnect = cancel

	m, cmd := update(t, m, keyRune('q'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Error(t, ctx.Err())
	assert.True(t, m.quitting)
	assert.Empty(t, m.View())
}

func TestUIStatusOnEntry(t *testing.T) {
	ctl := &fakeController{status: Status{State: StateConnected, Device: &laptop}}
	m := newTestUI(t, ctl)

	batch, ok := m.Init()().(tea.BatchMsg)
	require.True(t, ok)
	for _, cmd := range batch {
		m, _ = update(t, m, cmd())
	}
	assert.Equal(t, screenControl, m.screen)
	assert.Contains(t, m.View(), "Laptop")
}

func TestUIDisconnect(t *testing.T) {
	ctl := &fakeController{}
	m := newTestUI(t, ctl)
	m.screen = screenControl

	m, cmd := update(t, m, keyRune('d'))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, ctl.disconns)
	assert.Equal(t, screenConnect, m.screen)
	assert.Equal(t, toastDisconnected, m.toast)
}

func TestUIDisconnectFailure(t *testing.T) {
	ctl := &fakeController{err: errors.New("org.bluez.Error.Failed: input/output error")}
	m := newTestUI(t, ctl)
	m.screen = screenControl

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, screenConnect, m.screen)
	assert.Equal(t, "Erro ao desconectar", m.toast)
	assert.True(t, m.toastErr)
	assert.NotContains(t, m.View(), "input/output")
}

func TestUIListsBondedDevices(t *testing.T) {
	ctl := &fakeController{
		status:  Status{State: StateDisconnected},
		devices: []Device{clicker, speaker, laptop},
	}
	m := newTestUI(t, ctl)

	batch, ok := m.Init()().(tea.BatchMsg)
	require.True(t, ok)
	for _, cmd := range batch {
		m, _ = update(t, m, cmd())
	}
	assert.Equal(t, screenConnect, m.screen)
	assert.Contains(t, m.View(), "Emparelhados: Clicker, Laptop")
	assert.NotContains(t, m.View(), speaker.Address)
}

func TestRequestQueueStop(t *testing.T) {
	q := newRequestQueue(&fakeController{}, time.Second)
	require.NoError(t, recv(t, q.SendAsync(CommandLeft)).Err)

	q.stop()
	q.stop()
	r := recv(t, q.SendAsync(CommandRight))
	assert.True(t, errors.Is(r.Err, ErrNotConnected))
}

// Key presses fed through a running program must reach the link in the
// order they were pressed, whichever Controller backs the UI.
func TestUISendsInPressOrder(t *testing.T) {
	f := newSessionFixture(clicker)
	w := NewWorker(f.s, time.Second, time.Second, discardLogger())
	t.Cleanup(w.Stop)
	_, err := w.Connect(context.Background(), Selector{})
	require.NoError(t, err)
	link := f.dialer.lastLink()

	controllers := []struct {
		name string
		ctl  Controller
	}{
		{"worker", w},
		{"client", NewClient(startTestDaemon(t, w), discardLogger())},
	}
	for _, tt := range controllers {
		t.Run(tt.name, func(t *testing.T) {
			start := len(link.written())

			m := newTestUI(t, tt.ctl)
			m.screen = screenControl
			p := tea.NewProgram(m, tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutSignalHandler())
			done := make(chan error, 1)
			go func() {
				_, err := p.Run()
				done <- err
			}()

			var want strings.Builder
			for i := 0; i < 400; i++ {
				k, cmd := tea.KeyMsg{Type: tea.KeyLeft}, CommandLeft
				if i%2 == 1 {
					k, cmd = tea.KeyMsg{Type: tea.KeyRight}, CommandRight
				}
				p.Send(k)
				want.WriteString(string(cmd))
			}

			require.Eventually(t, func() bool {
				return len(link.written())-start >= want.Len()
			}, 10*time.Second, 5*time.Millisecond)
			assert.Equal(t, want.String(), string(link.written()[start:]))

			p.Quit()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("program did not quit")
			}
		})
	}
}
