// Package terminal manages daemon-side PTYs: at most one terminal per
// (cwd, name) key, scrollback replay for late subscribers, and output
// fan-out to session subscriptions.
package terminal

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/pkg/protocol"
)

const (
	defaultScrollbackKB = 256
	defaultCols         = 120
	defaultRows         = 32
	subscriberQueue     = 256
)

// Manager owns every PTY of the daemon, keyed (cwd, name).
type Manager struct {
	cfg    config.TerminalConfig
	logger *slog.Logger

	mu     sync.Mutex
	byKey  map[string]*Terminal // keyed cwd+"\x00"+name
	byID   map[string]*Terminal
	keymus map[string]*sync.Mutex
}

func NewManager(cfg config.TerminalConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		byKey:  make(map[string]*Terminal),
		byID:   make(map[string]*Terminal),
		keymus: make(map[string]*sync.Mutex),
	}
}

// Terminal is one running PTY with its replay buffer and subscribers.
type Terminal struct {
	ID        string
	Cwd       string
	Name      string
	StartedAt time.Time

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	ring     *ringBuffer
	seq      uint64
	subs     map[string]chan protocol.TerminalOutput
	exitSubs map[string]chan protocol.TerminalExit
	running  bool
	exitCode int
}

func terminalKey(cwd, name string) string { return cwd + "\x00" + name }

// keyMutex serializes creation per (cwd, name) so two concurrent creates
// cannot spawn two shells for the same key.
func (m *Manager) keyMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keymus[key]
	if !ok {
		l = &sync.Mutex{}
		m.keymus[key] = l
	}
	return l
}

// Create spawns (or returns) the terminal for (cwd, name).
func (m *Manager) Create(req protocol.CreateTerminalRequest) (*protocol.TerminalInfo, error) {
	if req.Cwd == "" || req.Name == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "cwd and name are required"}
	}
	key := terminalKey(req.Cwd, req.Name)
	l := m.keyMutex(key)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	existing, ok := m.byKey[key]
	m.mu.Unlock()
	if ok && existing.isRunning() {
		info := existing.info()
		return &info, nil
	}

	shell := m.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	cmd := exec.Command(shell)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("terminal: start %s: %w", shell, err)
	}

	scrollback := m.cfg.ScrollbackKB
	if scrollback <= 0 {
		scrollback = defaultScrollbackKB
	}
	t := &Terminal{
		ID:        "term_" + uuid.NewString(),
		Cwd:       req.Cwd,
		Name:      req.Name,
		StartedAt: time.Now().UTC(),
		ptmx:      ptmx,
		cmd:       cmd,
		ring:      newRingBuffer(scrollback * 1024),
		subs:      make(map[string]chan protocol.TerminalOutput),
		exitSubs:  make(map[string]chan protocol.TerminalExit),
		running:   true,
	}

	m.mu.Lock()
	m.byKey[key] = t
	m.byID[t.ID] = t
	m.mu.Unlock()

	go m.readLoop(t)
	m.logger.Info("terminal_created", "terminal_id", t.ID, "cwd", req.Cwd, "name", req.Name, "shell", shell)
	info := t.info()
	return &info, nil
}

// readLoop pumps PTY output into the ring buffer and subscribers until the
// process exits.
func (m *Manager) readLoop(t *Terminal) {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			t.broadcast(buf[:n])
		}
		if err != nil {
			break
		}
	}

	err := t.cmd.Wait()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	t.ptmx.Close()

	t.mu.Lock()
	t.running = false
	t.exitCode = exitCode
	outs := make([]chan protocol.TerminalOutput, 0, len(t.subs))
	for _, ch := range t.subs {
		outs = append(outs, ch)
	}
	t.subs = make(map[string]chan protocol.TerminalOutput)
	exits := make([]chan protocol.TerminalExit, 0, len(t.exitSubs))
	for _, ch := range t.exitSubs {
		exits = append(exits, ch)
	}
	t.exitSubs = make(map[string]chan protocol.TerminalExit)
	t.mu.Unlock()

	exit := protocol.TerminalExit{TerminalID: t.ID, ExitCode: exitCode}
	for _, ch := range exits {
		select {
		case ch <- exit:
		default:
		}
		close(ch)
	}
	for _, ch := range outs {
		close(ch)
	}
	m.logger.Info("terminal_exited", "terminal_id", t.ID, "exit_code", exitCode)
}

func (t *Terminal) broadcast(data []byte) {
	t.mu.Lock()
	t.ring.write(data)
	t.seq++
	out := protocol.TerminalOutput{
		TerminalID: t.ID,
		DataB64:    base64.StdEncoding.EncodeToString(data),
		Seq:        t.seq,
	}
	for id, ch := range t.subs {
		select {
		case ch <- out:
		default:
			// Lagging subscriber; it re-subscribes and gets a replay.
			delete(t.subs, id)
			close(ch)
		}
	}
	t.mu.Unlock()
}

func (t *Terminal) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Terminal) info() protocol.TerminalInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.TerminalInfo{
		ID:        t.ID,
		Cwd:       t.Cwd,
		Name:      t.Name,
		Running:   t.running,
		StartedAt: t.StartedAt,
	}
}

// List reports terminals, optionally filtered by cwd.
func (m *Manager) List(cwd string) []protocol.TerminalInfo {
	m.mu.Lock()
	terms := make([]*Terminal, 0, len(m.byID))
	for _, t := range m.byID {
		terms = append(terms, t)
	}
	m.mu.Unlock()

	var out []protocol.TerminalInfo
	for _, t := range terms {
		info := t.info()
		if cwd != "" && info.Cwd != cwd {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) get(id string) (*Terminal, error) {
	m.mu.Lock()
	t, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("no terminal %s", id)}
	}
	return t, nil
}

// Subscribe attaches a subscriber. The scrollback is replayed as one
// synthetic frame before live output.
func (m *Manager) Subscribe(terminalID, subID string) (<-chan protocol.TerminalOutput, <-chan protocol.TerminalExit, error) {
	t, err := m.get(terminalID)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil, nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("terminal %s has exited", terminalID)}
	}
	out := make(chan protocol.TerminalOutput, subscriberQueue)
	exit := make(chan protocol.TerminalExit, 1)
	if replay := t.ring.bytes(); len(replay) > 0 {
		out <- protocol.TerminalOutput{
			TerminalID: t.ID,
			DataB64:    base64.StdEncoding.EncodeToString(replay),
			Seq:        t.seq,
		}
	}
	if old, ok := t.subs[subID]; ok {
		close(old)
	}
	t.subs[subID] = out
	t.exitSubs[subID] = exit
	return out, exit, nil
}

func (m *Manager) Unsubscribe(terminalID, subID string) {
	t, err := m.get(terminalID)
	if err != nil {
		return
	}
	t.mu.Lock()
	out, okOut := t.subs[subID]
	exit, okExit := t.exitSubs[subID]
	delete(t.subs, subID)
	delete(t.exitSubs, subID)
	t.mu.Unlock()
	if okOut {
		close(out)
	}
	if okExit {
		close(exit)
	}
}

// Input writes keystrokes to the PTY. Fire-and-forget: errors are logged,
// never returned to the client.
func (m *Manager) Input(terminalID string, dataB64 string) {
	t, err := m.get(terminalID)
	if err != nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		m.logger.Debug("terminal_input_bad_base64", "terminal_id", terminalID)
		return
	}
	t.mu.Lock()
	ptmx, running := t.ptmx, t.running
	t.mu.Unlock()
	if !running {
		return
	}
	if _, err := ptmx.Write(data); err != nil {
		m.logger.Debug("terminal_input_failed", "terminal_id", terminalID, "error", err)
	}
}

// Kill terminates the shell; subscribers get a terminal_exit.
func (m *Manager) Kill(terminalID string) error {
	t, err := m.get(terminalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	running := t.running
	proc := t.cmd.Process
	t.mu.Unlock()
	if running && proc != nil {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("terminal: kill %s: %w", terminalID, err)
		}
	}
	return nil
}
