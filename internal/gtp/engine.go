package gtp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
)

type State int

const (
	StateSpawning State = iota
	StateReady
	StateBusy
	StateDead
)

const hardKillDelay = 5 * time.Second

// CommandError is the failure of a single GTP command. Err is one of the
// sentinels in internal/errors, Reason carries the engine-supplied text.
type CommandError struct {
	Err    error
	Reason string
}

func (e *CommandError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ChatHandler receives chat extracted from the engine's stderr. Channel
// is "discussion" or "malkovich".
type ChatHandler func(channel, body string)

// StderrHandler receives every other decoded stderr line.
type StderrHandler func(line string)

type Config struct {
	Command []string
	// JSON switches stdin framing to a single {"gtp_commands": [...]}
	// object closed on the final command.
	JSON bool
	// PVEngine enables principal-variation extraction for the named
	// engine flavor ("katago", "leelazero", "sai", "phoenixgo").
	PVEngine string
	AiChat   bool
}

type result struct {
	body string
	err  error
}

type pendingSlot struct {
	text string
	ch   chan result
}

// Engine owns one spawned GTP subprocess: an in-order request/response
// channel over its stdio plus an asynchronous stderr side channel.
type Engine struct {
	ID  string
	cfg Config
	log *zap.SugaredLogger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex
	state     State
	failed    bool
	ignore    bool
	firstMove bool
	pending   []*pendingSlot
	buf       []byte
	jsonCmds  []string
	caps      Capabilities

	exited   chan struct{}
	onChat   ChatHandler
	onStderr StderrHandler
	onExit   func(id string)
}

func NewEngine(cfg Config, log *zap.SugaredLogger) (*Engine, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: empty engine command", pkgerrors.ErrConfigInvalid)
	}

	e := &Engine{
		ID:        uuid.New().String(),
		cfg:       cfg,
		log:       log.With("engine", cfg.Command[0]),
		state:     StateSpawning,
		firstMove: true,
		exited:    make(chan struct{}),
	}
	e.log = e.log.With("instance", e.ID[:8])

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn engine: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin

	go e.readStdout(stdout)
	go e.readStderr(stderr)
	go e.waitExit()

	e.log.Infof("engine spawned, pid %d", cmd.Process.Pid)
	return e, nil
}

// Command issues one GTP command and waits for its reply. The returned
// string is the text after the success marker, trimmed.
func (e *Engine) Command(ctx context.Context, text string) (string, error) {
	return e.command(ctx, text, false)
}

// CommandFinal is Command for the last command of a game in JSON
// transport mode; it closes the request stream.
func (e *Engine) CommandFinal(ctx context.Context, text string) (string, error) {
	return e.command(ctx, text, true)
}

func (e *Engine) command(ctx context.Context, text string, final bool) (string, error) {
	e.mu.Lock()
	if e.state == StateDead {
		e.mu.Unlock()
		return "", &CommandError{Err: pkgerrors.ErrDeadEngine}
	}

	slot := &pendingSlot{text: text, ch: make(chan result, 1)}
	e.pending = append(e.pending, slot)
	e.state = StateBusy

	err := e.writeCommandLocked(text, final)
	if err != nil {
		e.dropSlotLocked(slot)
		e.failed = true
		e.markDeadLocked(pkgerrors.ErrDeadEngine)
		e.mu.Unlock()
		return "", &CommandError{Err: pkgerrors.ErrTransport, Reason: err.Error()}
	}
	e.mu.Unlock()

	e.log.Debugf("gtp >> %s", text)

	select {
	case r := <-slot.ch:
		if r.err != nil {
			return "", r.err
		}
		return r.body, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) writeCommandLocked(text string, final bool) error {
	if e.cfg.JSON {
		e.jsonCmds = append(e.jsonCmds, text)
		if !final {
			return nil
		}
		payload, err := json.Marshal(map[string][]string{"gtp_commands": e.jsonCmds})
		if err != nil {
			return err
		}
		if _, err := e.stdin.Write(append(payload, '\n')); err != nil {
			return err
		}
		return e.stdin.Close()
	}
	_, err := io.WriteString(e.stdin, text+"\r\n")
	return err
}

// In JSON mode commands are buffered until the final one, so all but the
// last resolve only when the engine answers the whole batch.

func (e *Engine) readStdout(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			e.ingest(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// ingest accumulates stdout bytes and dispatches every completed frame.
func (e *Engine) ingest(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ignore {
		return
	}
	e.buf = append(e.buf, bytes.ReplaceAll(data, []byte("\r"), nil)...)

	if e.cfg.JSON {
		e.ingestJSONLocked()
		return
	}

	for {
		idx := bytes.Index(e.buf, []byte("\n\n"))
		if idx < 0 {
			return
		}
		frame := string(e.buf[:idx])
		e.buf = e.buf[idx+2:]
		e.dispatchFrameLocked(frame)
	}
}

// ingestJSONLocked retries a full-buffer parse on every arrival; a
// partial object simply keeps accumulating.
func (e *Engine) ingestJSONLocked() {
	var reply struct {
		GtpResponses []string `json:"gtp_responses"`
	}
	if err := json.Unmarshal(e.buf, &reply); err != nil {
		return
	}
	e.buf = nil
	for _, frame := range reply.GtpResponses {
		e.dispatchFrameLocked(frame)
	}
}

func (e *Engine) dispatchFrameLocked(frame string) {
	body := strings.TrimSpace(frame)
	if body == "" {
		return
	}

	var r result
	switch body[0] {
	case '=':
		r = result{body: strings.TrimSpace(body[1:])}
	case '?':
		e.failed = true
		r = result{err: &CommandError{Err: pkgerrors.ErrProtocolFailure, Reason: strings.TrimSpace(body[1:])}}
	default:
		e.failed = true
		r = result{err: &CommandError{Err: pkgerrors.ErrUnexpectedOut, Reason: body}}
	}

	if len(e.pending) == 0 {
		e.log.Debugf("engine output with no pending command: %q", body)
		return
	}
	slot := e.pending[0]
	e.pending = e.pending[1:]
	slot.ch <- r

	if e.state != StateDead {
		if len(e.pending) == 0 {
			e.state = StateReady
		} else {
			e.state = StateBusy
		}
	}
	e.log.Debugf("gtp << %q -> %q", slot.text, body)
}

func (e *Engine) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e.handleStderrLine(line)
	}
}

func (e *Engine) handleStderrLine(line string) {
	e.mu.Lock()
	ignore := e.ignore
	chat := e.onChat
	diag := e.onStderr
	e.mu.Unlock()

	if ignore {
		return
	}

	if channel, body, ok := splitChatLine(line); ok {
		if e.cfg.AiChat && chat != nil {
			chat(channel, body)
		}
		return
	}

	if e.cfg.PVEngine != "" && chat != nil {
		if pv, ok := parsePV(e.cfg.PVEngine, line); ok {
			chat("malkovich", pv)
			return
		}
	}

	if diag != nil {
		diag(line)
		return
	}
	e.log.Debugf("engine stderr: %s", line)
}

// splitChatLine recognizes the DISCUSSION:/MALKOVICH: stderr convention.
func splitChatLine(line string) (channel, body string, ok bool) {
	for _, tag := range []string{"DISCUSSION:", "MALKOVICH:"} {
		if strings.HasPrefix(line, tag) {
			return strings.ToLower(strings.TrimSuffix(tag, ":")), strings.TrimSpace(line[len(tag):]), true
		}
	}
	return "", "", false
}

func (e *Engine) waitExit() {
	e.handleExit(e.cmd.Wait())
}

func (e *Engine) handleExit(err error) {
	e.mu.Lock()
	expected := e.ignore || e.state == StateDead
	if !expected && len(e.pending) > 0 {
		e.failed = true
	}
	exitErr := pkgerrors.ErrEngineExited
	if expected {
		exitErr = pkgerrors.ErrDeadEngine
	}
	e.markDeadLocked(exitErr)
	e.mu.Unlock()

	close(e.exited)

	if expected {
		e.log.Debugf("engine exited: %v", err)
	} else {
		e.log.Errorf("engine exited unexpectedly: %v", err)
	}

	e.mu.Lock()
	onExit := e.onExit
	e.mu.Unlock()
	if onExit != nil {
		onExit(e.ID)
	}
}

// markDeadLocked cancels every pending slot with the given sentinel.
func (e *Engine) markDeadLocked(sentinel error) {
	e.state = StateDead
	for _, slot := range e.pending {
		slot.ch <- result{err: &CommandError{Err: sentinel}}
	}
	e.pending = nil
}

func (e *Engine) dropSlotLocked(slot *pendingSlot) {
	for i, s := range e.pending {
		if s == slot {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// Kill asks the engine to quit, suppresses further output and
// guarantees reclamation with a delayed hard kill.
func (e *Engine) Kill() {
	e.mu.Lock()
	if e.state == StateDead && e.ignore {
		e.mu.Unlock()
		return
	}
	e.ignore = true
	if e.cfg.JSON {
		_ = e.writeCommandLocked("quit", true)
	} else {
		_ = e.writeCommandLocked("quit", false)
	}
	e.markDeadLocked(pkgerrors.ErrDeadEngine)
	var proc *os.Process
	if e.cmd != nil {
		proc = e.cmd.Process
	}
	e.mu.Unlock()

	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	time.AfterFunc(hardKillDelay, func() {
		select {
		case <-e.exited:
		default:
			e.log.Warnf("engine did not exit, sending SIGKILL")
			_ = proc.Kill()
		}
	})
}

// Exited is closed once the subprocess has been reaped.
func (e *Engine) Exited() <-chan struct{} {
	return e.exited
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Dead() bool {
	return e.State() == StateDead
}

func (e *Engine) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

func (e *Engine) SetFailed(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = v
}

// FirstMove reports whether the next clock computation should include
// the startup buffer; it latches off after ConsumeFirstMove.
func (e *Engine) FirstMove() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firstMove
}

func (e *Engine) ConsumeFirstMove() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.firstMove = false
}

func (e *Engine) ResetFirstMove() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.firstMove = true
}

func (e *Engine) SetChatHandler(h ChatHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChat = h
}

func (e *Engine) SetStderrHandler(h StderrHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStderr = h
}

func (e *Engine) SetExitHandler(h func(id string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExit = h
}

func (e *Engine) Caps() Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}
