package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/poonpunokok/gtp2ogs/internal/domain"
	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
	"github.com/poonpunokok/gtp2ogs/internal/gtp"
	"github.com/poonpunokok/gtp2ogs/internal/pool"
	"github.com/poonpunokok/gtp2ogs/internal/repository"
)

// A game layer is expected to resign after this many failed turns.
const maxMoveFailures = 3

// descriptor is the per-game handle: it owns the borrowed engine for
// the lifetime of one game and relays chat extracted from its stderr.
type descriptor struct {
	c      *Controller
	gameID int64
	speed  domain.Speed
	width  int
	height int
	tc     domain.TimeControl

	opponent domain.GamePlayer

	finishing bool
	outcome   string

	mu       sync.Mutex
	engine   *gtp.Engine
	failures int
	history  []string
}

func newDescriptor(c *Controller, g domain.ActiveGame, identity domain.BotIdentity) *descriptor {
	speed := g.TimeControl.Speed
	if speed == "" {
		speed = domain.SpeedLive
	}
	d := &descriptor{
		c:      c,
		gameID: g.ID,
		speed:  speed,
		width:  g.Width,
		height: g.Height,
		tc:     g.TimeControl,
	}
	if g.Black.ID == identity.ID {
		d.opponent = g.White
	} else {
		d.opponent = g.Black
	}
	return d
}

// attach borrows an engine from the main pool and wires its chat side
// channel to this game.
func (d *descriptor) attach(ctx context.Context) error {
	mainPool := d.c.pools.Get(pool.RoleMain)
	if mainPool == nil {
		return pkgerrors.ErrPoolExhausted
	}
	e, err := mainPool.Acquire(ctx)
	if err != nil {
		return err
	}

	e.SetChatHandler(func(channel, body string) {
		d.sendChat(channel, body)
	})
	e.SetStderrHandler(func(line string) {
		d.c.log.Debugf("game %d engine: %s", d.gameID, line)
	})

	d.mu.Lock()
	d.engine = e
	d.mu.Unlock()

	if d.c.cfg.Greeting != "" {
		d.sendChat("discussion", d.c.cfg.Greeting)
	}
	return nil
}

func (d *descriptor) sendChat(channel, body string) {
	err := d.c.transport.Send("game/chat", map[string]any{
		"game_id": d.gameID,
		"type":    channel,
		"body":    body,
	})
	if err != nil {
		d.c.log.Debugf("game %d: chat not sent: %v", d.gameID, err)
	}
}

// LoadState replays a full game position into the engine and remembers
// it so auxiliary engines can be brought to the same position.
func (d *descriptor) LoadState(ctx context.Context, commands []string) error {
	d.mu.Lock()
	e := d.engine
	d.history = append([]string(nil), commands...)
	d.mu.Unlock()
	if e == nil {
		return pkgerrors.ErrDeadEngine
	}

	for _, cmd := range commands {
		if _, err := e.Command(ctx, cmd); err != nil {
			return err
		}
	}
	if d.c.cfg.ShowBoard {
		board, err := e.Command(ctx, "showboard")
		if err != nil {
			return err
		}
		d.c.log.Infof("game %d board:\n%s", d.gameID, board)
	}
	return nil
}

// PlayTurn feeds the engine the translated clock, asks it for a move
// and forwards the move to the server. It returns the vertex played.
func (d *descriptor) PlayTurn(ctx context.Context, clock domain.GameClock, blackToPlay bool) (string, error) {
	d.mu.Lock()
	e := d.engine
	d.mu.Unlock()
	if e == nil || e.Dead() {
		return "", d.turnFailed(&gtp.CommandError{Err: pkgerrors.ErrDeadEngine})
	}

	if !d.c.cfg.NoClock {
		cmds := gtp.TranslateClock(gtp.ClockInput{
			TimeControl:     d.tc,
			Clock:           clock,
			Caps:            e.Caps(),
			FirstMove:       e.FirstMove(),
			ClockDriftMs:    d.c.ClockDrift(),
			StartupBufferMs: d.c.cfg.StartupBuffer,
			NowMs:           time.Now().UnixMilli(),
		})
		for _, cmd := range cmds {
			if _, err := e.Command(ctx, cmd); err != nil {
				return "", d.turnFailed(err)
			}
		}
		e.ConsumeFirstMove()
	}

	color := "white"
	if blackToPlay {
		color = "black"
	}
	vertex, err := e.Command(ctx, "genmove "+color)
	if err != nil {
		return "", d.turnFailed(err)
	}
	vertex = strings.ToLower(strings.TrimSpace(vertex))

	if vertex == "resign" {
		if alt, agreed := d.confirmResign(ctx, color); !agreed {
			d.c.log.Infof("game %d: resign overruled, playing %s", d.gameID, alt)
			vertex = alt
		}
	}

	if vertex == "resign" {
		d.Resign()
		return vertex, nil
	}

	move, _, err := domain.MoveFromGTP(vertex, d.height)
	if err != nil {
		return "", d.turnFailed(&gtp.CommandError{Err: pkgerrors.ErrUnexpectedOut, Reason: vertex})
	}

	d.mu.Lock()
	d.failures = 0
	d.history = append(d.history, fmt.Sprintf("play %s %s", color, vertex))
	d.mu.Unlock()

	err = d.c.transport.Send("game/move", map[string]any{
		"game_id": d.gameID,
		"move":    move,
	})
	return vertex, err
}

// confirmResign replays the game into a resign-check engine and asks
// for its move. Returns that move and whether it too resigns. Without a
// configured resign-check pool the resignation stands.
func (d *descriptor) confirmResign(ctx context.Context, color string) (string, bool) {
	checkPool := d.c.pools.Get(pool.RoleResignCheck)
	if checkPool == nil {
		return "", true
	}
	checker, err := checkPool.Acquire(ctx)
	if err != nil {
		return "", true
	}
	defer checkPool.Release(checker)

	d.mu.Lock()
	history := append([]string(nil), d.history...)
	d.mu.Unlock()

	for _, cmd := range history {
		if _, err := checker.Command(ctx, cmd); err != nil {
			return "", true
		}
	}
	vertex, err := checker.Command(ctx, "genmove "+color)
	if err != nil {
		return "", true
	}
	vertex = strings.ToLower(strings.TrimSpace(vertex))
	return vertex, vertex == "resign"
}

// turnFailed counts command-level failures; past the threshold the
// affected game is resigned rather than stalled.
func (d *descriptor) turnFailed(err error) error {
	d.mu.Lock()
	d.failures++
	failures := d.failures
	d.mu.Unlock()

	d.c.log.Errorf("game %d: engine failure %d/%d: %v", d.gameID, failures, maxMoveFailures, err)
	if failures >= maxMoveFailures {
		d.Resign()
	}
	return err
}

func (d *descriptor) Resign() {
	d.c.log.Warnf("game %d: resigning", d.gameID)
	if err := d.c.transport.Send("game/resign", map[string]any{"game_id": d.gameID}); err != nil {
		d.c.log.Errorf("game %d: resign not sent: %v", d.gameID, err)
	}
}

// finish runs after the grace delay: farewell, record, engine back to
// the pool.
func (d *descriptor) finish() {
	if d.c.cfg.Farewell != "" {
		d.sendChat("discussion", d.c.cfg.Farewell)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.c.records.SaveResult(ctx, repository.GameRecord{
		GameID:     d.gameID,
		Speed:      string(d.speed),
		Opponent:   d.opponent.Username,
		OpponentID: d.opponent.ID,
		Outcome:    d.outcome,
		FinishedAt: time.Now(),
	})
	if err != nil {
		d.c.log.Debugf("game %d: record not saved: %v", d.gameID, err)
	}

	d.release(false)
	d.c.log.Infof("game %d finished", d.gameID)
}

// terminate is the disconnect path: the engine is killed, and the pool
// respawns a replacement.
func (d *descriptor) terminate() {
	d.release(true)
}

func (d *descriptor) release(kill bool) {
	d.mu.Lock()
	e := d.engine
	d.engine = nil
	d.mu.Unlock()
	if e == nil {
		return
	}
	if kill {
		e.Kill()
	}
	if p := d.c.pools.Get(pool.RoleMain); p != nil {
		p.Release(e)
	} else {
		e.Kill()
	}
}
