package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/admission"
	"github.com/poonpunokok/gtp2ogs/internal/bootstrap"
	"github.com/poonpunokok/gtp2ogs/internal/domain"
	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
	"github.com/poonpunokok/gtp2ogs/internal/ogs"
	"github.com/poonpunokok/gtp2ogs/internal/pool"
	"github.com/poonpunokok/gtp2ogs/internal/repository"
)

const (
	statusInterval   = 100 * time.Millisecond
	dumpInterval     = 60 * time.Second
	finishGraceDelay = 1 * time.Second
	authTimeout      = 30 * time.Second
	acquireTimeout   = 30 * time.Second
)

// Notification types the bot deliberately ignores.
var ignorableNotifications = map[string]bool{
	"delete":                      true,
	"gameStarted":                 true,
	"gameEnded":                   true,
	"gameDeclined":                true,
	"gameResumedFromStoneRemoval": true,
	"tournamentStarted":           true,
	"tournamentEnded":             true,
	"aiReviewDone":                true,
}

// Transport is the slice of the realtime socket the controller uses.
type Transport interface {
	Send(event string, data any) error
	Call(ctx context.Context, event string, data any) (json.RawMessage, error)
	Connected() bool
}

// Rest is the challenge/friend REST surface.
type Rest interface {
	AcceptChallenge(ctx context.Context, challengeID int64) error
	DeclineChallenge(ctx context.Context, challengeID int64, message string, details *ogs.RejectionDetails) error
	AcceptFriendRequest(ctx context.Context, fromUserID int64) error
}

// Controller tracks active games, applies admission policy and
// coordinates the engine pools on behalf of the bot account.
type Controller struct {
	cfg     *bootstrap.Config
	log     *zap.SugaredLogger
	pools   *pool.Pools
	rest    Rest
	records *repository.GameRecordStore

	transport Transport

	mu           sync.Mutex
	connected    bool
	identity     domain.BotIdentity
	descriptors  map[int64]*descriptor
	lastReported *domain.SpeedCounts
	clockDrift   float64

	fatal chan error
}

func NewController(cfg *bootstrap.Config, pools *pool.Pools, rest Rest, records *repository.GameRecordStore, log *zap.SugaredLogger) *Controller {
	return &Controller{
		cfg:         cfg,
		log:         log,
		pools:       pools,
		rest:        rest,
		records:     records,
		descriptors: make(map[int64]*descriptor),
		fatal:       make(chan error, 1),
	}
}

// SetTransport wires the socket; the socket in turn dispatches its
// events into this controller.
func (c *Controller) SetTransport(t Transport) {
	c.transport = t
}

// Fatal delivers unrecoverable errors, e.g. a rejected authentication.
func (c *Controller) Fatal() <-chan error {
	return c.fatal
}

// Run drives the periodic work: the 100ms status report and the 60s
// status dump.
func (c *Controller) Run(ctx context.Context) {
	report := time.NewTicker(statusInterval)
	defer report.Stop()
	dump := time.NewTicker(dumpInterval)
	defer dump.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-report.C:
			c.reportStatus()
		case <-dump.C:
			c.dumpStatus()
		}
	}
}

// OnConnect authenticates once the pools are ready, so the first
// accepted game can always be served.
func (c *Controller) OnConnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()

		if err := c.pools.AwaitReady(ctx); err != nil {
			c.log.Errorf("pools not ready before authentication: %v", err)
			return
		}

		reply, err := c.transport.Call(ctx, "authenticate", map[string]any{
			"jwt":          "",
			"bot_username": c.cfg.Username,
			"bot_apikey":   c.cfg.Apikey,
			"bot_config": map[string]any{
				"hidden":              c.cfg.Hidden,
				"allowed_board_sizes": c.cfg.AllowedBoardSizes,
			},
		})
		if err != nil {
			c.log.Errorf("authentication call failed: %v", err)
			return
		}

		var identity domain.BotIdentity
		if err := json.Unmarshal(reply, &identity); err != nil || identity.Username == "" {
			c.fail(fmt.Errorf("%w: %s", pkgerrors.ErrAuthFailed, string(reply)))
			return
		}

		c.mu.Lock()
		c.identity = identity
		c.connected = true
		c.mu.Unlock()

		c.log.Infof("authenticated as %s (id %d)", identity.Username, identity.ID)

		if c.cfg.Hidden {
			if err := c.transport.Send("bot/hidden", true); err != nil {
				c.log.Warnf("failed to set hidden: %v", err)
			}
		}
	}()
}

func (c *Controller) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// OnDisconnect tears down every descriptor; reconnecting is the
// transport's job.
func (c *Controller) OnDisconnect() {
	c.mu.Lock()
	descriptors := make([]*descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		descriptors = append(descriptors, d)
	}
	c.descriptors = make(map[int64]*descriptor)
	c.connected = false
	c.lastReported = nil
	c.mu.Unlock()

	for _, d := range descriptors {
		d.terminate()
	}
	if len(descriptors) > 0 {
		c.log.Warnf("disconnected, tore down %d game(s)", len(descriptors))
	}
}

// OnActiveGame connects a descriptor for a live game, or schedules the
// finish grace for a finished one. A finished game never seen live is
// connected first so late gamedata still has a descriptor to land on.
func (c *Controller) OnActiveGame(g domain.ActiveGame) {
	if g.Phase == "finished" {
		c.ensureDescriptor(g)
		c.scheduleFinish(g.ID, "")
		return
	}
	c.ensureDescriptor(g)
}

func (c *Controller) ensureDescriptor(g domain.ActiveGame) {
	identity := c.Identity()

	c.mu.Lock()
	if _, ok := c.descriptors[g.ID]; ok {
		c.mu.Unlock()
		return
	}
	// Reserve the slot before the blocking acquire so a duplicate
	// active_game stays a no-op.
	d := newDescriptor(c, g, identity)
	c.descriptors[g.ID] = d
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()
	if err := d.attach(ctx); err != nil {
		c.log.Errorf("game %d: failed to attach engine: %v", g.ID, err)
		c.mu.Lock()
		delete(c.descriptors, g.ID)
		c.mu.Unlock()
		return
	}

	c.log.Infof("game %d connected (%s, %s vs %s)", g.ID, d.speed, g.Black.Username, g.White.Username)
}

// scheduleFinish removes the game after a short grace that absorbs the
// active_game / gamedata race at game end.
func (c *Controller) scheduleFinish(gameID int64, outcome string) {
	c.mu.Lock()
	d, ok := c.descriptors[gameID]
	if !ok || d.finishing {
		c.mu.Unlock()
		return
	}
	d.finishing = true
	d.outcome = outcome
	c.mu.Unlock()

	time.AfterFunc(finishGraceDelay, func() {
		c.mu.Lock()
		d, ok := c.descriptors[gameID]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.descriptors, gameID)
		c.mu.Unlock()

		d.finish()
	})
}

// OnNotification dispatches a server push by type.
func (c *Controller) OnNotification(n domain.Notification) {
	switch n.Type {
	case "challenge":
		c.handleChallenge(n)
	case "friendRequest":
		c.handleFriendRequest(n)
	default:
		if ignorableNotifications[n.Type] {
			return
		}
		c.log.Infof("deleting unhandled notification type %q", n.Type)
		if err := c.transport.Send("notification/delete", map[string]any{"notification_id": n.ID}); err != nil {
			c.log.Warnf("failed to delete notification: %v", err)
		}
	}
}

func (c *Controller) handleChallenge(n domain.Notification) {
	var cn domain.ChallengeNotification
	if err := json.Unmarshal(n.Raw, &cn); err != nil {
		c.log.Errorf("undecodable challenge notification: %v", err)
		return
	}
	ch := cn.Challenge()

	decision := admission.Evaluate(ch, c.Counts(), c.cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if decision.Accept {
		c.log.Infof("accepting challenge %d from %s (%dx%d %s %s)",
			ch.ChallengeID, ch.Username, ch.Width, ch.Height, ch.TimeControl.System, ch.TimeControl.Speed)
		if err := c.rest.AcceptChallenge(ctx, ch.ChallengeID); err != nil {
			c.log.Errorf("accept failed, declining instead: %v", err)
			_ = c.rest.DeclineChallenge(ctx, ch.ChallengeID, "Failed to accept the challenge, please try again.", nil)
		}
		return
	}

	c.log.Infof("declining challenge %d from %s: %s", ch.ChallengeID, ch.Username, decision.Code)
	err := c.rest.DeclineChallenge(ctx, ch.ChallengeID, decision.Message, &ogs.RejectionDetails{
		RejectionCode: decision.Code,
		Details:       decision.Details,
	})
	if err != nil {
		c.log.Errorf("decline failed: %v", err)
	}
	if err := c.records.RecordDecline(ctx, ch.UserID, decision.Code); err != nil {
		c.log.Debugf("decline not recorded: %v", err)
	}
}

func (c *Controller) handleFriendRequest(n domain.Notification) {
	var fr struct {
		User domain.GamePlayer `json:"user"`
	}
	if err := json.Unmarshal(n.Raw, &fr); err != nil {
		c.log.Errorf("undecodable friend request: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.rest.AcceptFriendRequest(ctx, fr.User.ID); err != nil {
		c.log.Warnf("failed to accept friend request from %s: %v", fr.User.Username, err)
	}
}

// Counts is the number of live descriptors per speed class.
func (c *Controller) Counts() domain.SpeedCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	var counts domain.SpeedCounts
	for _, d := range c.descriptors {
		switch d.speed {
		case domain.SpeedBlitz:
			counts.Blitz++
		case domain.SpeedLive:
			counts.Live++
		case domain.SpeedCorrespondence:
			counts.Correspondence++
		}
	}
	return counts
}

// ClockDrift is the signed client-minus-server clock offset in
// milliseconds. It is zero until SetClockDrift is called; the socket
// transport does not set it.
func (c *Controller) ClockDrift() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockDrift
}

func (c *Controller) SetClockDrift(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clockDrift = ms
}

func (c *Controller) Identity() domain.BotIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// reportStatus sends bot/status whenever the counts changed since the
// last report.
func (c *Controller) reportStatus() {
	counts := c.Counts()

	c.mu.Lock()
	if !c.connected || (c.lastReported != nil && *c.lastReported == counts) {
		c.mu.Unlock()
		return
	}
	c.lastReported = &counts
	c.mu.Unlock()

	if err := c.transport.Send("bot/status", counts); err != nil {
		c.log.Warnf("failed to report status: %v", err)
	}
}

func (c *Controller) dumpStatus() {
	counts := c.Counts()
	c.log.Infof("status: connected=%v blitz=%d live=%d correspondence=%d pools=%v",
		c.Connected(), counts.Blitz, counts.Live, counts.Correspondence, c.pools.Availability())
}
