package pool

import (
	"context"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/bootstrap"
)

// Pools groups the role pools configured for this bot. Only main is
// mandatory; opening, ending and resign-check may be absent.
type Pools struct {
	byRole map[Role]*Pool
	log    *zap.SugaredLogger
}

func NewPools(cfg *bootstrap.Config, log *zap.SugaredLogger) *Pools {
	ps := &Pools{byRole: make(map[Role]*Pool), log: log}

	add := func(role Role, command []string, size int) {
		if len(command) == 0 {
			return
		}
		c := Config{Role: role, Size: size}
		c.Engine.Command = command
		c.Engine.JSON = cfg.JSON
		c.Engine.PVEngine = cfg.OgsPV
		c.Engine.AiChat = cfg.AiChat
		ps.byRole[role] = New(c, log)
	}

	add(RoleMain, cfg.BotCommand, cfg.InstanceCount)
	add(RoleOpening, cfg.OpeningBot, 1)
	add(RoleEnding, cfg.EndingBot, 1)
	add(RoleResignCheck, cfg.ResignBot, 1)

	return ps
}

// Start spawns every pool's instances.
func (ps *Pools) Start(ctx context.Context) error {
	ps.log.Infof("starting %d engine pool(s)", len(ps.byRole))
	for _, p := range ps.byRole {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the pool for a role, nil when that role is not
// configured.
func (ps *Pools) Get(role Role) *Pool {
	return ps.byRole[role]
}

// AwaitReady blocks until the main, opening and ending pools (where
// configured) have finished their handshakes, so the first accepted
// game can be served immediately.
func (ps *Pools) AwaitReady(ctx context.Context) error {
	for _, role := range []Role{RoleMain, RoleOpening, RoleEnding} {
		p := ps.byRole[role]
		if p == nil {
			continue
		}
		select {
		case <-p.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Availability reports size and idle count per configured role.
func (ps *Pools) Availability() map[string][2]int {
	out := make(map[string][2]int, len(ps.byRole))
	for role, p := range ps.byRole {
		out[string(role)] = [2]int{p.Size(), p.CountAvailable()}
	}
	return out
}

func (ps *Pools) Shutdown() {
	for _, p := range ps.byRole {
		p.Shutdown()
	}
}
