package pool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/gtp"
)

type Role string

const (
	RoleMain        Role = "main"
	RoleOpening     Role = "opening"
	RoleEnding      Role = "ending"
	RoleResignCheck Role = "resign-check"
)

const respawnBackoff = 2 * time.Second

type Config struct {
	Role   Role
	Engine gtp.Config
	Size   int
}

// Pool owns a fixed set of engine subprocesses of one role and hands
// them out to games. Dead instances returned to the pool are replaced
// asynchronously so capacity is restored.
type Pool struct {
	cfg  Config
	log  *zap.SugaredLogger
	idle chan *gtp.Engine

	ready chan struct{}
}

func New(cfg Config, log *zap.SugaredLogger) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &Pool{
		cfg:   cfg,
		log:   log.With("pool", string(cfg.Role)),
		idle:  make(chan *gtp.Engine, cfg.Size),
		ready: make(chan struct{}),
	}
}

// Start spawns every configured instance and completes each one's
// handshake. Ready resolves only once all instances are serviceable.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.Size; i++ {
		e, err := p.spawn(ctx)
		if err != nil {
			return fmt.Errorf("pool %s: %w", p.cfg.Role, err)
		}
		p.idle <- e
	}
	close(p.ready)
	p.log.Infof("pool ready with %d instance(s)", p.cfg.Size)
	return nil
}

func (p *Pool) spawn(ctx context.Context) (*gtp.Engine, error) {
	e, err := gtp.NewEngine(p.cfg.Engine, p.log)
	if err != nil {
		return nil, err
	}
	if err := e.Discover(ctx); err != nil {
		e.Kill()
		return nil, fmt.Errorf("engine handshake failed: %w", err)
	}
	return e, nil
}

// Ready resolves when every configured instance has completed its first
// list_commands handshake.
func (p *Pool) Ready() <-chan struct{} {
	return p.ready
}

func (p *Pool) Size() int {
	return p.cfg.Size
}

// CountAvailable is the number of idle, serviceable instances.
func (p *Pool) CountAvailable() int {
	return len(p.idle)
}

// Acquire hands out an idle instance, blocking until one frees up or
// the context ends.
func (p *Pool) Acquire(ctx context.Context) (*gtp.Engine, error) {
	select {
	case e := <-p.idle:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an instance to the pool. A dead instance is not
// requeued; a replacement is spawned in the background instead.
func (p *Pool) Release(e *gtp.Engine) {
	if e == nil {
		return
	}
	if e.Dead() {
		p.log.Warnf("released engine %s is dead, respawning replacement", e.ID[:8])
		go p.respawn()
		return
	}
	e.SetFailed(false)
	e.ResetFirstMove()
	e.SetChatHandler(nil)
	e.SetStderrHandler(nil)
	select {
	case p.idle <- e:
	default:
		// More releases than capacity can only mean a bookkeeping bug;
		// do not leak the process.
		p.log.Errorf("pool overflow on release, killing engine %s", e.ID[:8])
		e.Kill()
	}
}

func (p *Pool) respawn() {
	for {
		e, err := p.spawn(context.Background())
		if err == nil {
			select {
			case p.idle <- e:
			default:
				e.Kill()
			}
			p.log.Infof("replacement engine ready")
			return
		}
		p.log.Errorf("respawn failed: %v, retrying in %s", err, respawnBackoff)
		time.Sleep(respawnBackoff)
	}
}

// Shutdown kills every idle instance. Instances currently held by games
// are killed by their descriptors.
func (p *Pool) Shutdown() {
	for {
		select {
		case e := <-p.idle:
			e.Kill()
		default:
			return
		}
	}
}
