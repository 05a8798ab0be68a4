package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/domain"
	"github.com/poonpunokok/gtp2ogs/internal/pool"
)

// A responder that plays q16 on genmove and acknowledges anything else.
const playingEngineScript = `while read line; do
  case "$line" in
    genmove*) printf '= q16\n\n';;
    *) printf '= \n\n';;
  esac
done`

func liveGame() domain.ActiveGame {
	return domain.ActiveGame{
		ID:     42,
		Phase:  "play",
		Width:  19,
		Height: 19,
		Black:  domain.GamePlayer{ID: 9, Username: "testbot"},
		White:  domain.GamePlayer{ID: 1000, Username: "opponent"},
		TimeControl: domain.TimeControl{
			System:        domain.SystemFischer,
			Speed:         domain.SpeedLive,
			InitialTime:   600,
			TimeIncrement: 30,
			MaxTime:       600,
		},
	}
}

func newPlayingController(t *testing.T) (*Controller, *fakeTransport) {
	t.Helper()
	cfg := testConfig()
	cfg.BotCommand = []string{"/bin/sh", "-c", playingEngineScript}
	log := zap.NewNop().Sugar()
	transport := &fakeTransport{}
	c := NewController(cfg, pool.NewPools(cfg, log), &fakeRest{}, nil, log)
	c.SetTransport(transport)
	startPools(t, c)
	return c, transport
}

func TestGameLifecycle(t *testing.T) {
	c, transport := newPlayingController(t)

	c.OnActiveGame(liveGame())
	if counts := c.Counts(); counts.Live != 1 {
		t.Fatalf("counts.Live = %d, want 1", counts.Live)
	}
	if avail := c.pools.Get(pool.RoleMain).CountAvailable(); avail != 0 {
		t.Fatalf("pool availability = %d, want 0 while game holds the engine", avail)
	}

	// A duplicate active_game for a connected game is a no-op.
	c.OnActiveGame(liveGame())
	if counts := c.Counts(); counts.Live != 1 {
		t.Fatalf("counts.Live after duplicate = %d, want 1", counts.Live)
	}

	c.mu.Lock()
	d := c.descriptors[42]
	c.mu.Unlock()
	if d == nil {
		t.Fatal("descriptor missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.LoadState(ctx, []string{"boardsize 19", "clear_board"}); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	clock := domain.GameClock{
		CurrentPlayer: 9,
		BlackPlayerID: 9,
		WhitePlayerID: 1000,
		LastMove:      time.Now().UnixMilli(),
		BlackTime:     domain.PlayerClock{ThinkingTime: 600},
		WhiteTime:     domain.PlayerClock{ThinkingTime: 600},
	}
	vertex, err := d.PlayTurn(ctx, clock, true)
	if err != nil {
		t.Fatalf("PlayTurn: %v", err)
	}
	if vertex != "q16" {
		t.Fatalf("vertex = %q, want q16", vertex)
	}

	var moveSent bool
	for _, m := range transport.sentEvents() {
		if m.event == "game/move" {
			moveSent = true
		}
	}
	if !moveSent {
		t.Fatal("move was not forwarded to the server")
	}

	finished := liveGame()
	finished.Phase = "finished"
	c.OnActiveGame(finished)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.Counts().Live == 0 && c.pools.Get(pool.RoleMain).CountAvailable() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("engine not returned to the pool after the finish grace")
}

func TestDisconnectKillsGameEngines(t *testing.T) {
	c, _ := newPlayingController(t)

	c.OnActiveGame(liveGame())
	if counts := c.Counts(); counts.Live != 1 {
		t.Fatalf("counts.Live = %d, want 1", counts.Live)
	}

	c.OnDisconnect()
	if counts := c.Counts(); counts.Live != 0 {
		t.Fatalf("counts.Live after disconnect = %d, want 0", counts.Live)
	}

	// The killed engine is replaced asynchronously to restore capacity.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if c.pools.Get(pool.RoleMain).CountAvailable() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("pool capacity not restored after disconnect teardown")
}
