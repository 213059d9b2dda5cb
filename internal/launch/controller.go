package launch

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"blocklaunch/internal/logx"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/proc"
	"blocklaunch/internal/progress"
)

// Hooks observe a launch. Every field is optional.
type Hooks struct {
	OnState func(State)
	Game    proc.Hooks
}

// Controller owns the single live game process of a launcher.
type Controller struct {
	assembler *Assembler
	logger    logx.Logger

	// launching is held for the whole preparation of one launch.
	launching sync.Mutex

	mu   sync.Mutex
	game *proc.GameProcess
	last *proc.GameProcess
}

// NewController returns a controller launching through a.
func NewController(a *Assembler, logger logx.Logger) *Controller {
	return &Controller{assembler: a, logger: logx.OrDiscard(logger)}
}

// Launch prepares and starts the game. It never panics: failures, including
// recovered panics, come back as an unsuccessful Result. The game keeps
// running after Launch returns; use Wait or Kill to follow it.
func (c *Controller) Launch(ctx context.Context, req Request, report progress.Func, hooks Hooks) (res Result) {
	if !c.launching.TryLock() {
		return failed(ErrLaunchInProgress)
	}
	defer c.launching.Unlock()
	if c.Running() {
		return failed(ErrLaunchInProgress)
	}

	id := newLaunchID()
	logger := logx.Tagged(c.logger, shortID(id))
	f := newFunnel(report, hooks.OnState)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("launch panicked in %s: %v", f.state, r)
			logger.Printf("%v", err)
			f.enter(StateFailed)
			res = Result{Error: err.Error(), Err: err, Stack: string(debug.Stack())}
		}
	}()

	logger.Printf("launch %s for %q on %s", id, req.Username, platform.Describe(ctx))
	plan, err := c.assembler.prepare(ctx, req, f, logger)
	if err != nil {
		logger.Printf("launch failed during %s: %v", f.state, err)
		f.enter(StateFailed)
		return failed(err)
	}
	plan.LaunchID = id

	if err := c.spawn(plan, f, hooks, logger); err != nil {
		logger.Printf("spawn failed: %v", err)
		f.enter(StateFailed)
		return failed(err)
	}
	return Result{Success: true}
}

func (c *Controller) spawn(plan *Plan, f *funnel, hooks Hooks, logger logx.Logger) error {
	var archiveOut io.Writer
	archiveFile, err := logx.NewArchive(c.assembler.opts.Home.LogsDir, "game")
	if err != nil {
		logger.Printf("game output will not be archived: %v", err)
	} else {
		archiveOut = archiveFile
	}

	var started *proc.GameProcess
	gameHooks := hooks.Game
	userExit := gameHooks.OnExit
	gameHooks.OnExit = func(code int, exitErr error) {
		c.mu.Lock()
		if c.game == started {
			c.game = nil
		}
		c.mu.Unlock()
		if archiveFile != nil {
			_ = archiveFile.Close()
		}
		logger.Printf("game exited with code %d", code)
		f.enter(StateExited)("Game exited", 100)
		if userExit != nil {
			userExit(code, exitErr)
		}
	}

	report := progress.Slice(f.mono.Func(), bands[StateSpawning].start, bands[StateSpawning].end)
	report("Starting game", 50)

	c.mu.Lock()
	g, err := proc.Start(plan.Command(), proc.Options{Archive: archiveOut, Hooks: gameHooks})
	if err != nil {
		c.mu.Unlock()
		if archiveFile != nil {
			_ = archiveFile.Close()
		}
		return err
	}
	started = g
	c.game = g
	c.last = g
	logger.Printf("game started with pid %d in %s", g.PID(), plan.Dir)
	// OnExit waits for mu, so RUNNING is always reported before EXITED.
	f.enter(StateRunning)("Game running", 100)
	c.mu.Unlock()
	return nil
}

// Running reports whether a game process is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	g := c.game
	c.mu.Unlock()
	return g != nil && g.Running()
}

// Wait blocks until the most recently started game exits.
func (c *Controller) Wait() (int, error) {
	c.mu.Lock()
	g := c.last
	c.mu.Unlock()
	if g == nil {
		return 0, ErrNoGame
	}
	return g.Wait()
}

// Kill terminates the running game and its children. It is a no-op when no
// game is running.
func (c *Controller) Kill(ctx context.Context) error {
	c.mu.Lock()
	g := c.game
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Kill(ctx)
}

func newLaunchID() string {
	return uuid.NewString()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
