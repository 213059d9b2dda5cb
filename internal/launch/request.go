package launch

import (
	"errors"
	"strings"

	"blocklaunch/internal/config"
)

var (
	// ErrUsernameRequired rejects a launch without a player name.
	ErrUsernameRequired = errors.New("launch: username is required")
	// ErrLaunchInProgress rejects a launch while another one is being
	// prepared or a game is still running.
	ErrLaunchInProgress = errors.New("launch: a launch is already in progress")
	// ErrArtifactTooSmall marks a download that cannot be a valid artifact.
	ErrArtifactTooSmall = errors.New("launch: artifact is too small")
	// ErrNoGame is returned by Wait when no game has been started.
	ErrNoGame = errors.New("launch: no game running")
)

// Settings override configured launch values for one launch.
type Settings struct {
	MinMemoryMB int
	MaxMemoryMB int
	ExtraArgs   *string
	Borderless  *bool
}

// Request is what the UI asks for.
type Request struct {
	Username        string
	RuntimeOverride string
	GameDirOverride string
	Settings        *Settings
}

// Result is the outcome of Launch. Stack is set when a panic was recovered.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Err     error  `json:"-"`
}

func failed(err error) Result {
	return Result{Error: err.Error(), Err: err}
}

// effective merges the request settings over the configured launch values.
type effective struct {
	minMB      int
	maxMB      int
	extraArgs  []string
	borderless bool
}

func resolveSettings(cfg config.Config, s *Settings) effective {
	e := effective{
		minMB:      cfg.Memory.MinMB,
		maxMB:      cfg.Memory.MaxMB,
		extraArgs:  strings.Fields(cfg.Launch.ExtraArgs),
		borderless: cfg.Launch.Borderless,
	}
	if s == nil {
		return e
	}
	if s.MinMemoryMB > 0 {
		e.minMB = s.MinMemoryMB
	}
	if s.MaxMemoryMB > 0 {
		e.maxMB = s.MaxMemoryMB
	}
	if s.ExtraArgs != nil {
		e.extraArgs = strings.Fields(*s.ExtraArgs)
	}
	if s.Borderless != nil {
		e.borderless = *s.Borderless
	}
	if e.maxMB > 0 && e.minMB > e.maxMB {
		e.minMB = e.maxMB
	}
	return e
}
