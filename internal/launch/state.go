package launch

import "blocklaunch/internal/progress"

// State is one step of a launch attempt.
type State int

const (
	StateIdle State = iota
	StateCheckingUpdates
	StateResolvingInstance
	StateVerifyingRuntime
	StateFetchingManifest
	StateDownloadingCore
	StateResolvingDependencies
	StateDownloadingNatives
	StateSpawning
	StateRunning
	StateExited
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                  "IDLE",
	StateCheckingUpdates:       "CHECKING_UPDATES",
	StateResolvingInstance:     "RESOLVING_INSTANCE",
	StateVerifyingRuntime:      "VERIFYING_RUNTIME",
	StateFetchingManifest:      "FETCHING_MANIFEST",
	StateDownloadingCore:       "DOWNLOADING_CORE_ARTIFACTS",
	StateResolvingDependencies: "RESOLVING_DEPENDENCIES",
	StateDownloadingNatives:    "DOWNLOADING_NATIVES",
	StateSpawning:              "SPAWNING",
	StateRunning:               "RUNNING",
	StateExited:                "EXITED",
	StateFailed:                "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// band is the slice of the overall 0..100 bar a state owns.
type band struct{ start, end int }

var bands = map[State]band{
	StateCheckingUpdates:       {0, 20},
	StateResolvingInstance:     {20, 30},
	StateVerifyingRuntime:      {30, 40},
	StateFetchingManifest:      {40, 45},
	StateDownloadingCore:       {45, 60},
	StateResolvingDependencies: {60, 85},
	StateDownloadingNatives:    {85, 95},
	StateSpawning:              {95, 100},
	StateRunning:               {100, 100},
}

// funnel is the single progress sink of one launch attempt. Every state
// reports through it so observers see one monotonic stream.
type funnel struct {
	mono    *progress.Monotonic
	onState func(State)
	state   State
}

func newFunnel(report progress.Func, onState func(State)) *funnel {
	return &funnel{mono: progress.NewMonotonic(report), onState: onState}
}

// enter switches to s and returns the reporter scaled into its band.
func (f *funnel) enter(s State) progress.Func {
	f.state = s
	if f.onState != nil {
		f.onState(s)
	}
	b := bands[s]
	return progress.Slice(f.mono.Func(), b.start, b.end)
}

func (f *funnel) report(status string, percent int) {
	f.mono.Report(status, percent)
}
