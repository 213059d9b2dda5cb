package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"blocklaunch/internal/launch"
	"blocklaunch/internal/proc"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/tui"
)

var launchFlags struct {
	username   string
	java       string
	gameDir    string
	minMemory  int
	maxMemory  int
	extraArgs  string
	borderless bool
}

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Update content, prepare the game and run it until it exits",
		RunE:  runLaunch,
	}

	addRequestFlags(cmd)
	return cmd
}

// addRequestFlags registers the flags shared by launch and classpath.
func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&launchFlags.username, "username", "u", "", "player name (required)")
	f.StringVar(&launchFlags.java, "java", "", "use this java executable instead of resolving one")
	f.StringVar(&launchFlags.gameDir, "game-dir", "", "launch from this directory instead of the managed instance")
	f.IntVar(&launchFlags.minMemory, "min-memory", 0, "initial heap in MB (default from config)")
	f.IntVar(&launchFlags.maxMemory, "max-memory", 0, "maximum heap in MB (default from config)")
	f.StringVar(&launchFlags.extraArgs, "extra-args", "", "extra JVM arguments, whitespace separated")
	f.BoolVar(&launchFlags.borderless, "borderless", false, "start in an undecorated window")
	_ = cmd.MarkFlagRequired("username")
}

func requestFromFlags(cmd *cobra.Command) launch.Request {
	settings := &launch.Settings{
		MinMemoryMB: launchFlags.minMemory,
		MaxMemoryMB: launchFlags.maxMemory,
	}
	if cmd.Flags().Changed("extra-args") {
		extra := launchFlags.extraArgs
		settings.ExtraArgs = &extra
	}
	if cmd.Flags().Changed("borderless") {
		borderless := launchFlags.borderless
		settings.Borderless = &borderless
	}
	return launch.Request{
		Username:        launchFlags.username,
		RuntimeOverride: launchFlags.java,
		GameDirOverride: launchFlags.gameDir,
		Settings:        settings,
	}
}

func launchStages() []tui.Stage {
	return []tui.Stage{
		{Key: launch.StateCheckingUpdates.String(), Label: "Checking for updates"},
		{Key: launch.StateResolvingInstance.String(), Label: "Resolving instance"},
		{Key: launch.StateVerifyingRuntime.String(), Label: "Verifying Java runtime"},
		{Key: launch.StateFetchingManifest.String(), Label: "Fetching game metadata"},
		{Key: launch.StateDownloadingCore.String(), Label: "Downloading game"},
		{Key: launch.StateResolvingDependencies.String(), Label: "Resolving libraries"},
		{Key: launch.StateDownloadingNatives.String(), Label: "Preparing natives"},
		{Key: launch.StateSpawning.String(), Label: "Starting game"},
	}
}

func runLaunch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req := requestFromFlags(cmd)
	controller := launch.NewController(s.assembler(), s.logger)

	lines := &lineWriter{w: cmd.OutOrStdout()}
	if outputJSON {
		lines.w = cmd.ErrOrStderr()
	}
	hooks := launch.Hooks{Game: proc.Hooks{
		OnLine: func(_ proc.Stream, line string) { lines.WriteLine(line) },
		OnConnecting: func() {
			s.logger.Printf("game is connecting to a server")
		},
	}}

	var res launch.Result
	switch tui.DetectMode(cmd.ErrOrStderr(), noProgress, outputJSON) {
	case tui.ModeTUI:
		lines.hold()
		done := make(chan launch.Result, 1)
		model := tui.NewProgressModel("Launching as "+req.Username, launchStages())
		runErr := tui.RunWithWork(cmd.ErrOrStderr(), model, func(send func(tea.Msg)) error {
			r := tui.NewReporter(send)
			h := hooks
			h.OnState = func(st launch.State) { r.Stage(st.String()) }
			res := controller.Launch(ctx, req, r.Func(), h)
			done <- res
			if !res.Success {
				return resultError(res)
			}
			return nil
		})
		res = <-done
		lines.release()
		if runErr != nil && res.Success {
			s.logger.Printf("progress display failed: %v", runErr)
		}
	case tui.ModeJSON:
		res = controller.Launch(ctx, req, progress.Nop, hooks)
	default:
		p := &plainProgress{w: cmd.ErrOrStderr(), step: -1}
		res = controller.Launch(ctx, req, p.Report, hooks)
	}

	if outputJSON {
		if err := writeJSON(cmd, res); err != nil {
			return err
		}
	}
	if !res.Success {
		if res.Stack != "" {
			s.logger.Printf("launch panic stack:\n%s", res.Stack)
		}
		return resultError(res)
	}

	go func() {
		<-ctx.Done()
		if err := controller.Kill(context.Background()); err != nil {
			s.logger.Printf("kill game: %v", err)
		}
	}()
	code, err := controller.Wait()
	if err != nil && code == 0 {
		return err
	}
	if code != 0 {
		return &gameExitError{code: code}
	}
	return nil
}

func resultError(res launch.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error)
}
