package cli

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/spf13/cobra"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/config"
	"blocklaunch/internal/launch"
	"blocklaunch/internal/logx"
	"blocklaunch/internal/paths"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/reconcile"
)

// session is the state every command starts from: the resolved home, its
// configuration, the host profile and the command log.
type session struct {
	home    paths.Home
	cfg     config.Config
	target  platform.Target
	profile platform.Profile
	logger  *log.Logger
	closer  io.Closer
}

func openSession(cmd *cobra.Command) (*session, error) {
	home, err := paths.Resolve(homeDir)
	if err != nil {
		return nil, err
	}
	if err := home.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, closer, err := logx.New(home.LogsDir, "blocklaunch")
	if err != nil {
		return nil, err
	}
	logger.Printf("blocklaunch %s %s: home=%s", Version, cmd.Name(), home.Root)

	cfg, err := config.Load(home.ConfigFile)
	if err != nil {
		closer.Close()
		return nil, err
	}
	logger.Printf("loaded config version=%d game=%s", cfg.Version, cfg.Game.Version)

	target, profile, err := platform.CurrentProfile()
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &session{
		home:    home,
		cfg:     cfg,
		target:  target,
		profile: profile,
		logger:  logger,
		closer:  closer,
	}, nil
}

func (s *session) Close() error {
	return s.closer.Close()
}

func (s *session) assembler() *launch.Assembler {
	return launch.NewAssembler(launch.Options{
		Home:            s.home,
		Config:          s.cfg,
		Profile:         s.profile,
		LauncherVersion: Version,
	}, s.logger)
}

// reconciler returns nil when no manifest URL is configured.
func (s *session) reconciler() *reconcile.Reconciler {
	if len(s.cfg.Manifest.URLs) == 0 {
		return nil
	}
	return launch.NewReconciler(s.home, s.cfg, Version, launch.NewFetcher(s.cfg, s.logger), archive.NewInstaller(s.logger), s.logger)
}

var errUpdatesDisabled = errors.New("no manifest URLs configured; set manifest.urls in launcher.yaml")

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
