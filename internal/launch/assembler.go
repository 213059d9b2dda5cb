// Package launch turns a launch request into a running game: it brings
// content up to date, resolves the runtime, game jar, libraries and natives,
// then builds and starts the game process.
package launch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/config"
	"blocklaunch/internal/fetch"
	"blocklaunch/internal/gamemeta"
	"blocklaunch/internal/jre"
	"blocklaunch/internal/libraries"
	"blocklaunch/internal/lockfile"
	"blocklaunch/internal/logx"
	"blocklaunch/internal/manifest"
	"blocklaunch/internal/natives"
	"blocklaunch/internal/paths"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/proc"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/reconcile"
	"blocklaunch/internal/record"
)

// DefaultUpdateTTL is how long an update check result is reused.
const DefaultUpdateTTL = 60 * time.Second

const bootstrapVersion = "bundled"

// Updater installs pending content updates.
type Updater interface {
	ApplyAll(ctx context.Context, report progress.Func) reconcile.ApplyResult
}

// Options configures an Assembler.
type Options struct {
	Home            paths.Home
	Config          config.Config
	Profile         platform.Profile
	LauncherVersion string
	// RepoRules route loader libraries. Defaults to libraries.DefaultRepoRules.
	RepoRules []libraries.RepoRule
	UpdateTTL time.Duration
}

// Plan is a fully prepared launch.
type Plan struct {
	LaunchID   string                `json:"launch_id"`
	Runtime    jre.Runtime           `json:"runtime"`
	Args       []string              `json:"args"`
	Env        []string              `json:"-"`
	Dir        string                `json:"dir"`
	Classpath  []string              `json:"classpath"`
	MainClass  string                `json:"main_class"`
	VersionID  string                `json:"version_id"`
	NativesDir string                `json:"natives_dir"`
	Instance   bool                  `json:"instance"`
	Modded     bool                  `json:"modded"`
	Update     reconcile.ApplyResult `json:"-"`
}

// Command returns the process description for p.
func (p *Plan) Command() proc.Command {
	return proc.Command{Path: p.Runtime.Path, Args: p.Args, Env: p.Env, Dir: p.Dir}
}

// Assembler runs the launch states up to spawning. It is long lived so the
// update check cache survives between launches.
type Assembler struct {
	opts      Options
	fetcher   *fetch.Fetcher
	installer *archive.Installer
	updater   Updater
	runtime   *jre.Resolver
	meta      *gamemeta.Client
	logger    logx.Logger
	now       func() time.Time

	checkMu   sync.Mutex
	checkedAt time.Time
	checked   bool
	lastCheck reconcile.ApplyResult
}

// NewReconciler wires the version reconciler for home and cfg.
func NewReconciler(home paths.Home, cfg config.Config, launcherVersion string, fetcher *fetch.Fetcher, installer *archive.Installer, logger logx.Logger) *reconcile.Reconciler {
	manifests := manifest.NewClient(logger)
	manifests.Timeout = cfg.Manifest.Timeout
	return reconcile.New(reconcile.Options{
		ManifestURLs:        cfg.Manifest.URLs,
		LauncherVersion:     launcherVersion,
		LauncherDownloadURL: cfg.Launcher.DownloadURL,
		GameDir:             home.InstanceDir,
		BackupDir:           home.BackupDir,
		DownloadsDir:        home.DownloadsDir,
		LockPath:            home.LockFile,
		MaxRetries:          cfg.Downloads.MaxRetries,
		InactivityTimeout:   cfg.Downloads.Inactivity,
	}, manifests, fetcher, installer, record.NewStore(home.RecordFile), logger)
}

// NewFetcher returns a fetcher tuned by the download settings of cfg.
func NewFetcher(cfg config.Config, logger logx.Logger) *fetch.Fetcher {
	fetcher := fetch.New(logger)
	if cfg.Downloads.RetryDelay > 0 {
		fetcher.RetryDelay = cfg.Downloads.RetryDelay
	}
	fetcher.MaxRetries = cfg.Downloads.MaxRetries
	fetcher.InactivityTimeout = cfg.Downloads.Inactivity
	return fetcher
}

// NewRuntimeResolver wires the java runtime resolver for home and cfg.
func NewRuntimeResolver(home paths.Home, cfg config.Config, profile platform.Profile, fetcher *fetch.Fetcher, installer *archive.Installer, logger logx.Logger) *jre.Resolver {
	return jre.NewResolver(jre.Options{
		Dir:          home.RuntimeDir,
		DownloadsDir: home.DownloadsDir,
		MinMajor:     cfg.Runtime.MinMajor,
		Override:     cfg.Runtime.Override,
		DownloadURL:  cfg.Runtime.DownloadURL,
		Profile:      profile,
	}, proc.CmdRunner{}, fetcher, installer, logger)
}

// NewAssembler wires every component from opts.
func NewAssembler(opts Options, logger logx.Logger) *Assembler {
	logger = logx.OrDiscard(logger)
	if len(opts.RepoRules) == 0 {
		opts.RepoRules = libraries.DefaultRepoRules
	}
	if opts.UpdateTTL <= 0 {
		opts.UpdateTTL = DefaultUpdateTTL
	}
	cfg := opts.Config
	home := opts.Home

	fetcher := NewFetcher(cfg, logger)
	installer := archive.NewInstaller(logger)

	a := &Assembler{
		opts:      opts,
		fetcher:   fetcher,
		installer: installer,
		logger:    logger,
		now:       time.Now,
		runtime:   NewRuntimeResolver(home, cfg, opts.Profile, fetcher, installer, logger),
		meta:      gamemeta.NewClient(cfg.Game.ManifestURL, home.VersionCacheFile, logger),
	}
	if len(cfg.Manifest.URLs) > 0 {
		a.updater = NewReconciler(home, cfg, opts.LauncherVersion, fetcher, installer, logger)
	}
	return a
}

// Prepare runs every state up to spawning and returns the plan without
// starting the game.
func (a *Assembler) Prepare(ctx context.Context, req Request, report progress.Func) (*Plan, error) {
	id := newLaunchID()
	plan, err := a.prepare(ctx, req, newFunnel(report, nil), logx.Tagged(a.logger, shortID(id)))
	if plan != nil {
		plan.LaunchID = id
	}
	return plan, err
}

func (a *Assembler) prepare(ctx context.Context, req Request, f *funnel, logger logx.Logger) (*Plan, error) {
	if strings.TrimSpace(req.Username) == "" {
		return nil, ErrUsernameRequired
	}
	cfg := a.opts.Config
	home := a.opts.Home
	profile := a.opts.Profile
	settings := resolveSettings(cfg, req.Settings)
	plan := &Plan{}

	plan.Update = a.checkUpdates(ctx, f.enter(StateCheckingUpdates), logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, instance := a.resolveInstance(ctx, req, f.enter(StateResolvingInstance), logger)
	plan.Dir = root
	plan.Instance = instance
	var pack libraries.Pack
	if instance {
		var err error
		pack, plan.Modded, err = libraries.DetectLoader(filepath.Join(root, libraries.PackFileName))
		if err != nil {
			logger.Printf("pack description unreadable, launching without loader: %v", err)
			plan.Modded = false
		}
	}
	versionID := cfg.Game.Version
	if pack.GameVersion != "" {
		versionID = pack.GameVersion
	}

	rt, err := a.runtime.WithOverride(req.RuntimeOverride).Resolve(ctx, f.enter(StateVerifyingRuntime))
	if err != nil {
		return nil, fmt.Errorf("verify runtime: %w", err)
	}
	plan.Runtime = rt
	logger.Printf("runtime %s (java %d, %s)", rt.Path, rt.Major, rt.Source)

	report := f.enter(StateFetchingManifest)
	report("Fetching game metadata", 0)
	v, err := a.meta.Version(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("fetch game metadata: %w", err)
	}
	report("Game metadata ready", 100)
	plan.VersionID = v.ID

	clientJar, err := a.ensureClient(ctx, v, f.enter(StateDownloadingCore))
	if err != nil {
		return nil, err
	}

	cp, bundles, err := a.resolveDependencies(ctx, v, clientJar, pack, plan.Modded, f.enter(StateResolvingDependencies))
	if err != nil {
		return nil, err
	}
	plan.Classpath = cp.Entries()

	plan.NativesDir = home.NativesDir(v.ID)
	skipped, err := natives.Ensure(ctx, a.fetcher, plan.NativesDir, profile, bundles, logger, f.enter(StateDownloadingNatives))
	if err != nil {
		return nil, fmt.Errorf("prepare natives: %w", err)
	}
	if skipped {
		logger.Printf("natives already extracted in %s", plan.NativesDir)
	}

	report = f.enter(StateSpawning)
	report("Preparing game", 0)
	plan.MainClass = v.MainClass
	if plan.Modded {
		plan.MainClass = libraries.KnotMainClass
	}
	sep := profile.ClasspathSep
	if sep == "" {
		sep = string(os.PathListSeparator)
	}
	plan.Args = buildArgs(argSpec{
		settings:        settings,
		profile:         profile,
		nativesDir:      plan.NativesDir,
		classpath:       cp.Join(sep),
		mainClass:       plan.MainClass,
		launcherVersion: a.opts.LauncherVersion,
		username:        strings.TrimSpace(req.Username),
		versionID:       v.ID,
		versionType:     v.Type,
		gameDir:         root,
		assetsDir:       home.AssetsDir,
		assetIndex:      v.AssetIndexID(),
	})
	plan.Env = buildEnv(os.Environ(), profile, plan.NativesDir)
	logger.Printf("prepared %s (modded=%t, %d classpath entries)", v.ID, plan.Modded, len(plan.Classpath))
	return plan, nil
}

// checkUpdates applies pending content updates, reusing a result younger
// than the update TTL. Failures never stop the launch.
func (a *Assembler) checkUpdates(ctx context.Context, report progress.Func, logger logx.Logger) reconcile.ApplyResult {
	if a.updater == nil {
		report("Update check disabled", 100)
		return reconcile.ApplyResult{Success: true}
	}

	a.checkMu.Lock()
	defer a.checkMu.Unlock()
	if a.checked && a.now().Sub(a.checkedAt) < a.opts.UpdateTTL {
		report("Content checked recently", 100)
		return a.lastCheck
	}

	report("Checking for updates", 0)
	res := a.updater.ApplyAll(ctx, report)
	if ctx.Err() == nil {
		a.checked = true
		a.checkedAt = a.now()
		a.lastCheck = res
	}
	if res.Err != nil {
		logger.Printf("update failed, continuing with installed content: %v", res.Err)
		report("Update unavailable, using installed content", 100)
	} else if len(res.Applied) > 0 {
		logger.Printf("updated %v", res.Applied)
	}
	return res
}

// resolveInstance picks the content root. ok reports whether it is a custom
// instance rather than the vanilla directory.
func (a *Assembler) resolveInstance(ctx context.Context, req Request, report progress.Func, logger logx.Logger) (root string, ok bool) {
	if dir := req.GameDirOverride; dir != "" {
		_, err := os.Stat(filepath.Join(dir, libraries.PackFileName))
		report("Using custom game directory", 100)
		return dir, err == nil
	}

	dir := a.opts.Home.InstanceDir
	if archive.HasOrphan(a.opts.Home.BackupDir) {
		a.recoverOrphan(ctx, dir, logger)
	}
	if m, found := reconcile.ReadInstanceMarker(dir); found {
		report(fmt.Sprintf("Instance %s ready", m.Version), 100)
		return dir, true
	}
	if a.opts.Config.Instance.URL == "" {
		return a.vanilla(report, logger), false
	}
	if err := a.bootstrapInstance(ctx, dir, report); err != nil {
		logger.Printf("instance bootstrap failed, using vanilla: %v", err)
		return a.vanilla(report, logger), false
	}
	return dir, true
}

// recoverOrphan puts back user files left in the backup dir by an
// interrupted install. Failures keep the backup for a later attempt.
func (a *Assembler) recoverOrphan(ctx context.Context, dir string, logger logx.Logger) {
	release, err := lockfile.Acquire(ctx, a.opts.Home.LockFile)
	if err != nil {
		logger.Printf("orphaned backup left in place: %v", err)
		return
	}
	defer release()
	if restored, err := archive.RecoverOrphan(a.opts.Home.BackupDir, dir); err != nil {
		logger.Printf("orphaned backup left in place: %v", err)
	} else if restored {
		logger.Printf("restored user files from an interrupted install into %s", dir)
	}
}

func (a *Assembler) vanilla(report progress.Func, logger logx.Logger) string {
	dir := a.opts.Home.VanillaDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Printf("create %s: %v", dir, err)
	}
	report("Using vanilla game", 100)
	return dir
}

func (a *Assembler) bootstrapInstance(ctx context.Context, dir string, report progress.Func) error {
	home := a.opts.Home
	release, err := lockfile.Acquire(ctx, home.LockFile)
	if err != nil {
		return err
	}
	defer release()

	if _, found := reconcile.ReadInstanceMarker(dir); found {
		return nil
	}

	archivePath := filepath.Join(home.DownloadsDir, "instance-bootstrap.zip")
	task := a.task([]string{a.opts.Config.Instance.URL}, archivePath, "instance")
	if err := a.fetcher.Fetch(ctx, task, progress.Slice(report, 0, 70)); err != nil {
		return err
	}
	if err := archive.ValidateZip(archivePath); err != nil {
		_ = os.Remove(archivePath)
		return err
	}
	if err := a.installer.ReplaceInstance(ctx, archivePath, dir, home.BackupDir, progress.Slice(report, 70, 100)); err != nil {
		if archive.IsInvalidArchive(err) {
			_ = os.Remove(archivePath)
		}
		return err
	}
	if err := reconcile.WriteInstanceMarker(dir, bootstrapVersion); err != nil {
		return err
	}
	_ = os.Remove(archivePath)
	return nil
}

func (a *Assembler) ensureClient(ctx context.Context, v *gamemeta.Version, report progress.Func) (string, error) {
	path := a.opts.Home.ClientJar(v.ID)
	client := v.Downloads.Client
	if info, err := os.Stat(path); err == nil && info.Size() >= minGameJarSize && (client.Size <= 0 || info.Size() == client.Size) {
		report("Game ready", 100)
		return path, nil
	}

	task := a.task([]string{client.URL}, path, v.ID+".jar")
	if err := a.fetcher.Fetch(ctx, task, report); err != nil {
		return "", fmt.Errorf("download game: %w", err)
	}
	if err := checkArtifact(path, minGameJarSize, client.Size); err != nil {
		return "", err
	}
	report("Game ready", 100)
	return path, nil
}

func (a *Assembler) resolveDependencies(ctx context.Context, v *gamemeta.Version, clientJar string, pack libraries.Pack, modded bool, report progress.Func) (*libraries.Classpath, []natives.Bundle, error) {
	libDir := a.opts.Home.LibrariesDir
	resolved := v.ResolveLibraries(a.opts.Profile, a.opts.Profile.RuleArch)

	cp := &libraries.Classpath{}
	cp.Append(clientJar)

	vanillaEnd := 100
	if modded {
		vanillaEnd = 60
	}
	n := len(resolved.Classpath)
	for i, art := range resolved.Classpath {
		sub := progress.Slice(report, i*vanillaEnd/max(n, 1), (i+1)*vanillaEnd/max(n, 1))
		path, err := a.ensureLibrary(ctx, art, libDir, sub)
		if err != nil {
			return nil, nil, err
		}
		cp.Append(path)
	}

	if modded {
		check := func(p string) error { return checkArtifact(p, minLibrarySize, 0) }
		loaderPaths, err := libraries.Ensure(ctx, a.fetcher, a.opts.RepoRules, libraries.LoaderTable(pack), libDir, check, progress.Slice(report, 60, 100))
		if err != nil {
			return nil, nil, fmt.Errorf("resolve loader: %w", err)
		}
		cp.AppendAll(loaderPaths)
	}
	cp.MoveToEnd(clientJar)

	bundles := make([]natives.Bundle, 0, len(resolved.Natives))
	for _, art := range resolved.Natives {
		bundles = append(bundles, natives.Bundle{URL: art.URL, Path: filepath.Join(libDir, filepath.FromSlash(art.Path)), Exclude: art.Exclude})
	}
	report("Libraries ready", 100)
	return cp, bundles, nil
}

func (a *Assembler) ensureLibrary(ctx context.Context, art gamemeta.Artifact, libDir string, report progress.Func) (string, error) {
	path := filepath.Join(libDir, filepath.FromSlash(art.Path))
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if checkArtifact(path, minLibrarySize, art.Size) == nil {
			report("Library cached", 100)
			return path, nil
		}
	}
	if art.URL == "" {
		return "", fmt.Errorf("library %s has no download url", art.Path)
	}
	task := a.task([]string{art.URL}, path, filepath.Base(path))
	if err := a.fetcher.Fetch(ctx, task, report); err != nil {
		return "", fmt.Errorf("download library: %w", err)
	}
	if err := checkArtifact(path, minLibrarySize, art.Size); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Assembler) task(urls []string, dest, label string) fetch.Task {
	d := a.opts.Config.Downloads
	return fetch.Task{
		URLs:              urls,
		Dest:              dest,
		MaxRetries:        d.MaxRetries,
		InactivityTimeout: d.Inactivity,
		Label:             label,
	}
}
