package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-research/nixfs/internal/config"
	nixfs "github.com/agentic-research/nixfs/internal/fs"
	"github.com/agentic-research/nixfs/internal/nfsmount"
	"github.com/agentic-research/nixfs/internal/nixbuild"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/winfsp/cgofuse/fuse"
)

// version is overridden at link time with -ldflags "-X ...cmd.version=".
var version = "0.1.0"

var (
	configPath string
	debug      bool
	backend    string
	nixBinary  string
	maxOutput  int
	mountOpts  []string
)

func init() {
	bindFlags(rootCmd.Flags())
}

func bindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "Path to YAML config (default $"+config.EnvVar+")")
	flags.BoolVar(&debug, "debug", false, "Log every filesystem call and build")
	flags.StringVar(&backend, "backend", "", "Mount backend: fuse or nfs")
	flags.StringVar(&nixBinary, "nix", "", "Path to the nix binary")
	flags.IntVar(&maxOutput, "max-output", 0, "Readlink buffer capacity in bytes")
	flags.StringArrayVarP(&mountOpts, "option", "o", nil, "Mount option passed to FUSE (repeatable)")
}

var rootCmd = &cobra.Command{
	Use:     "nixfs [none] <mountpoint>",
	Short:   "nixfs: nix build outputs as symlinks",
	Version: version,
	Long: `nixfs mounts a filesystem whose symlinks resolve to nix build outputs.

  <mnt>/flake/{str,b64,urlenc}/[<option>/...]<flake-ref>   nix build <flake-ref>
  <mnt>/expr/{str,b64,urlenc}/[<option>/...]<expression>   nix build --impure --expr <expression>

Every read of a link runs a fresh build.`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint, err := mountPointArg(args)
		if err != nil {
			return err
		}

		// 1. Resolve configuration
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Debug)
		logger.Debug("debug logging enabled")

		// 2. Resolve the build tool
		binary := cfg.Nix.Binary
		if binary == "" {
			binary = "nix"
		}
		binary, err = nixbuild.FindBinary(binary)
		if err != nil {
			return err
		}
		invoker := nixbuild.NewInvoker(nixbuild.Options{
			Binary:    binary,
			MaxOutput: cfg.Nix.MaxOutput,
			Logger:    logger,
		})

		// 3. Host it
		switch cfg.Backend {
		case config.NFS:
			return serveNFS(cmd.Context(), invoker, logger, mountPoint)
		default:
			return serveFUSE(invoker, logger, cfg, mountPoint)
		}
	},
}

// mountPointArg drops a leading "none", which mount(8) and fstab pass in
// the device position.
func mountPointArg(args []string) (string, error) {
	if len(args) > 0 && args[0] == "none" {
		args = args[1:]
	}
	if len(args) != 1 {
		return "", fmt.Errorf("usage: nixfs [none] <mountpoint> [flags]")
	}
	return args[0], nil
}

// loadConfig reads the config file and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("backend") {
		cfg.Backend = config.Backend(backend)
	}
	if flags.Changed("nix") {
		cfg.Nix.Binary = nixBinary
	}
	if flags.Changed("max-output") {
		cfg.Nix.MaxOutput = maxOutput
	}
	if flags.Changed("option") {
		cfg.Mount.Options = append(cfg.Mount.Options, mountOpts...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serveFUSE(b nixbuild.Builder, logger *slog.Logger, cfg *config.Config, mountPoint string) error {
	host := fuse.NewFileSystemHost(nixfs.NewNixFS(b, logger))

	// Use -o uid=N,gid=N to ensure we own the mount (critical for fuse-t/NFS)
	opts := append(cfg.MountArgs(),
		"-o", fmt.Sprintf("uid=%d", os.Getuid()),
		"-o", fmt.Sprintf("gid=%d", os.Getgid()),
	)

	logger.Info("mounting nixfs", "backend", "fuse", "mountpoint", mountPoint, "options", opts)

	// Mount blocks until the filesystem is unmounted.
	if !host.Mount(mountPoint, opts) {
		return fmt.Errorf("mount failed")
	}
	return nil
}

func serveNFS(ctx context.Context, b nixbuild.Builder, logger *slog.Logger, mountPoint string) error {
	srv, err := nfsmount.NewServer(nfsmount.NewNamespaceFS(b, logger), logger)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	logger.Info("mounting nixfs", "backend", "nfs", "mountpoint", mountPoint, "port", srv.Port())
	if err := nfsmount.Mount(srv.Port(), mountPoint); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("unmounting nixfs", "mountpoint", mountPoint)
		return nfsmount.Unmount(mountPoint)
	case err := <-srv.Done():
		_ = nfsmount.Unmount(mountPoint)
		return fmt.Errorf("nfs server exited: %w", err)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
