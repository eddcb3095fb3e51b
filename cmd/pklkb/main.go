// Package main is the CLI entry point for pklkb.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/pklkb/internal/daemon"
	"github.com/eliteGoblin/pklkb/internal/domain"
	"github.com/eliteGoblin/pklkb/internal/infra"
	"github.com/eliteGoblin/pklkb/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const (
	defaultConfigPath = "~/.config/karabiner.pkl"
	defaultOutputPath = "~/.config/karabiner/karabiner.json"
	logDirPath        = "~/.local/state/pklkb"
	logFileName       = "pklkb.log"
	appName           = "Pklkb"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var compileErr *domain.CompileError
		if errors.As(err, &compileErr) {
			fmt.Fprintln(os.Stderr, compileErr.Render())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pklkb",
	Short: "Karabiner configuration from Apple Pkl",
	Long: `pklkb compiles a Pkl configuration into karabiner.json and keeps it
up to date. Run 'pklkb start' to launch a daemon that watches your
configuration file and recompiles on every change.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the watch daemon",
	Long: `Starts the daemon that watches the configuration file and recompiles
on change. By default the daemon detaches and runs in the background;
use --foreground to keep it attached to the terminal.

Only one instance runs at a time: a previous instance is asked to exit
before the new one takes over.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runStop,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the configuration once",
	Long: `Runs a single compile-merge-write cycle without starting the daemon.
Profiles other than the compiled one are left untouched in the output.`,
	RunE: runCompile,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration without writing output",
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show daemon logs",
	RunE:  runLogs,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration",
	RunE:  runInit,
}

var addCmd = &cobra.Command{
	Use:   "add SOURCE",
	Short: "Import a Pkl module into the user library",
	Long: `Copies a local .pkl file or downloads one from a URL into
~/.config/karabiner_pkl/lib, where modulepath: imports resolve it.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configFlag     string
	debugFlag      bool
	foregroundFlag bool
	profileFlag    string
	outputFlag     string
	logLinesFlag   int
	logFollowFlag  bool
	forceFlag      bool
	importNameFlag string
	jsonOutput     bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Path to the Pkl configuration")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")

	startCmd.Flags().BoolVarP(&foregroundFlag, "foreground", "f", false, "Run in the foreground")
	compileCmd.Flags().StringVarP(&profileFlag, "profile-name", "p", "", "Override the profile name (default: uses config value or 'pkl')")
	compileCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Override the output path")
	logsCmd.Flags().IntVarP(&logLinesFlag, "lines", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolVarP(&logFollowFlag, "follow", "f", false, "Follow the log output")
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing configuration")
	addCmd.Flags().StringVar(&importNameFlag, "name", "", "Name for the imported file (defaults to source filename)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(versionCmd)
}

func configPath() string {
	return infra.ExpandHome(configFlag)
}

func outputPath() string {
	return infra.ExpandHome(defaultOutputPath)
}

func logFilePath() string {
	return filepath.Join(infra.ExpandHome(logDirPath), logFileName)
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foregroundFlag {
		return spawnBackground()
	}

	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	evaluator, err := infra.NewPklEvaluator(logger)
	if err != nil {
		return err
	}
	defer evaluator.Close()

	pm := infra.NewProcessManager()
	token := infra.NewPIDFile(pm, logger)
	pipeline := usecase.NewPipeline(evaluator, configPath(), outputPath(), logger)
	notifier := infra.NewDesktopNotifier(appName, logger)

	d := daemon.New(configPath(), pipeline, notifier, token, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return d.Run(ctx)
}

// spawnBackground re-executes `start --foreground` detached from the
// terminal, so the daemon survives the invoking shell.
func spawnBackground() error {
	pm := infra.NewProcessManager()
	token := infra.NewPIDFile(pm, zap.NewNop())
	if pid, running := token.Status(); running {
		fmt.Printf("pklkb is already running (pid %d)\n", pid)
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--config", configFlag}
	if debugFlag {
		daemonArgs = append(daemonArgs, "--debug")
	}

	daemonCmd := exec.Command(executable, daemonArgs...)
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}
	daemonCmd.Stdin = nil
	daemonCmd.Stdout = nil
	daemonCmd.Stderr = nil

	if err := daemonCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Println("pklkb daemon started")
	fmt.Printf("Watching: %s\n", configPath())
	fmt.Printf("Logs: %s\n", logFilePath())
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	token := infra.NewPIDFile(pm, zap.NewNop())

	stopped, err := token.Stop()
	if err != nil {
		return err
	}

	if stopped {
		fmt.Println("Daemon stopped")
	} else {
		fmt.Println("Daemon is not running")
	}
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	evaluator, err := infra.NewPklEvaluator(logger)
	if err != nil {
		return err
	}
	defer evaluator.Close()

	pipeline := usecase.NewPipeline(evaluator, configPath(), outputPath(), logger)

	opts := usecase.Options{ProfileName: profileFlag}
	if outputFlag != "" {
		opts.OutputPath = infra.ExpandHome(outputFlag)
	}

	if err := pipeline.Run(cmd.Context(), opts); err != nil {
		return err
	}

	target := pipeline.OutputPath()
	if opts.OutputPath != "" {
		target = opts.OutputPath
	}
	fmt.Printf("Wrote %s\n", target)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	evaluator, err := infra.NewPklEvaluator(logger)
	if err != nil {
		return err
	}
	defer evaluator.Close()

	pipeline := usecase.NewPipeline(evaluator, configPath(), outputPath(), logger)
	if err := pipeline.Check(cmd.Context()); err != nil {
		fmt.Println("Configuration is invalid:")
		return err
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	token := infra.NewPIDFile(pm, zap.NewNop())

	fmt.Println("=== pklkb Status ===")

	pid, running := token.Status()
	if !running {
		fmt.Println("Daemon: not running")
	} else {
		fmt.Printf("Daemon: running (pid %d)\n", pid)
		if info, err := pm.Info(pid); err == nil {
			fmt.Printf("Process: %s\n", info.Name)
			if info.StartedAt > 0 {
				started := time.UnixMilli(info.StartedAt)
				fmt.Printf("Uptime: %s\n", time.Since(started).Round(time.Second))
			}
		}
	}

	fmt.Printf("Config: %s\n", configPath())
	fmt.Printf("Output: %s\n", outputPath())
	fmt.Printf("Logs: %s\n", logFilePath())
	fmt.Printf("Bundled library: %v\n", infra.EmbeddedPklFiles())
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	logFile := logFilePath()
	if !infra.Exists(logFile) {
		fmt.Println("No logs yet")
		return nil
	}

	tailArgs := []string{"-n", fmt.Sprint(logLinesFlag)}
	if logFollowFlag {
		tailArgs = append([]string{"-f"}, tailArgs...)
	}
	tailArgs = append(tailArgs, logFile)

	tail := exec.Command("tail", tailArgs...)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if infra.Exists(path) && !forceFlag {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &domain.WriteError{Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, infra.ExamplePkl(), 0644); err != nil {
		return &domain.WriteError{Path: path, Err: err}
	}

	fmt.Printf("Created example configuration at %s\n", path)
	fmt.Println("Edit it and run 'pklkb compile' to test")
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	importer, err := infra.NewImporter(logger)
	if err != nil {
		return err
	}

	if err := importer.Import(cmd.Context(), args[0], importNameFlag); err != nil {
		return err
	}

	fmt.Println("Imported to library")
	fmt.Println("The file is available through modulepath: imports on the next compile.")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("pklkb %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// createLogger builds a file logger for daemon mode, or a development
// logger when running with --debug in the foreground.
func createLogger() *zap.Logger {
	if debugFlag {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	logDir := infra.ExpandHome(logDirPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(logDir, logFileName)}
	config.ErrorOutputPaths = []string{filepath.Join(logDir, logFileName)}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
