// Package main implements the webchat client entry point. It parses
// command-line arguments, loads the connection profile, assembles the
// protocol engine, and starts the terminal interface.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/webchat-console/webchat/internal/app"
	"github.com/webchat-console/webchat/internal/config"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/ui/chat"
)

// Application metadata
const (
	Version     = "1.0.0"
	ProgramName = "webchat"
)

// CommandLineArgs represents parsed command-line arguments
type CommandLineArgs struct {
	Profile     string
	MediaDir    string
	LogLevel    string
	LogFile     string
	Persist     bool
	ShowHelp    bool
	ShowVersion bool
}

func main() {
	args := parseCommandLineArgs()

	if handleEarlyExitConditions(args) {
		return
	}

	logger := initializeLogging(args)

	configManager, err := config.NewManager()
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
		os.Exit(1)
	}

	profile, err := determineProfile(configManager, args)
	if err != nil {
		logger.Error("Failed to load profile", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error loading profile: %v\n", err)
		os.Exit(1)
	}

	engine, err := app.New(profile, configManager)
	if err != nil {
		logger.Error("Failed to assemble engine", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error initializing application: %v\n", err)
		os.Exit(1)
	}

	model, err := chat.NewModel(engine)
	if err != nil {
		logger.Error("Failed to create interface", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error creating interface: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting terminal interface", "profile", profile.Name)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		logger.Error("Interface terminated with error", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// parseCommandLineArgs processes command-line arguments
func parseCommandLineArgs() CommandLineArgs {
	var args CommandLineArgs

	flag.StringVar(&args.Profile, "profile", "default", "Profile name from the configuration file")
	flag.StringVar(&args.MediaDir, "media-dir", "", "Directory for downloaded images and stickers")
	flag.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, or error")
	flag.StringVar(&args.LogFile, "log-file", "", "Log file path (defaults to a file under the temp dir)")
	flag.BoolVar(&args.Persist, "persist-session", false, "Store the encrypted session for hot relogin")
	flag.BoolVar(&args.ShowHelp, "help", false, "Display usage information and exit")
	flag.BoolVar(&args.ShowVersion, "version", false, "Display version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", ProgramName, Version)
		fmt.Fprintf(os.Stderr, "A terminal client for the QR-login web chat protocol.\n")
		fmt.Fprintf(os.Stderr, "Scan the QR code with the phone app to log in.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration file location: ~/.config/webchat/profiles.yaml\n")
	}

	flag.Parse()
	return args
}

// handleEarlyExitConditions processes help and version flags
func handleEarlyExitConditions(args CommandLineArgs) bool {
	if args.ShowHelp {
		flag.Usage()
		return true
	}
	if args.ShowVersion {
		fmt.Printf("%s v%s\n", ProgramName, Version)
		return true
	}
	return false
}

// initializeLogging sets up the logging system. Output goes to a file so
// log lines never corrupt the terminal interface.
func initializeLogging(args CommandLineArgs) *logging.Logger {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(args.LogLevel)
	logConfig.Output = args.LogFile
	if logConfig.Output == "" {
		logConfig.Output = filepath.Join(os.TempDir(), "webchat.log")
	}

	if os.Getenv("WEBCHAT_DEBUG") == "true" {
		logConfig.Level = logging.DebugLevel
		logConfig.Format = "json"
	}

	if err := logging.InitGlobalLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger := logging.GetGlobalLogger()
	logger.Info("Starting", "version", Version, "profile", args.Profile)
	return logger
}

// determineProfile loads the requested profile and applies flag overrides
func determineProfile(configManager *config.Manager, args CommandLineArgs) (*interfaces.Profile, error) {
	profile, err := configManager.LoadProfile(args.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile '%s': %w", args.Profile, err)
	}

	if args.MediaDir != "" {
		profile.MediaDir = args.MediaDir
	}
	if args.Persist {
		profile.PersistSession = true
	}
	return profile, nil
}
