package main

import (
	"io"
	"os"
	"strings"

	"github.com/fgeck/gocmdexec/internal/config"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile  string
	verbose     bool
	quiet       bool
	jsonOutput  bool
	logDir      string
	disableLog  bool
	lineEndings string

	// settings is filled in before any command runs.
	settings *models.Settings
)

var rootCmd = &cobra.Command{
	Use:   "gocmdexec <cmdlist_file>",
	Short: "Run a scripted command list against a Telnet or SSH host",
	Long: `gocmdexec logs in to a network device or server over Telnet or SSH,
sends the commands from a command-list file one by one and records the whole
session.

The first line of the command list names the target:
  host:port[,username,password]
Port 22 selects SSH, anything else Telnet (23 if no port is given).
Text after # or // is a comment.

The transcript is echoed to stdout and written to
<log_dir>/<prompt>_<host>_<YYYYmmdd_HHMMSS>.log once the prompt is known.`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(nil)
		cfg, err := loadSettings(cmd)
		if err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}
		settings = cfg
		if cfg.Logging.File != "" {
			setupLogging(&cfg.Logging)
		}
		return nil
	},
	RunE:         runSession,
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.Flags().StringVar(&logDir, "log_dir", config.DefaultLogDir, "directory for transcript log files")
	rootCmd.Flags().BoolVar(&disableLog, "disable_log", false, "echo to stdout only, write no log file")
	rootCmd.Flags().StringVar(&lineEndings, "line_endings", string(models.LineEndingsAuto), "line feeds in the log file: auto, keep or strip")

	rootCmd.AddCommand(validateCmd)
}

// loadSettings reads the optional config file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (*models.Settings, error) {
	cfg := config.Defaults()
	if configFile != "" {
		var err error
		if cfg, err = config.NewParser().LoadFile(configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Lookup("log_dir") != nil && flags.Changed("log_dir") {
		cfg.LogDir = logDir
	}
	if flags.Lookup("disable_log") != nil && flags.Changed("disable_log") {
		cfg.DisableLog = disableLog
	}
	if flags.Lookup("line_endings") != nil && flags.Changed("line_endings") {
		cfg.LineEndings = models.LineEndingPolicy(strings.ToLower(lineEndings))
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging configures the global logger. Operational logs go to stderr
// since stdout carries the transcript; file adds a rotating log file.
func setupLogging(file *models.LoggingSettings) {
	var out io.Writer
	if jsonOutput {
		out = os.Stderr
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		out = output
	}

	if file != nil && file.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   file.File,
			MaxSize:    file.MaxSize,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAge,
			Compress:   file.Compress,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
