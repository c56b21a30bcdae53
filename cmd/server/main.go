package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagconf string
	envFile  string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webauth",
	Short: "Session and identity provider service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; real env vars win over it
		if envFile != "" {
			godotenv.Load(envFile)
		}
		logger = newLogger(os.Getenv("LOG_LEVEL"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagconf, "conf", "c", "configs/config.yaml", "config path, eg: -conf config.yaml")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd, fetchCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
