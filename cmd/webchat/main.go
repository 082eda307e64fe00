// Command webchat talks to browser chat surfaces from a terminal.
//
// Flags can also be set through WEBCHAT_* environment variables (for example
// --har-dir as WEBCHAT_HAR_DIR) or a .env file in the working directory.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	slogobs "github.com/leofalp/webchat/providers/observability/slog"

	_ "github.com/joho/godotenv/autoload"
)

var rootCmd = &cobra.Command{
	Use:           "webchat",
	Short:         "Chat with web chat backends from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		slog.SetDefault(newLogger())
	},
}

func init() {
	viper.SetEnvPrefix("webchat")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("provider", "chatgpt", `backend to use: "chatgpt" or "airforce"`)
	flags.String("model", "", "model name or alias")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "compact", `log format: "compact" or "json"`)
	flags.String("base-url", "", "override the ChatGPT backend origin")
	flags.String("access-token", "", "bearer token seeding the ChatGPT session")
	flags.String("har-dir", "", "directory scanned for recorded .har sessions")
	flags.Bool("browser", false, "fall back to a Chrome session when no recorded session is usable")
	flags.Bool("headless", true, "run Chrome without a window")
	flags.String("login-url", "", "URL shown when an interactive login is needed")
	flags.String("session-file", "", "bbolt file persisting sessions between runs")
	flags.Bool("anonymous", false, "run ChatGPT turns without an account")
	flags.Duration("timeout", 0, "bound for a whole turn (0 disables)")
	flags.String("airforce-api-key", "", "Airforce API key")

	for _, name := range []string{
		"provider", "model", "log-level", "log-format", "base-url", "access-token", "har-dir",
		"browser", "headless", "login-url", "session-file", "anonymous", "timeout",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	// AIRFORCE_API_KEY keeps its historical unprefixed name.
	if err := viper.BindPFlag("airforce-api-key", flags.Lookup("airforce-api-key")); err != nil {
		panic(err)
	}
	if err := viper.BindEnv("airforce-api-key", "AIRFORCE_API_KEY"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newChatCmd(), newModelsCmd(), newLoginCmd(), newSynthesizeCmd(), newAirforceCmd())
}

// newLogger builds the process logger from --log-level, falling back to
// WEBCHAT_LOG_LEVEL through GetLogLevelFromEnv.
func newLogger() *slog.Logger {
	level := slogobs.GetLogLevelFromEnv()
	if value := viper.GetString("log-level"); value != "" {
		level = slogobs.ParseLogLevel(value)
	}
	return slogobs.NewLogger(os.Stderr, slogobs.ParseFormat(viper.GetString("log-format")), level)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "webchat: %v\n", err)
		os.Exit(1)
	}
}
