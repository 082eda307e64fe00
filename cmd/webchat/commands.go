package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/auth"
	"github.com/leofalp/webchat/providers/credentials"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the selected provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := loadSettings().provider(slog.Default())
			if err != nil {
				return err
			}
			lister, ok := provider.(modelLister)
			if !ok {
				return fmt.Errorf("provider %q cannot list models", provider.Name())
			}
			for _, model := range lister.Models(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), model)
			}
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Acquire a ChatGPT session now and save it to the session file",
		Long: `Acquire a ChatGPT session from recorded .har files or, with --browser,
from a Chrome window, and save it so later commands start authenticated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings()
			logger := slog.Default()
			store := s.store(logger)
			chain := s.acquirer(logger)

			ctx := auth.WithLoginNotifier(cmd.Context(), func(loginURL string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Log in to continue: %s\n", loginURL)
			})
			return login(ctx, cmd.OutOrStdout(), store, chain)
		},
	}
}

// login runs acquirer through the store so the result is persisted.
func login(ctx context.Context, out io.Writer, store *credentials.Store, acquirer auth.Acquirer) error {
	err := store.Refresh(ctx, func(ctx context.Context) (credentials.Credentials, credentials.Challenge, error) {
		result, err := acquirer.Acquire(ctx)
		if err != nil {
			return credentials.Credentials{}, credentials.Challenge{}, err
		}
		return result.Credentials, result.Challenge, nil
	})
	if errors.Is(err, auth.ErrNoValidSession) {
		return fmt.Errorf("%w; record a .har file while logged in or pass --browser", err)
	}
	if err != nil {
		return err
	}

	creds := store.Get()
	if creds.BearerToken == "" {
		fmt.Fprintf(out, "session saved with %d cookies and no access token\n", len(creds.Cookies))
		return nil
	}
	fmt.Fprintf(out, "session saved, access token valid until %s\n", creds.Expiry.Format("2006-01-02 15:04"))
	return nil
}

func newSynthesizeCmd() *cobra.Command {
	var (
		params ai.SynthesizeParams
		output string
	)

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Download the spoken version of a ChatGPT answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if params.ConversationID == "" || params.MessageID == "" {
				return errors.New("--conversation-id and --message-id are required")
			}
			audio, err := loadSettings().chatGPT(slog.Default()).Synthesize(cmd.Context(), params)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(audio)
				return err
			}
			return os.WriteFile(output, audio, 0o644)
		},
	}

	cmd.Flags().StringVar(&params.ConversationID, "conversation-id", "", "conversation of the answer")
	cmd.Flags().StringVar(&params.MessageID, "message-id", "", "assistant message to speak")
	cmd.Flags().StringVar(&params.Voice, "voice", "", "voice name (default maple)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "file for the audio/mpeg data, - for stdout")
	return cmd
}

func newAirforceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "airforce",
		Short: "Airforce specific commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check-key",
		Short: "Report whether the configured Airforce API key is accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			valid, err := loadSettings().airforce(slog.Default()).CheckAPIKey(cmd.Context())
			if err != nil {
				return err
			}
			if !valid {
				return errors.New("API key rejected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key accepted")
			return nil
		},
	})
	return cmd
}
