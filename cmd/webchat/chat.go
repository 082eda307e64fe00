package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leofalp/webchat/core/client"
	"github.com/leofalp/webchat/providers/ai"
)

func newChatCmd() *cobra.Command {
	var (
		systemPrompt string
		imagePaths   []string
		noStream     bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt, or start an interactive chat when none is given",
		Long: `Send a prompt and print the answer as it streams.

Without a prompt, lines are read from standard input. In that mode
"/continue" extends a truncated answer, "/reset" starts a new conversation
and "/exit" quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadSettings().client(slog.Default(), systemPrompt)
			if err != nil {
				return err
			}
			images, err := readImages(imagePaths)
			if err != nil {
				return err
			}

			session := &chatSession{client: c, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), stream: !noStream}
			if len(args) > 0 {
				return session.turn(cmd.Context(), strings.Join(args, " "), images)
			}
			return session.repl(cmd.Context(), cmd.InOrStdin(), images)
		},
	}

	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt")
	cmd.Flags().StringSliceVar(&imagePaths, "image", nil, "image file attached to the first prompt (repeatable)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "print the answer only once it is complete")
	return cmd
}

func readImages(paths []string) ([]ai.ImageInput, error) {
	images := make([]ai.ImageInput, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images = append(images, ai.ImageInput{Data: data, Name: filepath.Base(path)})
	}
	return images, nil
}

// chatSession prints turns of one client to a terminal.
type chatSession struct {
	client *client.Client
	out    io.Writer
	errOut io.Writer
	stream bool
}

func (s *chatSession) repl(ctx context.Context, in io.Reader, images []ai.ImageInput) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		var err error
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			s.client.Reset()
			fmt.Fprintln(s.out, "conversation reset")
			continue
		case "/continue":
			err = s.continueTurn(ctx)
		default:
			err = s.turn(ctx, line, images)
			images = nil
		}

		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(s.errOut, "error: %v\n", err)
		}
	}
}

func (s *chatSession) turn(ctx context.Context, prompt string, images []ai.ImageInput) error {
	if !s.stream {
		response, err := s.client.SendMessage(ctx, prompt, images...)
		if err != nil {
			return err
		}
		printResponse(s.out, s.errOut, response)
		return nil
	}

	stream, err := s.client.StreamMessage(ctx, prompt, images...)
	if err != nil {
		return err
	}
	return render(s.out, s.errOut, stream)
}

func (s *chatSession) continueTurn(ctx context.Context) error {
	response, err := s.client.Continue(ctx)
	if err != nil {
		return err
	}
	printResponse(s.out, s.errOut, response)
	return nil
}

// render prints a stream as it arrives. Image failures are reported on
// errOut and do not stop the stream.
func render(out, errOut io.Writer, stream *ai.ChatStream) error {
	midLine := false
	endLine := func() {
		if midLine {
			fmt.Fprintln(out)
			midLine = false
		}
	}

	for event, err := range stream.Iter() {
		if errors.Is(err, ai.ErrImageResolution) {
			fmt.Fprintf(errOut, "[image unavailable: %v]\n", err)
			continue
		}
		if err != nil {
			endLine()
			return err
		}

		switch event.Type {
		case ai.StreamEventContent:
			fmt.Fprint(out, event.Content)
			if event.Content != "" {
				midLine = !strings.HasSuffix(event.Content, "\n")
			}
		case ai.StreamEventImage:
			endLine()
			printImage(out, event.Image)
		case ai.StreamEventLogin:
			fmt.Fprintf(errOut, "Log in to continue: %s\n", event.LoginURL)
		case ai.StreamEventSynthesize:
			endLine()
			printSynthesize(out, event.Synthesize)
		case ai.StreamEventDone:
			endLine()
			if event.FinishReason == ai.FinishMaxTokens {
				fmt.Fprintln(errOut, "[answer truncated, type /continue for more]")
			}
		}
	}
	return nil
}

func printResponse(out, errOut io.Writer, response *ai.ChatResponse) {
	if response.LoginURL != "" {
		fmt.Fprintf(errOut, "Log in to continue: %s\n", response.LoginURL)
	}
	fmt.Fprintln(out, response.Content)
	for i := range response.Images {
		printImage(out, &response.Images[i])
	}
	for _, err := range response.ImageErrors {
		fmt.Fprintf(errOut, "[image unavailable: %v]\n", err)
	}
	printSynthesize(out, response.Synthesize)
	if response.FinishReason == ai.FinishMaxTokens {
		fmt.Fprintln(errOut, "[answer truncated, type /continue for more]")
	}
}

func printImage(out io.Writer, image *ai.ImageResult) {
	if image == nil {
		return
	}
	if image.Prompt != "" {
		fmt.Fprintf(out, "[image] %s (%s)\n", image.URL, image.Prompt)
		return
	}
	fmt.Fprintf(out, "[image] %s\n", image.URL)
}

func printSynthesize(out io.Writer, params *ai.SynthesizeParams) {
	if params == nil {
		return
	}
	fmt.Fprintf(out, "[audio: webchat synthesize --conversation-id %s --message-id %s]\n",
		params.ConversationID, params.MessageID)
}
