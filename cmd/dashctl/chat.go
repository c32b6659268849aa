package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dogwood/dashboard-client/internal/service/chat"
)

var chatModel string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the AI assistant about your analytics",
	Long: `Starts an interactive chat. Replies stream as they arrive.

Commands:
  /attach <path>   attach a file to the next message
  /clear           clear the conversation
  /exit            quit`,
	RunE: withApp(runChat),
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model to use (defaults to AI_MODEL)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(ctx context.Context, a *app, _ []string) error {
	if _, ok := a.store.Get(); !ok {
		return errors.New("not signed in, run `dashctl login` first")
	}

	model := strings.ToLower(chatModel)
	if model == "" {
		model = a.cfg.Chat.DefaultModel
	}
	if !a.cfg.Chat.AllowsModel(model) {
		return fmt.Errorf("model %q is not one of %s", model, strings.Join(a.cfg.Chat.Models, ", "))
	}

	policy := chat.DiscardPartial
	if a.cfg.Chat.PreservePartials {
		policy = chat.PreservePartial
	}
	conv := chat.NewConversation(policy)
	svc := chat.NewService(chat.NewTransport(a.cfg.Chat.BaseURL, nil, a.store), a.store)

	fmt.Printf("Using model: %s\n", accent(model))
	fmt.Println(muted("Type /exit or press Ctrl+D to quit."))
	fmt.Println()

	var pending []string
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(success("You: "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/exit":
			return nil
		case line == "/clear":
			if err := conv.Clear(); err != nil {
				fmt.Println(failure(err.Error()))
				continue
			}
			pending = nil
			fmt.Println(muted("Conversation cleared."))
			continue
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			if _, err := os.Stat(path); err != nil {
				fmt.Println(failure(err.Error()))
				continue
			}
			pending = append(pending, path)
			fmt.Println(muted("Attached " + filepath.Base(path)))
			continue
		}

		err := exchange(ctx, svc, conv, model, line, pending, os.Stdout)
		pending = nil
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			continue
		case chat.IsUnauthorized(err):
			return errors.New("session expired, run `dashctl login` again")
		}
	}
}

// exchange sends one message and prints the reply as it streams.
func exchange(ctx context.Context, svc *chat.Service, conv *chat.Conversation, model, text string, paths []string, out io.Writer) error {
	attachments, closeAll, err := openFiles(paths)
	if err != nil {
		fmt.Fprintln(out, failure(err.Error()))
		return err
	}
	defer closeAll()

	events, cancel := conv.Subscribe(256)
	defer cancel()

	ex, err := svc.Start(ctx, conv, model, text, attachments)
	if err != nil {
		return err
	}

	fmt.Fprint(out, accent("Assistant: "))
	started := false
	for ev := range events {
		if !started {
			started = ev.Type == chat.EventUserMessage && ev.MessageID == ex.UserMessageID
			continue
		}
		switch ev.Type {
		case chat.EventDelta:
			fmt.Fprint(out, ev.Delta)
		case chat.EventComplete:
			fmt.Fprintln(out)
			fmt.Fprintln(out)
			return ex.Wait()
		case chat.EventFailed:
			fmt.Fprintln(out)
			fmt.Fprintln(out, failure(ev.Message.Content))
			fmt.Fprintln(out)
			return ex.Wait()
		}
	}
	return ex.Wait()
}

func openFiles(paths []string) ([]chat.Attachment, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	attachments := make([]chat.Attachment, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, f)
		attachments = append(attachments, chat.Attachment{Name: filepath.Base(p), Reader: f})
	}
	return attachments, closeAll, nil
}
