package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/streamchat"
	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/engine"
)

const helpText = `Commands:
  /new            start a new conversation
  /list           list conversations
  /open <id>      open a conversation
  /delete <id>    delete a conversation
  /clear          clear the current chat
  /quit           exit`

type repl struct {
	client *streamchat.Client
	sess   *engine.Session
	out    io.Writer
}

func newREPL(client *streamchat.Client, out io.Writer) *repl {
	return &repl{client: client, sess: client.NewConversation(), out: out}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	if _, err := r.client.LoadConversations(ctx); err != nil {
		r.printf("! could not load conversations: %v\n", err)
	}
	r.printf("%s\n\n", helpText)

	scanner := bufio.NewScanner(in)
	r.prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			quit, err := r.command(ctx, line)
			if err != nil {
				r.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		default:
			r.send(ctx, line)
		}
		if ctx.Err() != nil {
			return nil
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *repl) prompt() { r.printf("> ") }

func (r *repl) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) send(ctx context.Context, text string) {
	events, errs, err := r.sess.Send(ctx, text)
	if err != nil {
		r.printf("! %s\n", core.UserMessage(err))
		return
	}

	var meta *core.MetadataEvent
	for ev := range events {
		switch v := ev.(type) {
		case core.DeltaEvent:
			r.printf("%s", v.Text)
		case core.MetadataEvent:
			meta = &v
		}
	}
	r.printf("\n")

	if err := <-errs; err != nil {
		if msg := core.UserMessage(err); msg != "" {
			r.printf("! %s\n", msg)
		}
		return
	}
	if meta != nil {
		r.printMetadata(*meta)
	}
}

func (r *repl) printMetadata(meta core.MetadataEvent) {
	if len(meta.Concepts) > 0 {
		names := make([]string, 0, len(meta.Concepts))
		for _, c := range meta.Concepts {
			names = append(names, c.Name)
		}
		r.printf("  concepts: %s\n", strings.Join(names, ", "))
	}
	for _, ref := range meta.References {
		r.printf("  ref: %s (%s, %d)\n", ref.Title, ref.Author, ref.Year)
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.printf("%s\n", helpText)
	case "/new":
		r.sess = r.client.NewConversation()
		r.printf("new conversation\n")
	case "/clear":
		return false, r.client.ClearChat(r.sess)
	case "/list":
		items, err := r.client.Conversations()
		if err != nil {
			return false, err
		}
		if len(items) == 0 {
			r.printf("no conversations\n")
		}
		for _, it := range items {
			r.printf("  %s  %s\n", it.ID, it.Title)
		}
	case "/open":
		if arg == "" {
			return false, fmt.Errorf("usage: /open <id>")
		}
		sess, err := r.client.OpenConversation(ctx, arg)
		if err != nil {
			return false, err
		}
		r.sess = sess
		view, err := sess.View()
		if err != nil {
			return false, err
		}
		for _, m := range view.Messages {
			r.printf("%s: %s\n", m.Role, m.Content.Text)
		}
	case "/delete":
		if arg == "" {
			return false, fmt.Errorf("usage: /delete <id>")
		}
		return false, r.client.DeleteConversation(ctx, arg)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}
