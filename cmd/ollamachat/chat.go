package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/ollamakit/chat"
	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/logging"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().Bool("render", false, "Render finished responses as markdown")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	render, _ := cmd.Flags().GetBool("render")

	// Logs would interleave with streamed output; keep them for /logs.
	logs := logging.NewStore()
	a, err := newApp(cmd.Context(), settings, logs)
	if err != nil {
		return err
	}
	defer a.close()

	if settings.Transcript.Path != "" {
		if _, err := a.openArchive(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	var renderer *glamour.TermRenderer
	if render {
		renderer, err = glamour.NewTermRenderer(glamour.WithAutoStyle())
		if err != nil {
			return err
		}
	}

	p := &printer{out: out, stream: renderer == nil}
	session := a.newSession(chat.WithRefresh(p.refresh))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	cmds := &commands{
		out:     out,
		session: session,
		logs:    logs,
		alerts:  watchLogs(logs),
		models: func() ([]string, error) {
			fut, err := eventloop.Go(a.rt, func(ctx context.Context) ([]string, error) {
				return a.client.ListModels(ctx, settings.Address)
			})
			if err != nil {
				return nil, err
			}
			return fut.Wait(cmd.Context())
		},
	}

	lines := readLines(cmd.InOrStdin())

	fmt.Fprintf(out, "Chatting with %s at %s. Type /help for commands.\n", settings.Model, settings.Address)
	for {
		fmt.Fprint(out, "> ")

		var line string
		select {
		case <-sigs:
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if handled, quit := cmds.handle(line); quit {
			return nil
		} else if handled {
			continue
		}

		fut, err := session.Send(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		p.begin()
		wait(fut, sigs, session)
		p.end()

		if renderer != nil {
			printRendered(out, renderer, session.History())
		}
		cmds.notice()
	}
}

// wait blocks until the exchange finishes. An interrupt cancels it.
func wait(fut *eventloop.Future[any], sigs <-chan os.Signal, session *chat.Session) {
	for {
		select {
		case <-fut.Done():
			return
		case <-sigs:
			session.Cancel()
		}
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func printRendered(out io.Writer, renderer *glamour.TermRenderer, history *chat.History) {
	msgs := history.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Hidden() {
		fmt.Fprintln(out, last.Content())
		return
	}
	rendered, err := renderer.Render(last.Content())
	if err != nil {
		fmt.Fprintln(out, last.Content())
		return
	}
	fmt.Fprint(out, rendered)
}

// printer writes the growth of the assistant message to the terminal as
// it streams. Refreshes arrive on the runtime's loop.
type printer struct {
	out    io.Writer
	stream bool

	mu      sync.Mutex
	printed string
}

func (p *printer) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = ""
}

func (p *printer) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream && p.printed != "" {
		fmt.Fprintln(p.out)
	}
}

func (p *printer) refresh(m *chat.Message) {
	if !p.stream || m.Role() != chat.RoleAssistant {
		return
	}
	content := m.Content()
	if content == chat.WaitingText {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(content, p.printed) {
		fmt.Fprint(p.out, content[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+content)
	}
	p.printed = content
}
