package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vinayprograms/ollamakit/chat"
	"github.com/vinayprograms/ollamakit/logging"
)

const chatHelp = `Commands:
  /clear         forget the conversation
  /history       show the conversation, failed exchanges included
  /model         show the current model and list the available ones
  /model <name>  switch models
  /logs          show the session log
  /logs clear    empty the session log
  /help          show this help
  /exit          quit
Ctrl+C cancels a response in progress, or quits at the prompt.`

// commands runs the slash commands of the chat REPL.
type commands struct {
	out     io.Writer
	session *chat.Session
	logs    *logging.Store
	alerts  *logAlerts
	models  func() ([]string, error)
}

// handle runs line if it is a command. It reports whether line was one and
// whether the REPL should stop.
func (c *commands) handle(line string) (handled, quit bool) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true, true
	case "/help":
		fmt.Fprintln(c.out, chatHelp)
	case "/clear":
		if err := c.session.Clear(); err != nil {
			fmt.Fprintln(c.out, err)
		}
	case "/history":
		c.history()
	case "/logs":
		c.showLogs(arg)
	case "/model":
		c.model(arg)
	default:
		return false, false
	}
	return true, false
}

func (c *commands) history() {
	msgs := c.session.History().DumpAll()
	if len(msgs) == 0 {
		fmt.Fprintln(c.out, "No messages.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(c.out, "%s: %s\n", m.Role, m.Content)
	}
}

func (c *commands) showLogs(arg string) {
	switch arg {
	case "":
		for _, l := range c.logs.Lines() {
			fmt.Fprintln(c.out, l)
		}
		c.alerts.take()
	case "clear":
		c.logs.Clear()
		fmt.Fprintln(c.out, "Logs cleared.")
	default:
		fmt.Fprintf(c.out, "unknown /logs argument %q\n", arg)
	}
}

func (c *commands) model(name string) {
	if name != "" {
		c.session.SetModel(name)
		fmt.Fprintf(c.out, "Model: %s\n", name)
		return
	}

	current := c.session.Model()
	fmt.Fprintf(c.out, "Model: %s\n", current)
	if c.models == nil {
		return
	}
	names, err := c.models()
	if err != nil {
		fmt.Fprintln(c.out, chat.FailureText(err))
		return
	}
	for _, n := range names {
		mark := " "
		if n == current {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %s\n", mark, n)
	}
}

// notice tells the user about warnings logged since the last notice.
func (c *commands) notice() {
	if n := c.alerts.take(); n > 0 {
		fmt.Fprintf(c.out, "(%d new warning(s) in the log, /logs to view)\n", n)
	}
}

// logAlerts counts the WARN and ERROR lines written to a log store that the
// user has not been told about.
type logAlerts struct {
	mu     sync.Mutex
	unseen int
}

func watchLogs(store *logging.Store) *logAlerts {
	a := &logAlerts{}
	store.Subscribe(a.onChange)
	return a
}

func (a *logAlerts) onChange(event logging.StoreEvent, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event {
	case logging.EventClear:
		a.unseen = 0
	case logging.EventInsert:
		if strings.HasPrefix(line, string(logging.LevelWarn)) || strings.HasPrefix(line, string(logging.LevelError)) {
			a.unseen++
		}
	}
}

// take returns the unseen count and resets it.
func (a *logAlerts) take() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.unseen
	a.unseen = 0
	return n
}
