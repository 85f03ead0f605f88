package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

const helpText = "Usage:\n" +
	"\t/login <clientID> <password> <serverIP> <serverPort>\n" +
	"\t/logout\n" +
	"\t/joinsession <sessionID>\n" +
	"\t/leavesession\n" +
	"\t/createsession <sessionID>\n" +
	"\t/switchtab <tab (optional)>\n" +
	"\t/list\n" +
	"\t/quit\n"

// REPL is the foreground command loop: it prompts, tokenizes input lines,
// and drives the session. Lines starting with '/' are commands with exact
// token counts; anything else is message text for the active tab's room.
type REPL struct {
	session *Session

	outMu sync.Mutex
	out   io.Writer
}

// NewREPL wires a command loop over the session. It installs the broadcast
// renderer, so it must be constructed before Login runs.
func NewREPL(session *Session, out io.Writer) *REPL {
	r := &REPL{session: session, out: out}
	session.OnBroadcast = r.renderBroadcast
	return r
}

// Run reads commands until /quit or EOF. The returned error reports a
// broken input stream, not command failures; those print and continue.
func (r *REPL) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		r.printf("%s", r.session.Prompt())
		if !scanner.Scan() {
			return scanner.Err()
		}
		if r.Execute(scanner.Text()) {
			return nil
		}
	}
}

// Execute runs one input line and reports whether the loop should stop.
func (r *REPL) Execute(line string) (quit bool) {
	if !strings.HasPrefix(line, "/") {
		r.sendText(line)
		return false
	}

	tokens := strings.Fields(line)
	cmd := strings.TrimPrefix(tokens[0], "/")

	switch {
	case cmd == "login" && len(tokens) == 5:
		if err := r.session.Login(tokens[1], tokens[2], tokens[3], tokens[4]); err != nil {
			r.printf("Log in error.\n")
		} else {
			r.printf("Connected.\n")
		}
	case cmd == "logout" && len(tokens) == 1:
		if err := r.session.Logout(); err != nil {
			r.printf("Error, cannot logout.\n")
		}
	case cmd == "joinsession" && len(tokens) == 2:
		if err := r.session.JoinSession(tokens[1]); err != nil {
			r.printf("Cannot join session.\n")
		} else {
			r.printf("Joined session: %s\n", r.session.ActiveRoom())
		}
	case cmd == "leavesession" && len(tokens) == 1:
		if err := r.session.LeaveSession(); err != nil {
			r.printf("Cannot leave session.\n")
		}
	case cmd == "createsession" && len(tokens) == 2:
		if err := r.session.CreateSession(tokens[1]); err != nil {
			r.printf("Session creation error.\n")
		} else {
			r.printf("Session created: %s\n", r.session.ActiveRoom())
		}
	case cmd == "list" && len(tokens) == 1:
		listing, err := r.session.List()
		if err != nil {
			r.printf("Error listing sessions\n")
		} else {
			r.printf("%s\n", listing)
		}
	case cmd == "switchtab" && (len(tokens) == 1 || len(tokens) == 2):
		r.switchTab(tokens)
	case cmd == "quit":
		return true
	default:
		r.printf("Unrecognized command. %s", helpText)
	}
	return false
}

func (r *REPL) switchTab(tokens []string) {
	if len(tokens) == 1 {
		r.printf("Switched to tab %d\n", r.session.CycleTab())
		return
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil || r.session.SwitchTab(n) != nil {
		r.printf("Invalid session number\n")
		return
	}
	r.printf("Switched to tab %d\n", n)
}

func (r *REPL) sendText(text string) {
	if r.session.ActiveRoom() == "" {
		r.printf("%s", helpText)
		return
	}
	if err := r.session.SendText(text); err != nil {
		r.printf("Error sending message.\n")
	}
}

// renderBroadcast runs on the session's reader goroutine: it interleaves an
// incoming room message with whatever prompt is on screen and redraws it.
func (r *REPL) renderBroadcast(b Broadcast) {
	r.printf("\rSession %s: %s: %s\n%s", b.Room, b.Sender, b.Text, r.session.Prompt())
}

func (r *REPL) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
