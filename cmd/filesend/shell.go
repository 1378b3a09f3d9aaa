package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/chzyer/readline"
	"github.com/cyberinferno/filexfer/hostcontrol"
	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/transfer"
	"github.com/rs/zerolog"
)

// shell is the interactive front end. Commands are dispatched through a
// hostcontrol.Controller so the prompt stays responsive during transfers.
type shell struct {
	rl      *readline.Instance
	session *transfer.Session
	ctrl    *hostcontrol.Controller
	addr    string
}

func newShell(cfg senderConfig, level zerolog.Level) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "filesend> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	log := logger.NewConsoleLogger(rl.Stderr(), "filesend", level)
	session := transfer.NewSession(cfg.Session, log)

	sh := &shell{
		rl:      rl,
		session: session,
		ctrl:    hostcontrol.New(session, log),
		addr:    cfg.Addr,
	}
	sh.ctrl.OnStatus(sh.printStatus)

	return sh, nil
}

// Run reads commands until quit, EOF or ctx is cancelled.
func (sh *shell) Run(ctx context.Context) {
	defer sh.rl.Close()
	defer sh.ctrl.Close()

	go func() {
		<-ctx.Done()
		_ = sh.rl.Close()
	}()

	sh.printHelp()

	for {
		line, err := sh.rl.Readline()
		if err == readline.ErrInterrupt {
			sh.ctrl.Cancel()
			continue
		}
		if err != nil {
			fmt.Fprintln(sh.out(), "Exiting...")
			return
		}

		if !sh.exec(line) {
			return
		}
	}
}

// exec runs one command line and reports whether the shell should continue.
func (sh *shell) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}

	args := parts[1:]
	switch strings.ToLower(parts[0]) {
	case "help", "?":
		sh.printHelp()

	case "connect", "c":
		sh.cmdConnect(args)

	case "send", "s":
		if len(args) != 1 {
			fmt.Fprintln(sh.out(), "usage: send <path>")
			return true
		}
		sh.ctrl.Send(args[0])

	case "cancel":
		sh.ctrl.Cancel()

	case "disconnect", "d":
		sh.ctrl.Disconnect()

	case "status":
		sh.cmdStatus()

	case "quit", "exit", "q":
		fmt.Fprintln(sh.out(), "Exiting...")
		return false

	default:
		fmt.Fprintf(sh.out(), "Unknown command: %s (type 'help' for commands)\n", parts[0])
	}

	return true
}

func (sh *shell) cmdConnect(args []string) {
	var host, port string

	switch len(args) {
	case 0:
		if sh.addr == "" {
			fmt.Fprintln(sh.out(), "usage: connect <host> <port> | connect <host:port>")
			return
		}
		args = []string{sh.addr}
		fallthrough
	case 1:
		h, p, err := net.SplitHostPort(args[0])
		if err != nil {
			fmt.Fprintf(sh.out(), "invalid address %q: %v\n", args[0], err)
			return
		}
		host, port = h, p
	case 2:
		host, port = args[0], args[1]
	default:
		fmt.Fprintln(sh.out(), "usage: connect <host> <port> | connect <host:port>")
		return
	}

	sh.ctrl.Connect(host, port)
}

func (sh *shell) cmdStatus() {
	state := sh.ctrl.State()
	fmt.Fprintf(sh.out(), "State: %s\n", state)
	if state == transfer.Connected {
		fmt.Fprintf(sh.out(), "Target: %s\n", sh.session.Target())
		fmt.Fprintf(sh.out(), "Session: %s\n", sh.session.ID())
	}
	if sh.ctrl.Busy() {
		fmt.Fprintln(sh.out(), "An operation is in progress.")
	}
}

func (sh *shell) printStatus(status hostcontrol.Status) {
	fmt.Fprintln(sh.out(), status.Text)
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out(), `
filesend commands:
  connect [host port|host:port] - Connect to a receiver (default: configured addr)
  send <path>                   - Send one file
  cancel                        - Stop a running connect or streamed send
  disconnect                    - Close the connection
  status                        - Show connection state
  help                          - Show this help
  quit                          - Exit`)
}

func (sh *shell) out() io.Writer {
	return sh.rl.Stdout()
}
