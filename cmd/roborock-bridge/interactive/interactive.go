// Package interactive provides the interactive command-line interface
// for roborock-bridge.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/lopelex/roborock-bridge/pkg/host"
	"github.com/lopelex/roborock-bridge/pkg/roborock"
)

// CallTimeout bounds one device call issued from the prompt.
const CallTimeout = 10 * time.Second

// Runtime is the part of the host runtime the shell needs.
type Runtime interface {
	Nodes() []host.NodeInfo
	Node(id string) (host.Node, error)
}

// Shell handles interactive mode.
type Shell struct {
	rl      *readline.Instance
	runtime Runtime
}

// New creates the shell. Bind a runtime before calling Run.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "roborock> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that coordinates with the prompt.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Bind sets the runtime the commands operate on.
func (s *Shell) Bind(rt Runtime) {
	s.runtime = rt
}

// Run reads commands until exit, EOF, or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if s.Execute(ctx, line) {
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	return execute(ctx, s.rl.Stdout(), s.runtime, line)
}

func execute(ctx context.Context, w io.Writer, rt Runtime, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		printHelp(w)
	case "nodes", "n", "status", "s":
		cmdNodes(w, rt)
	case "reconnect":
		cmdReconnect(w, rt, args)
	case "call", "c":
		cmdCall(ctx, w, rt, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	printHelp(s.rl.Stdout())
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Roborock Bridge Commands:
  nodes                       - List nodes with status and connection state
  reconnect <node>            - Re-establish the device session of a node
  call <node> <method> [json] - Call a device method, params as a JSON array
  help                        - Show this help
  exit                        - Stop the bridge`)
}

func cmdNodes(w io.Writer, rt Runtime) {
	if rt == nil {
		fmt.Fprintln(w, "No runtime")
		return
	}
	nodes := rt.Nodes()
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No nodes running")
		return
	}
	for _, info := range nodes {
		state := "-"
		if n, err := rt.Node(info.ID); err == nil {
			if rn, ok := n.(*roborock.Node); ok {
				state = rn.State().String()
				if rn.Inert() {
					state = "inert"
				}
			}
		}
		status := info.Status.Text
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "  %-16s %-14s %-14s %-12s %s\n", info.ID, info.Type, status, state, info.Name)
	}
}

func lookup(w io.Writer, rt Runtime, args []string, usage string) (*roborock.Node, bool) {
	if len(args) < 1 {
		fmt.Fprintf(w, "Usage: %s\n", usage)
		return nil, false
	}
	if rt == nil {
		fmt.Fprintln(w, "No runtime")
		return nil, false
	}
	n, err := rt.Node(args[0])
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return nil, false
	}
	rn, ok := n.(*roborock.Node)
	if !ok {
		fmt.Fprintf(w, "Error: node %s is not a %s node\n", args[0], roborock.TypeName)
		return nil, false
	}
	return rn, true
}

func cmdReconnect(w io.Writer, rt Runtime, args []string) {
	n, ok := lookup(w, rt, args, "reconnect <node>")
	if !ok {
		return
	}
	if err := n.Reconnect(); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Reconnecting %s\n", args[0])
}

func cmdCall(ctx context.Context, w io.Writer, rt Runtime, args []string) {
	n, ok := lookup(w, rt, args, "call <node> <method> [json-array]")
	if !ok {
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(w, "Usage: call <node> <method> [json-array]")
		return
	}

	var params []any
	if len(args) > 2 {
		raw := strings.Join(args[2:], " ")
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			fmt.Fprintf(w, "Error: params must be a JSON array: %v\n", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()
	result, err := n.Call(ctx, args[1], params...)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s\n", result)
}
