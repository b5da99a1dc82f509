package kvcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/otterkv/otterkv/pkg/keysel"
	"github.com/otterkv/otterkv/pkg/kv"
)

// repl is the interactive kvtx session, grounded on the teacher's sloty
// REPL (cmd/sloty/main.go): liner for readline-style input and history,
// a flat command switch, no subcommand flags.
type repl struct {
	eng    kv.Engine
	out    io.Writer
	errOut io.Writer
	liner  *liner.State
}

func runREPL(eng kv.Engine, out, errOut io.Writer) int {
	r := &repl{eng: eng, out: out, errOut: errOut}

	if err := r.run(); err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func replHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvtx_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(replHistoryFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Fprintln(r.out, "kvtx - interactive session")
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("kvtx> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Fprintln(r.out, "Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(args)

		case "set":
			r.cmdSet(args)

		case "clear", "del", "delete":
			r.cmdClear(args)

		case "clearrange":
			r.cmdClearRange(args)

		case "range", "scan":
			r.cmdRange(args)

		default:
			fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := replHistoryFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = r.liner.WriteHistory(f)
		_ = f.Close()
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"get", "set", "clear", "clearrange", "range", "scan", "help", "exit", "quit", "q"}

	var out []string

	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}

	return out
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  get <key>                       Read a value")
	fmt.Fprintln(r.out, "  set <key> <value>               Write a value")
	fmt.Fprintln(r.out, "  clear <key>                     Remove a key")
	fmt.Fprintln(r.out, "  clearrange <begin> <end>        Remove a range")
	fmt.Fprintln(r.out, "  range <begin> <end> [limit]     Scan a range")
	fmt.Fprintln(r.out, "  help                            Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q                 Exit")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Keys/values: hex if it parses as hex, otherwise plain text.")
}

func (r *repl) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "Usage: get <key>")

		return
	}

	key := parseBytes(args[0])

	var (
		value []byte
		found bool
	)

	err := kv.WithTransaction(context.Background(), r.eng, func(ctx context.Context, tx kv.Transaction) error {
		v, ok, err := tx.GetValue(ctx, key)
		value, found = v, ok

		return err
	})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)

		return
	}

	if !found {
		fmt.Fprintln(r.out, "(not found)")

		return
	}

	fmt.Fprintln(r.out, formatBytes(value))
}

func (r *repl) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: set <key> <value>")

		return
	}

	key, value := parseBytes(args[0]), parseBytes(args[1])

	err := kv.WithTransaction(context.Background(), r.eng, func(ctx context.Context, tx kv.Transaction) error {
		tx.SetValue(key, value)

		return nil
	})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)

		return
	}

	fmt.Fprintln(r.out, "OK")
}

func (r *repl) cmdClear(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "Usage: clear <key>")

		return
	}

	key := parseBytes(args[0])

	err := kv.WithTransaction(context.Background(), r.eng, func(ctx context.Context, tx kv.Transaction) error {
		tx.Clear(key)

		return nil
	})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)

		return
	}

	fmt.Fprintln(r.out, "OK")
}

func (r *repl) cmdClearRange(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: clearrange <begin> <end>")

		return
	}

	begin, end := parseBytes(args[0]), parseBytes(args[1])

	err := kv.WithTransaction(context.Background(), r.eng, func(ctx context.Context, tx kv.Transaction) error {
		tx.ClearRange(begin, end)

		return nil
	})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)

		return
	}

	fmt.Fprintln(r.out, "OK")
}

func (r *repl) cmdRange(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: range <begin> <end> [limit]")

		return
	}

	begin, end := parseBytes(args[0]), parseBytes(args[1])

	limit := 100

	if len(args) >= 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(r.out, "Error parsing limit: %v\n", err)

			return
		}

		limit = n
	}

	rs := kv.RangeSelector{
		Begin: keysel.FirstGreaterOrEqual(begin),
		End:   keysel.FirstGreaterOrEqual(end),
	}

	var entries []kv.Entry

	err := kv.WithTransaction(context.Background(), r.eng, func(ctx context.Context, tx kv.Transaction) error {
		e, err := tx.GetRange(ctx, rs, kv.RangeOptions{Limit: limit})
		entries = e

		return err
	})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)

		return
	}

	if len(entries) == 0 {
		fmt.Fprintln(r.out, "(empty)")

		return
	}

	for _, e := range entries {
		fmt.Fprintf(r.out, "%s = %s\n", formatBytes(e.Key), formatBytes(e.Value))
	}
}
