package kvcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/otterkv/otterkv/internal/config"
	"github.com/otterkv/otterkv/pkg/kv"
)

// Run is kvtx's entry point. sigCh may be nil if signal handling is not
// needed (e.g. in tests). Grounded on the teacher's internal/cli.Run.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("kvtx", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagBackend := globalFlags.String("backend", "", "Override backend (memory|sqlite)")
	flagSQLiteDir := globalFlags.String("sqlite-dir", "", "Override sqlite data directory")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		workDir = wd
	}

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	overrides := config.EngineConfig{
		Backend:   config.BackendKind(*flagBackend),
		SQLiteDir: *flagSQLiteDir,
	}

	cfg, _, err := config.Load(workDir, *flagConfig, overrides, envSlice)
	if err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, closer, err := openEngine(ctx, cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if closer != nil {
		defer func() { _ = closer() }()
	}

	commands := allCommands(eng)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)

		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	if cmdName == "repl" {
		return runREPL(eng, out, errOut)
	}

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		if exitCode != 0 {
			return exitCode
		}

		return cmdIO.Finish()
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")

		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")

		return 130
	}
}

func allCommands(eng kv.Engine) []*Command {
	return []*Command{
		GetCmd(eng),
		SetCmd(eng),
		ClearCmd(eng),
		ClearRangeCmd(eng),
		RangeCmd(eng),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --backend <kind>       Override backend (memory|sqlite)
  --sqlite-dir <dir>     Override sqlite data directory`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: kvtx [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'kvtx --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "kvtx - ordered key-value transaction layer CLI")
	fprintln(w)
	fprintln(w, "Usage: kvtx [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w, "  repl                         Start an interactive session")
}
