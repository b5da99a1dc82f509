package kvcli

import (
	"context"
	"encoding/hex"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/otterkv/otterkv/pkg/keysel"
	"github.com/otterkv/otterkv/pkg/kv"
)

// parseBytes decodes s as hex if it parses cleanly, otherwise treats it as
// a raw UTF-8 key/value, following the teacher's sloty REPL convention.
func parseBytes(s string) []byte {
	if raw, err := hex.DecodeString(s); err == nil {
		return raw
	}

	return []byte(s)
}

// formatBytes renders b as a quoted string if printable, otherwise hex.
func formatBytes(b []byte) string {
	printable := len(b) > 0

	for _, c := range b {
		if c < 32 || c > 126 {
			printable = false

			break
		}
	}

	if printable {
		return fmt.Sprintf("%q", string(b))
	}

	return hex.EncodeToString(b)
}

// GetCmd reads a single key.
func GetCmd(eng kv.Engine) *Command {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "get <key>",
		Short: "Read the value stored at key",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("get: missing key")
			}

			key := parseBytes(args[0])

			var (
				value []byte
				found bool
			)

			err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
				v, ok, err := tx.GetValue(ctx, key)
				value, found = v, ok

				return err
			})
			if err != nil {
				return err
			}

			if !found {
				o.Println("(not found)")

				return nil
			}

			o.Println(formatBytes(value))

			return nil
		},
	}
}

// SetCmd writes a single key/value pair.
func SetCmd(eng kv.Engine) *Command {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "set <key> <value>",
		Short: "Write a value at key",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("set: missing key or value")
			}

			key, value := parseBytes(args[0]), parseBytes(args[1])

			err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
				tx.SetValue(key, value)

				return nil
			})
			if err != nil {
				return err
			}

			o.Println("OK")

			return nil
		},
	}
}

// ClearCmd removes a single key.
func ClearCmd(eng kv.Engine) *Command {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "clear <key>",
		Short: "Remove a key",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("clear: missing key")
			}

			key := parseBytes(args[0])

			err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
				tx.Clear(key)

				return nil
			})
			if err != nil {
				return err
			}

			o.Println("OK")

			return nil
		},
	}
}

// ClearRangeCmd removes every key in [begin, end).
func ClearRangeCmd(eng kv.Engine) *Command {
	fs := flag.NewFlagSet("clearrange", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "clearrange <begin> <end>",
		Short: "Remove every key in [begin, end)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("clearrange: missing begin or end")
			}

			begin, end := parseBytes(args[0]), parseBytes(args[1])

			err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
				tx.ClearRange(begin, end)

				return nil
			})
			if err != nil {
				return err
			}

			o.Println("OK")

			return nil
		},
	}
}

// RangeCmd scans a key range.
func RangeCmd(eng kv.Engine) *Command {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	limit := fs.IntP("limit", "l", 100, "maximum entries to return")
	reverse := fs.BoolP("reverse", "r", false, "scan in descending order")

	return &Command{
		Flags: fs,
		Usage: "range <begin> <end> [flags]",
		Short: "Scan keys in [begin, end)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("range: missing begin or end")
			}

			begin, end := parseBytes(args[0]), parseBytes(args[1])

			rs := kv.RangeSelector{
				Begin: keysel.FirstGreaterOrEqual(begin),
				End:   keysel.FirstGreaterOrEqual(end),
			}

			var entries []kv.Entry

			err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
				e, err := tx.GetRange(ctx, rs, kv.RangeOptions{Limit: *limit, Reverse: *reverse})
				entries = e

				return err
			})
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				o.Println("(empty)")

				return nil
			}

			for _, e := range entries {
				o.Printf("%s = %s\n", formatBytes(e.Key), formatBytes(e.Value))
			}

			return nil
		},
	}
}
