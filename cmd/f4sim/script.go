package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ardnew/f4core/pkg"
)

var scriptCmd = &cobra.Command{
	Use:   "script FILE",
	Short: "Run f4sim commands from a file against one simulated board",
	Long: `Run one f4sim command per line, sharing the simulated board between
lines so that, for example, an image loaded into flash can be dumped later.
Lines are split with shell quoting rules; blank lines and # comments are
skipped. "-" reads standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return runScript(r, args[0])
	},
}

func init() {
	rootCmd.AddCommand(scriptCmd)
}

func runScript(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		words, err := shlex.Split(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, line, err)
		}
		pkg.LogDebug(pkg.ComponentCLI, "script", "line", line, "args", words)
		if err := runLine(words); err != nil {
			return fmt.Errorf("%s:%d: %s: %w", name, line, words[0], err)
		}
	}
	return sc.Err()
}

// runLine finds and runs the command named by words with fresh flag
// values.
func runLine(words []string) error {
	c, rest, err := rootCmd.Find(words)
	if err != nil {
		return err
	}
	if c == rootCmd || c == scriptCmd {
		return fmt.Errorf("not a script command: %w", pkg.ErrNotSupported)
	}
	if c.RunE == nil {
		return fmt.Errorf("%s needs a subcommand: %w", c.CommandPath(), pkg.ErrInvalidRequest)
	}
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	if err := c.ParseFlags(rest); err != nil {
		return err
	}
	args := c.Flags().Args()
	if c.Args != nil {
		if err := c.Args(c, args); err != nil {
			return err
		}
	}
	return c.RunE(c, args)
}
