package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"khojum/internal/filter"
)

const helpText = `commands:
  filter <all|today|tomorrow|Free|category>
  sort <key>
  search <text>     (empty clears)
  reload
  show
  help
  quit`

// Exec runs one command line. It reports whether the loop should stop.
func (c *Controller) Exec(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	case "filter", "f":
		c.SetFilter(arg)
	case "sort", "s":
		c.SetSort(arg)
	case "search", "/":
		c.SetSearch(arg)
	case "reload", "r":
		return false, c.Load(ctx)
	case "show":
		c.Render(c.out)
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		fmt.Fprintf(c.out, "sort keys: %s\n", joinSorts(c.opts.Variant.Sorts))
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

// Run reads commands from in until quit, EOF or ctx is done.
func (c *Controller) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			quit, err := c.Exec(ctx, line)
			if err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func joinSorts(keys []filter.SortKey) string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
