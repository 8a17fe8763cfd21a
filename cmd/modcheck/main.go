// Command modcheck screens text with the Tooty moderation filter. Each
// argument, or each line of stdin when no arguments are given, is reported
// as blocked or clean. The exit status is 1 when anything was blocked.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/messaging"
	"github.com/studybuddy/tooty/internal/moderation"
)

// errBlocked signals that at least one input was blocked.
var errBlocked = errors.New("inappropriate content found")

type screener interface {
	Screen(ctx context.Context, text string) (moderation.Verdict, error)
}

type options struct {
	blocklist string
	explain   bool
	natsURL   string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "modcheck [text ...]",
		Short: "Screen text with the chat moderation filter",
		Long: `modcheck runs text through the same filter the chat gateway uses.

Without arguments it reads one text per line from stdin. With --nats it asks
a running moderation service instead of filtering locally. The strikes
subcommand inspects and clears the penalties the gateway records.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := opts.screener()
			if err != nil {
				return err
			}
			defer closeFn()

			return run(cmd.Context(), s, args, cmd.InOrStdin(), cmd.OutOrStdout(), opts.explain)
		},
	}

	cmd.Flags().StringVar(&opts.blocklist, "blocklist", "", "YAML blocklist file (default: built-in list)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "show the matching stage and term")
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "screen through the moderation service at this NATS URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "moderation service request timeout")

	cmd.AddCommand(newStrikesCmd())
	return cmd
}

func (o options) screener() (screener, func(), error) {
	if o.natsURL == "" {
		f, err := moderation.LoadFilter(o.blocklist)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}

	cfg := messaging.DefaultConfig()
	cfg.URL = o.natsURL
	cfg.Name = "tooty-modcheck"
	cfg.MaxReconnects = 0
	nc, err := messaging.NewClient(cfg, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return moderation.NewClient(nc, o.timeout), nc.Close, nil
}

// run screens every input and writes one result line per input.
func run(ctx context.Context, s screener, args []string, in io.Reader, out io.Writer, explain bool) error {
	blocked := 0
	check := func(text string) error {
		v, err := s.Screen(ctx, text)
		if err != nil {
			return err
		}
		if v.Blocked {
			blocked++
		}
		fmt.Fprintln(out, format(text, v, explain))
		return nil
	}

	if len(args) > 0 {
		for _, a := range args {
			if err := check(a); err != nil {
				return err
			}
		}
	} else {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if err := check(sc.Text()); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	if blocked > 0 {
		return errBlocked
	}
	return nil
}

func format(text string, v moderation.Verdict, explain bool) string {
	status := "clean"
	if v.Blocked {
		status = "blocked"
	}
	if explain && v.Blocked {
		return fmt.Sprintf("%s\t%s\t%s\t%q", status, v.Stage, v.Term, text)
	}
	return fmt.Sprintf("%s\t%q", status, text)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errBlocked) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "modcheck:", err)
		os.Exit(2)
	}
}
