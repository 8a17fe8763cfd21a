package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/studybuddy/tooty/internal/strike"
)

// strikeAdmin is the part of strike.Store the strikes command drives.
type strikeAdmin interface {
	Count(ctx context.Context, user string) (int, error)
	IsMuted(ctx context.Context, user string) (bool, time.Duration, error)
	Unmute(ctx context.Context, user string) error
	Reset(ctx context.Context, user string) error
}

// openStrikes connects to the strike store at addr.
var openStrikes = func(ctx context.Context, addr string) (strikeAdmin, func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return strike.NewStore(rdb), func() { rdb.Close() }, nil
}

func newStrikesCmd() *cobra.Command {
	var (
		addr   string
		unmute bool
		reset  bool
	)

	cmd := &cobra.Command{
		Use:   "strikes user [user ...]",
		Short: "Show or clear moderation strikes and mutes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unmute && reset {
				return errors.New("--unmute and --reset are exclusive")
			}
			store, closeFn, err := openStrikes(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, user := range args {
				if err := strikes(cmd.Context(), store, user, unmute, reset, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "redis", "localhost:6379", "Redis address of the strike store")
	cmd.Flags().BoolVar(&unmute, "unmute", false, "lift the mute, keeping strikes")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear strikes and mute")
	return cmd
}

// strikes applies the requested change for user and prints its state.
func strikes(ctx context.Context, s strikeAdmin, user string, unmute, reset bool, out io.Writer) error {
	switch {
	case reset:
		if err := s.Reset(ctx, user); err != nil {
			return fmt.Errorf("reset %s: %w", user, err)
		}
	case unmute:
		if err := s.Unmute(ctx, user); err != nil {
			return fmt.Errorf("unmute %s: %w", user, err)
		}
	}

	n, err := s.Count(ctx, user)
	if err != nil {
		return err
	}
	muted, left, err := s.IsMuted(ctx, user)
	if err != nil {
		return err
	}

	state := "not muted"
	if muted {
		state = "muted for " + left.Round(time.Second).String()
	}
	fmt.Fprintf(out, "%s\t%d strikes\t%s\n", user, n, state)
	return nil
}
