package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/convex-community/convex-go/connection"
	"github.com/convex-community/convex-go/values"
)

type watchOptions struct {
	*rootOptions
	Args string
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &watchOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <function-path> [function-path...]",
		Short: "Subscribe to live queries and stream their updates",
		Long: `Subscribe to one or more live queries and print every update as it
arrives, until interrupted. --args applies to every path given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "function arguments as a JSON object")

	return cmd
}

func runWatch(opts *watchOptions, paths []string) error {
	args, err := parseArgs(opts.Args)
	if err != nil {
		return err
	}

	c, err := opts.newClient()
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cancelStateLog := c.OnStateChange(func(s connection.State) {
		fmt.Fprintln(os.Stderr, "connection:", s)
	})
	defer cancelStateLog()

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			handle, err := c.Subscribe(gctx, path, args, func(v values.Value, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					return
				}
				fmt.Printf("%s %s\n", path, values.EncodeValue(v))
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", path, err)
			}
			defer handle.Unsubscribe()

			<-gctx.Done()
			return nil
		})
	}

	return g.Wait()
}
