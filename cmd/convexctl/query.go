package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/convex-community/convex-go/dispatch"
	"github.com/convex-community/convex-go/values"
)

type queryOptions struct {
	*rootOptions
	Args    string
	Kind    string
	UseHTTP bool
	Timeout time.Duration
}

func newQueryCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &queryOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <function-path>",
		Short: "Run a one-shot query, mutation or action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "function arguments as a JSON object")
	cmd.Flags().StringVar(&opts.Kind, "kind", "query", "call kind (query|mutation|action)")
	cmd.Flags().BoolVar(&opts.UseHTTP, "http", false, "use the one-shot HTTP endpoint instead of the socket")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall call deadline")

	return cmd
}

func runQuery(opts *queryOptions, path string) error {
	args, err := parseArgs(opts.Args)
	if err != nil {
		return err
	}

	c, err := opts.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	defer c.Close(context.Background())

	d := c.Dispatcher()
	if opts.UseHTTP {
		d = c.HTTP()
	}

	var result values.Value
	switch opts.Kind {
	case "query":
		result, err = d.Query(ctx, path, args, dispatch.Options{})
	case "mutation":
		result, err = d.Mutation(ctx, path, args, dispatch.Options{})
	case "action":
		result, err = d.Action(ctx, path, args, dispatch.Options{})
	default:
		return fmt.Errorf("invalid kind %q: must be query, mutation or action", opts.Kind)
	}
	if err != nil {
		return err
	}

	fmt.Println(values.EncodeValue(result))
	return nil
}
