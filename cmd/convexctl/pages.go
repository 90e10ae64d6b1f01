package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/convex-community/convex-go/values"
)

type pagesOptions struct {
	*rootOptions
	Args     string
	MaxPages int
	Timeout  time.Duration
}

func newPagesCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &pagesOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pages <function-path>",
		Short: "Load a paginated query page by page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "function arguments as a JSON object")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "stop after this many pages (0 = until exhausted)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall deadline")

	return cmd
}

func runPages(opts *pagesOptions, path string) error {
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

	p := c.Paginate(path, args)
	pages := 0
	for p.HasMore() {
		page, err := p.LoadNext(ctx)
		if err != nil {
			return err
		}
		pages++
		for _, item := range page {
			fmt.Println(values.EncodeValue(item))
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			break
		}
	}

	stats := p.Stats()
	fmt.Printf("loaded %d items across %d pages\n", stats.ItemsLoaded, stats.PagesLoaded)
	return nil
}
