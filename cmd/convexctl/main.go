// convexctl exercises a deployment from the command line: one-shot
// queries, live subscription watching and paged loads.
//
// Usage:
//
//	convexctl query messages:list --args '{"channel":"general"}'
//	convexctl watch messages:list counters:get
//	convexctl pages messages:paged --max-pages 3
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
