// Command lptail is the line-buffered tail -f analog the LPS pipeline pipes
// into the target command (spec.md §4.B.2).
package main

import (
	"fmt"
	"os"

	"github.com/ternarybob/actor/pkg/lproc"
)

func main() {
	var path string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" && i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "lptail: usage: lptail -f <path>")
		os.Exit(2)
	}

	lines := make(chan string, 64)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for line := range lines {
			fmt.Print(line)
		}
	}()

	if err := lproc.Tail(path, lines, done); err != nil {
		fmt.Fprintf(os.Stderr, "lptail: %v\n", err)
		os.Exit(1)
	}
}
