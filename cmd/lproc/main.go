// Command lproc is the Long-Process Supervisor's subsystem-level CLI
// (spec.md §6, "Long-Process CLI").
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ternarybob/actor/internal/config"
	"github.com/ternarybob/actor/pkg/lproc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: load config: %v\n", err)
		os.Exit(1)
	}
	mgr := lproc.NewManager(cfg.LprocRoot(), cfg.ArchiveRoot())

	switch os.Args[1] {
	case "-s":
		runStart(mgr, os.Args[2:])
	case "-l":
		runList(mgr)
	case "-i":
		runInfo(mgr, os.Args[2:])
	case "-k":
		runKill(mgr, os.Args[2:])
	case "-d":
		runDelete(mgr, os.Args[2:])
	case "-e":
		runExport(mgr, os.Args[2:])
	case "-a":
		runAppend(mgr, os.Args[2:])
	case "-p":
		runPretty(mgr, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  lproc -s NAME CMD
  lproc -l
  lproc -i NAME
  lproc -k NAME
  lproc -d NAME
  lproc -e NAME FOLDER
  lproc -a N NAME
  lproc -p NAME STREAM N CONVERTER [-- ARGS...]`)
}

func runStart(mgr *lproc.Manager, args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	info, err := mgr.Start(args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	if info.Running {
		fmt.Printf("started %s (pgid %d)\n", args[0], info.PGID)
	} else {
		fmt.Printf("started %s (still starting)\n", args[0])
	}
}

func runList(mgr *lproc.Manager) {
	infos, err := mgr.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	for _, info := range infos {
		state := "inactive"
		if info.Running {
			state = "running"
		}
		fmt.Printf("%-20s %-10s pgid=%-8d age_any_io=%s\n", info.Name, state, info.PGID, info.AgeAnyIO)
	}
}

func runInfo(mgr *lproc.Manager, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	info, err := mgr.Info(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("name: %s\n", info.Name)
	fmt.Printf("running: %v\n", info.Running)
	fmt.Printf("pgid: %d\n", info.PGID)
	fmt.Printf("pids: %v\n", info.PIDs)
	fmt.Printf("stdin_age: %s\n", info.StdinAge)
	fmt.Printf("stdout_age: %s\n", info.StdoutAge)
	fmt.Printf("stderr_age: %s\n", info.StderrAge)
	fmt.Printf("AGE_ANY_IO: %.0f seconds\n", info.AgeAnyIO.Seconds())
}

func runKill(mgr *lproc.Manager, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	if err := mgr.Kill(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("killed %s\n", args[0])
}

func runDelete(mgr *lproc.Manager, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	dest, err := mgr.Delete(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("archived %s to %s\n", args[0], dest)
}

func runExport(mgr *lproc.Manager, args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := mgr.Export(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %s to %s\n", args[0], filepath.Clean(args[1]))
}

func runAppend(mgr *lproc.Manager, args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: invalid N: %v\n", err)
		os.Exit(2)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: read stdin: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Append(args[1], n, data); err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
}

func runPretty(mgr *lproc.Manager, args []string) {
	if len(args) < 3 {
		usage()
		os.Exit(2)
	}
	name, streamArg, nArg := args[0], args[1], args[2]
	converter := "un"
	var converterArgs []string
	if len(args) >= 4 {
		converter = args[3]
	}
	if len(args) > 4 {
		rest := args[4:]
		if len(rest) > 0 && rest[0] == "--" {
			rest = rest[1:]
		}
		converterArgs = rest
	}

	n, err := strconv.Atoi(nArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lproc: invalid N: %v\n", err)
		os.Exit(2)
	}

	if err := mgr.Pretty(name, lproc.Stream(streamArg), n, converter, converterArgs, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "lproc: %v\n", err)
		os.Exit(1)
	}
}
