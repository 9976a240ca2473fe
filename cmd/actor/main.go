// Command actor is the translation orchestrator's CLI entry point: it loads
// the operator configuration, starts the Project Scheduler's worker loop,
// and drives an interactive REPL over add/stop/stopall/continue/fork
// (spec.md §6, "CLI surface (orchestrator)").
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/actor/internal/config"
	"github.com/ternarybob/actor/internal/logger"
	"github.com/ternarybob/actor/pkg/continuation"
	"github.com/ternarybob/actor/pkg/dangerous"
	"github.com/ternarybob/actor/pkg/iteration"
	"github.com/ternarybob/actor/pkg/llm"
	"github.com/ternarybob/actor/pkg/lproc"
	"github.com/ternarybob/actor/pkg/monitor"
	"github.com/ternarybob/actor/pkg/runner"
	"github.com/ternarybob/actor/pkg/scheduler"
	"github.com/ternarybob/actor/pkg/state"
	"github.com/ternarybob/actor/pkg/workers"
	"github.com/ternarybob/actor/pkg/workspace"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "actor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("actor", flag.ContinueOnError)
	var (
		showHelp    bool
		showVersion bool
		configPath  string
	)
	fs.BoolVar(&showHelp, "help", false, "show usage")
	fs.BoolVar(&showHelp, "h", false, "show usage")
	fs.BoolVar(&showVersion, "version", false, "show version")
	fs.BoolVar(&showVersion, "v", false, "show version")
	fs.StringVar(&configPath, "config", "", "path to config.json")
	fs.StringVar(&configPath, "c", "", "path to config.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage()
		return nil
	}
	if showVersion {
		fmt.Println("actor", version)
		return nil
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger.InitLogger(logger.SetupLogger(cfg))
	log := logger.GetLogger()

	dangerousList, err := dangerous.Load(cfg.DangerousListPath())
	if err != nil {
		return fmt.Errorf("load dangerous list: %w", err)
	}

	store := state.NewStore(cfg.WorkingDirectory)
	cont := continuation.New(cfg.WorkingDirectory, cfg.BackupsDirectory)
	sched := scheduler.New(cfg.MaxParallel, store, dangerousList, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mon *monitor.Monitor
	if addr := os.Getenv("ACTOR_MONITOR_ADDR"); addr != "" {
		mon = monitor.New(addr, sched)
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		log.Info().Msg("monitor listening on " + addr)
	}
	sched.NewMachine = newMachineFactory(cfg, store, mon)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, requesting stop on every instance")
		sched.StopAll()
		cancel()
	}()

	go sched.Run(ctx)

	repl := &repl{
		cfg:   cfg,
		store: store,
		cont:  cont,
		sched: sched,
		in:    bufio.NewScanner(os.Stdin),
		out:   os.Stdout,
	}
	repl.loop(ctx)
	return nil
}

func printUsage() {
	fmt.Println(`actor [--help|-h] [--version|-v] [--config|-c FILE]

Interactive commands:
  add            queue a new translation instance
  stop <#|name>  request stop on one instance (by display index, key, project name, or session id)
  stopall        request stop on every instance
  continue       resume a discovered prior session from a chosen backup (latest by default)
  fork           branch a discovered prior session into a new instance
  help           show this message
  exit           leave the REPL and end the actor process`)
}

// newMachineFactory closes over the configuration so the scheduler stays
// independent of pkg/runner/pkg/workers/pkg/llm construction details
// (spec.md §4.F).
func newMachineFactory(cfg *config.Config, store *state.Store, mon *monitor.Monitor) scheduler.MachineFactory {
	return func(inst *state.ProjectInstance) (*iteration.Machine, error) {
		ws := workspace.New(filepath.Join(cfg.WorkingDirectory, inst.Key()))
		backupRoot := filepath.Join(cfg.BackupsDirectory, inst.Key())

		translatorRunner, err := buildRunner(cfg, workers.RoleTranslator, inst.TranslatorID)
		if err != nil {
			return nil, fmt.Errorf("build translator runner: %w", err)
		}
		discriminatorRunner, err := buildRunner(cfg, workers.RoleDiscriminator, inst.DiscriminatorID)
		if err != nil {
			return nil, fmt.Errorf("build discriminator runner: %w", err)
		}

		translator := &workers.Worker{Role: workers.RoleTranslator, Runner: translatorRunner, Workspace: ws, KNew: inst.KNew}
		discriminator := &workers.Worker{Role: workers.RoleDiscriminator, Runner: discriminatorRunner, Workspace: ws, KNew: inst.KNew}

		machine := iteration.New(inst, store, ws, translator, discriminator, cfg.InputDirectory, backupRoot)
		if mon != nil {
			machine.Monitor = mon
		}
		return machine, nil
	}
}

// buildRunner picks an Agent Runner implementation: when ACTOR_PROXY_CMD
// names a stream-JSONL CLI wrapper, agents are driven over the
// LProc-managed ExternalRunner (spec.md §4.C.1); otherwise the minimal
// InProcessRunner queries an llm.Provider directly (spec.md §4.C.2).
// role selects which side of the Router (llm.RoleTranslator or
// llm.RoleDiscriminator) the InProcessRunner is pinned to; agentID
// doubles as the model identifier when set.
func buildRunner(cfg *config.Config, role workers.Role, agentID string) (runner.Runner, error) {
	if proxyCmd := os.Getenv("ACTOR_PROXY_CMD"); proxyCmd != "" {
		mgr := lproc.NewManager(cfg.LprocRoot(), cfg.ArchiveRoot())
		return runner.NewExternalRunner(mgr, proxyCmd), nil
	}

	provider, model, err := buildProvider(role, agentID)
	if err != nil {
		return nil, err
	}
	return runner.NewInProcessRunner(provider, model, cfg.WorkingDirectory), nil
}

// buildProvider constructs the backend adapter (Anthropic or Ollama, by
// whichever API key/URL is present in the environment) and routes it
// through an llm.Router pinned to role, so every completion the
// returned provider issues carries that role for logging.
func buildProvider(role workers.Role, agentID string) (llm.Provider, string, error) {
	var base llm.Provider
	var model string

	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		base = llm.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"))
		model = firstNonEmpty(agentID, "claude-sonnet-4-20250514")
	case os.Getenv("OLLAMA_BASE_URL") != "":
		base = llm.NewOllamaProvider(os.Getenv("OLLAMA_BASE_URL"))
		model = firstNonEmpty(agentID, "llama3")
	default:
		return nil, "", fmt.Errorf("no LLM backend configured: set ANTHROPIC_API_KEY or OLLAMA_BASE_URL")
	}

	router := llm.NewRouter(base)
	if role == workers.RoleDiscriminator {
		router.SetDiscriminatorModel(model)
		return router.ForDiscriminator(), model, nil
	}
	router.SetTranslatorModel(model)
	return router.ForTranslator(), model, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// repl drives the interactive loop described in spec.md §6. Its rendering
// is deliberately plain: one line per instance, no color or table library.
type repl struct {
	cfg   *config.Config
	store *state.Store
	cont  *continuation.Manager
	sched *scheduler.Scheduler
	in    *bufio.Scanner
	out   *os.File
}

func (r *repl) loop(ctx context.Context) {
	fmt.Fprintln(r.out, "actor", version, "- type 'help' for commands")
	r.printStatus()

	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, rest := fields[0], fields[1:]

		switch cmd {
		case "help":
			printUsage()
		case "exit", "quit":
			return
		case "add":
			r.cmdAdd()
		case "stop":
			r.cmdStop(rest)
		case "stopall":
			r.sched.StopAll()
			fmt.Fprintln(r.out, "stop requested on every instance")
		case "continue":
			r.cmdContinueOrFork(false)
		case "fork":
			r.cmdContinueOrFork(true)
		default:
			fmt.Fprintf(r.out, "unrecognized command %q; type 'help'\n", cmd)
		}
		r.printStatus()

		if ctx.Err() != nil {
			return
		}
	}
}

func (r *repl) prompt(label, def string) string {
	if def != "" {
		fmt.Fprintf(r.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(r.out, "%s: ", label)
	}
	if !r.in.Scan() {
		return def
	}
	value := strings.TrimSpace(r.in.Text())
	if value == "" {
		return def
	}
	return value
}

func (r *repl) promptInt(label string, def int) int {
	raw := r.prompt(label, strconv.Itoa(def))
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(r.out, "not a number, using %d\n", def)
		return def
	}
	return n
}

func (r *repl) cmdAdd() {
	projectName := r.prompt("project name", "")
	if projectName == "" {
		fmt.Fprintln(r.out, "project name is required")
		return
	}
	sessionID := r.prompt("session id", newSessionID(projectName))
	translatorID := r.prompt("translator id", "")
	discriminatorID := r.prompt("discriminator id", "")
	maxIterations := r.promptInt("max iterations", 10)
	kNew := r.promptInt("new test cases per iteration", 3)

	inst := state.New(projectName, sessionID, translatorID, discriminatorID, maxIterations, kNew)
	if err := r.sched.Add(inst); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}
	fmt.Fprintf(r.out, "queued %s\n", inst.Key())
}

func (r *repl) cmdStop(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: stop <#|name>")
		return
	}
	if err := r.sched.Stop(args[0]); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}
	fmt.Fprintf(r.out, "stop requested on %s\n", args[0])
}

// cmdContinueOrFork implements both `continue` and `fork`: both discover
// prior sessions and restore one at a chosen iteration; fork additionally
// mints a fresh session id instead of reusing the source's (spec.md §4.G).
func (r *repl) cmdContinueOrFork(fork bool) {
	sessions, err := r.cont.Discover()
	if err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "no discovered sessions under", r.cfg.WorkingDirectory)
		return
	}

	for i, s := range sessions {
		fmt.Fprintf(r.out, "%d) %-24s iter=%-3d backups=%v status=%s\n",
			i+1, s.ProjectInstance, s.CurrentIteration, s.AvailableBackups, s.View.Status)
	}

	choice := r.promptInt("session #", 1)
	if choice < 1 || choice > len(sessions) {
		fmt.Fprintln(r.out, "no such session")
		return
	}
	selected := sessions[choice-1]
	if len(selected.AvailableBackups) == 0 {
		fmt.Fprintln(r.out, "no backups available for", selected.ProjectInstance)
		return
	}
	latest := selected.AvailableBackups[len(selected.AvailableBackups)-1]
	iterChoice := r.promptInt("restore from iteration", latest)

	sessionID := selected.SessionID
	if fork {
		sessionID = newSessionID(selected.ProjectName)
	}

	inst, err := r.cont.Restore(continuation.RestoreRequest{
		SourceInstanceKey:  selected.ProjectInstance,
		Iteration:          iterChoice,
		InputDir:           r.cfg.InputDirectory,
		NewProjectName:     selected.ProjectName,
		NewSessionID:       sessionID,
		NewTranslatorID:    selected.TranslatorID,
		NewDiscriminatorID: selected.DiscriminatorID,
		MaxIterations:      selected.View.MaxIterations,
		KNew:               3,
	})
	if err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}
	if err := r.sched.Add(inst); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}
	fmt.Fprintf(r.out, "queued %s from %s iteration %d\n", inst.Key(), selected.ProjectInstance, iterChoice)
}

func (r *repl) printStatus() {
	views := r.sched.List()
	if len(views) == 0 {
		fmt.Fprintln(r.out, "(no instances)")
		return
	}
	for i, v := range views {
		fmt.Fprintf(r.out, "%2d) %-24s %-14s iter=%-3d/%-3d elapsed=%-10s errors=%d\n",
			i+1, v.ProjectInstance, v.Status, v.CurrentIteration, v.MaxIterations,
			v.Elapsed().Round(time.Second), v.ErrorCount)
	}
}

func newSessionID(projectName string) string {
	return fmt.Sprintf("%s-%d", projectName, time.Now().UnixNano())
}
