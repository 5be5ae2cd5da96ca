package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	hivemcp "github.com/Strob0t/CodeHive/internal/adapter/mcp"
	hivenats "github.com/Strob0t/CodeHive/internal/adapter/nats"
	"github.com/Strob0t/CodeHive/internal/adapter/postgres"
	"github.com/Strob0t/CodeHive/internal/domain/event"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/service"
)

// errTaskFailed makes the process exit non-zero after the results were printed.
var errTaskFailed = errors.New("one or more tasks failed")

// taskFlags are the request options shared by the dispatching commands.
type taskFlags struct {
	config     *string
	newSession *bool
	timeout    *int
	tools      *string
	noAuto     *bool
	jsonOut    *bool
}

func addTaskFlags(fs *flag.FlagSet) *taskFlags {
	return &taskFlags{
		config:     fs.String("config", "", "path to hive config file"),
		newSession: fs.Bool("new-session", false, "start a fresh session instead of resuming"),
		timeout:    fs.Int("timeout", task.DefaultTimeoutSeconds, "task timeout in seconds"),
		tools:      fs.String("tools", "", "comma-separated allowed tools"),
		noAuto:     fs.Bool("no-autonomous", false, "send the task without the self-repair preamble"),
		jsonOut:    fs.Bool("json", false, "print results as JSON"),
	}
}

// request builds a validated task request from text and the parsed flags.
func (f *taskFlags) request(text string) (task.Request, error) {
	req := task.NewRequest(text)
	req.NewSession = *f.newSession
	req.TimeoutSeconds = *f.timeout
	req.Autonomous = !*f.noAuto
	if *f.tools != "" {
		for _, t := range strings.Split(*f.tools, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.AllowedTools = append(req.AllowedTools, t)
			}
		}
	}
	if err := req.Validate(); err != nil {
		return task.Request{}, err
	}
	return req, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to hive config file")
	jsonOut := fs.Bool("json", false, "print health as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	health := deps.dispatcher.HealthAll(ctx)
	out := newPrinter(os.Stdout)
	if *jsonOut {
		return out.json(health)
	}
	out.health(health)
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	name := fs.String("worker", "", "worker name (required)")
	tf := addTaskFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--worker is required")
	}
	req, err := tf.request(strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *tf.config)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	if !deps.dispatcher.Has(*name) {
		return fmt.Errorf("unknown worker %q", *name)
	}
	return printResults(tf, []task.Result{deps.dispatcher.Execute(ctx, *name, req)})
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	tf := addTaskFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	req, err := tf.request(text)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *tf.config)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	name, ok := deps.router.Route(text)
	if !ok {
		return fmt.Errorf("no routing rule matched and no default worker is configured")
	}
	fmt.Fprintf(os.Stderr, "routed to %s\n", name)
	return printResults(tf, []task.Result{deps.dispatcher.Execute(ctx, name, req)})
}

func runBroadcast(args []string) error {
	fs := flag.NewFlagSet("broadcast", flag.ContinueOnError)
	tf := addTaskFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := tf.request(strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *tf.config)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	return printResults(tf, deps.dispatcher.Broadcast(ctx, req))
}

func runParallel(args []string) error {
	fs := flag.NewFlagSet("parallel", flag.ContinueOnError)
	tf := addTaskFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	assignments, err := parseAssignments(fs.Args(), tf.request)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *tf.config)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	return printResults(tf, deps.dispatcher.Parallel(ctx, assignments))
}

// parseAssignments turns "worker=task" arguments into assignments.
func parseAssignments(args []string, build func(string) (task.Request, error)) ([]service.Assignment, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one worker=task argument")
	}
	out := make([]service.Assignment, 0, len(args))
	for _, arg := range args {
		name, text, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: want worker=task", arg)
		}
		req, err := build(text)
		if err != nil {
			return nil, fmt.Errorf("assignment for %s: %w", name, err)
		}
		out = append(out, service.Assignment{Worker: name, Request: req})
	}
	return out, nil
}

func printResults(tf *taskFlags, results []task.Result) error {
	out := newPrinter(os.Stdout)
	if *tf.jsonOut {
		if err := out.json(results); err != nil {
			return err
		}
	} else {
		out.results(results)
	}
	for i := range results {
		if !results[i].Success {
			return errTaskFailed
		}
	}
	return nil
}

// runHistory reads the controller journal, or with --remote the worker's own
// history file over HTTP.
func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to hive config file")
	name := fs.String("worker", "", "only this worker (required with --remote)")
	limit := fs.Int("limit", postgres.DefaultRecentLimit, "number of entries")
	remote := fs.Bool("remote", false, "read the worker's own history instead of the journal")
	jsonOut := fs.Bool("json", false, "print entries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 1 {
		return fmt.Errorf("--limit must be positive")
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	out := newPrinter(os.Stdout)
	if *remote {
		if *name == "" {
			return fmt.Errorf("--worker is required with --remote")
		}
		client, ok := deps.dispatcher.Client(*name)
		if !ok {
			return fmt.Errorf("unknown worker %q", *name)
		}
		entries, err := client.History(ctx, *limit)
		if err != nil {
			return err
		}
		if *jsonOut {
			return out.json(entries)
		}
		out.history(entries)
		return nil
	}

	if deps.journal == nil {
		return fmt.Errorf("journal not configured (set journal.dsn or HIVE_JOURNAL_DSN, or use --remote)")
	}
	entries, err := deps.journal.Recent(ctx, *name, *limit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if *jsonOut {
		return out.json(entries)
	}
	out.journal(entries)
	return nil
}

// runWatch prints events that workers mirror to NATS (nats.mirror_events).
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to hive config file")
	name := fs.String("worker", "", "only this worker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.NATS.URL == "" {
		return fmt.Errorf("watch requires nats.url (or NATS_URL)")
	}

	ctx, cancel := commandContext()
	defer cancel()
	nc, err := hivenats.Connect(ctx, cfg.NATS.URL, "hive-watch")
	if err != nil {
		return err
	}
	defer func() { _ = nc.Close() }()

	subject := cfg.NATS.SubjectPrefix + ".*"
	if *name != "" {
		subject = cfg.NATS.SubjectPrefix + "." + hivenats.SubjectToken(*name)
	}

	out := newPrinter(os.Stdout)
	events := make(chan watched, 64)
	unsubscribe, err := nc.SubscribeEvents(subject, func(subj string, ev event.Event) {
		select {
		case events <- watched{worker: strings.TrimPrefix(subj, cfg.NATS.SubjectPrefix+"."), ev: ev}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", subject)
	for {
		select {
		case <-ctx.Done():
			return nil
		case w := <-events:
			out.event(w.worker, w.ev)
		}
	}
}

type watched struct {
	worker string
	ev     event.Event
}

// runMCP serves the dispatcher as MCP tools over stdio until stdin closes.
func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to hive config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()
	deps, err := loadDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	srvDeps := hivemcp.ServerDeps{Fleet: deps.dispatcher, Router: deps.router}
	if deps.journal != nil {
		srvDeps.Journal = deps.journal
	}
	srv := hivemcp.NewServer(hivemcp.ServerConfig{Name: "claude-hive", Version: version}, srvDeps)
	return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
}
