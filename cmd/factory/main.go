package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/agentfactory/pkg/config"
	"github.com/jllopis/agentfactory/pkg/mcp"
	"github.com/jllopis/agentfactory/pkg/runtime"
	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

type statusResult struct {
	Version    string `json:"version"`
	ConfigPath string `json:"config_path_used,omitempty"`
	TraceStore string `json:"trace_store"`
	Provider   string `json:"llm_provider"`
	Model      string `json:"llm_model"`
	Skills     int    `json:"skills"`
	OpenSpans  int    `json:"open_spans"`
	MCPServers int    `json:"mcp_servers"`
}

type mcpToolResult struct {
	Server string        `json:"server"`
	Tool   mcptypes.Tool `json:"tool"`
	Error  string        `json:"error,omitempty"`
}

// cli carries what every command needs. Commands write to out so they can be
// tested without a terminal.
type cli struct {
	flags globalFlags
	cfg   *config.Config
	out   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()), false)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}
	// stdout belongs to command output and, under "mcp serve", to the protocol.
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format, tracing.LogAttrs)

	c := &cli{flags: global, cfg: cfg, out: os.Stdout}
	if err := c.run(ctx, args); err != nil {
		fatal(err, global.JSON)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	cmd := args[0]
	switch cmd {
	case "status":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		return c.withRuntime(ctx, c.runStatus)
	case "skills":
		return c.runSkills(ctx, args[1:])
	case "traces":
		return c.runTraces(ctx, args[1:])
	case "mcp":
		return c.runMCP(ctx, args[1:])
	case "help":
		printUsage(c.out)
		return nil
	case "version":
		fmt.Fprintln(c.out, version)
		return nil
	default:
		if len(args) > 1 {
			return NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q %q", cmd, args[1]))
		}
		return NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: getenv("FACTORY_CONFIG", ""),
		Timeout:    30 * time.Second,
	}
	if flags.ConfigPath != "" {
		flags.ConfigArgs = append(flags.ConfigArgs, "--config", flags.ConfigPath)
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
			continue
		case "--config", "--set", "--profile", "--timeout":
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			flags.ConfigPath = value
			flags.ConfigArgs = append(flags.ConfigArgs, name, value)
		case "--profile":
			flags.Profile = value
			flags.ConfigArgs = append(flags.ConfigArgs, name, value)
		case "--set":
			flags.ConfigArgs = append(flags.ConfigArgs, name, value)
		case "--timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = d
		}
	}
	return flags, nil, nil
}

// withRuntime builds and starts a runtime from the loaded config, runs fn
// and stops the runtime, which flushes pending spans to the store.
func (c *cli) withRuntime(ctx context.Context, fn func(context.Context, *runtime.LocalRuntime) error) error {
	shutdown, err := telemetry.InitWithConfig(c.cfg.Telemetry.ServiceName, version, c.cfg.Telemetry.Config)
	if err != nil {
		return NewServerError(err, "telemetry init")
	}
	rt, err := runtime.FromConfig(ctx, c.cfg, runtime.OnStop(func(ctx context.Context) error {
		return shutdown(ctx)
	}))
	if err != nil {
		_ = shutdown(ctx)
		return NewServerError(err, "runtime setup")
	}
	if err := rt.Start(ctx); err != nil {
		return NewServerError(err, "runtime start")
	}
	runErr := fn(ctx, rt)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flags.Timeout)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil && runErr == nil {
		runErr = WrapTimeoutError(err, "runtime stop")
	}
	return runErr
}

func (c *cli) runStatus(_ context.Context, rt *runtime.LocalRuntime) error {
	store := c.cfg.Tracing.DBPath
	if store == "" {
		store = "memory"
	}
	result := statusResult{
		Version:    version,
		ConfigPath: c.flags.ConfigPath,
		TraceStore: store,
		Provider:   c.cfg.LLM.Provider,
		Model:      c.cfg.LLM.Model,
		Skills:     rt.Registry().Len(),
		OpenSpans:  len(rt.Tracer().OpenSpans()),
		MCPServers: len(c.cfg.MCP.Servers),
	}
	if c.flags.JSON {
		return c.printJSON(result)
	}
	fmt.Fprintf(c.out, "Agent Factory CLI: %s\n", result.Version)
	fmt.Fprintf(c.out, "trace store: %s\n", result.TraceStore)
	fmt.Fprintf(c.out, "llm: %s (%s)\n", result.Provider, result.Model)
	fmt.Fprintf(c.out, "skills: %d, mcp servers: %d\n", result.Skills, result.MCPServers)
	return nil
}

func (c *cli) runSkills(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("skills", "usage: factory skills <list|describe|run>")
	}
	switch args[0] {
	case "list":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		return c.withRuntime(ctx, func(_ context.Context, rt *runtime.LocalRuntime) error {
			metas := rt.Registry().List()
			if c.flags.JSON {
				return c.printJSON(metas)
			}
			writer := c.newTabWriter()
			writeRow(writer, "NAME", "VERSION", "TAGS", "DESCRIPTION")
			for _, m := range metas {
				writeRow(writer, m.Name, m.Version, strings.Join(m.Tags, ","), m.Description)
			}
			return writer.Flush()
		})
	case "describe":
		if len(args) != 2 {
			return NewInvalidArgumentError("skills describe", "usage: factory skills describe <name>")
		}
		return c.withRuntime(ctx, func(_ context.Context, rt *runtime.LocalRuntime) error {
			meta, err := rt.Registry().Metadata(args[1])
			if err != nil {
				return NewNotFoundError("skill", args[1])
			}
			return c.printJSON(meta)
		})
	case "run":
		name, inputs, err := parseRunArgs(args[1:])
		if err != nil {
			return err
		}
		return c.withRuntime(ctx, func(ctx context.Context, rt *runtime.LocalRuntime) error {
			runCtx, cancel := context.WithTimeout(ctx, c.flags.Timeout)
			defer cancel()
			res, err := rt.Run(runCtx, name, inputs)
			if err != nil {
				return NewServerError(err, "skills run")
			}
			if c.flags.JSON {
				if err := c.printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(c.out, "status: %s\nspan: %s\ntrace: %s\nduration: %s\n",
					res.Status, res.SpanID, res.TraceID, res.ExecutionTime.Round(time.Millisecond))
				if res.Error != "" {
					fmt.Fprintf(c.out, "error: %s\n", res.Error)
				}
				if v := res.Value(); v != nil {
					fmt.Fprintf(c.out, "output: %s\n", formatValue(v))
				}
			}
			return res.Err()
		})
	default:
		return NewInvalidArgumentError("skills", fmt.Sprintf("unknown skills command %q", args[0]))
	}
}

// parseRunArgs accepts the skill name before or after the flags.
func parseRunArgs(args []string) (string, map[string]any, error) {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	cmd := flag.NewFlagSet("skills run", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	input := cmd.String("input", "", "Skill inputs as a JSON object")
	inputFile := cmd.String("input-file", "", "Read skill inputs from a JSON file")
	if err := cmd.Parse(args); err != nil {
		return "", nil, NewInvalidArgumentError("skills run", err.Error())
	}
	if name == "" && cmd.NArg() > 0 {
		name = cmd.Arg(0)
	}
	if name == "" {
		return "", nil, NewInvalidArgumentError("skills run", "usage: factory skills run <name> [--input <json>] [--input-file <path>]")
	}

	raw := []byte(*input)
	if *inputFile != "" {
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			return "", nil, NewInvalidArgumentError("--input-file", err.Error())
		}
		raw = data
	}
	inputs := map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return "", nil, NewInvalidArgumentError("--input", "inputs must be a JSON object: "+err.Error())
		}
	}
	return name, inputs, nil
}

func (c *cli) runTraces(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("traces", "usage: factory traces <recent|tree|trace|errors|cost|orphans>")
	}
	sub, rest := args[0], args[1:]
	cmd := flag.NewFlagSet("traces "+sub, flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	limit := cmd.Int("n", 10, "Number of entries")
	groupBy := cmd.String("group-by", tracing.GroupByModel, "Aggregate key")
	since := cmd.Duration("since", 24*time.Hour, "Look-back window")
	if err := cmd.Parse(rest); err != nil {
		return NewInvalidArgumentError("traces "+sub, err.Error())
	}

	return c.withRuntime(ctx, func(ctx context.Context, rt *runtime.LocalRuntime) error {
		tr := rt.Tracer()
		switch sub {
		case "recent":
			summaries, err := tr.Summaries(ctx, *limit)
			if err != nil {
				return queryError(err)
			}
			if c.flags.JSON {
				return c.printJSON(summaries)
			}
			writer := c.newTabWriter()
			writeRow(writer, "SPAN_ID", "TYPE", "NAME", "STATUS", "SPANS", "ERRORS", "TOKENS", "COST", "STARTED")
			for _, s := range summaries {
				writeRow(writer, s.Root.ID, string(s.Root.Type), s.Root.Name, string(s.Root.Status),
					strconv.Itoa(s.SpanCount), strconv.Itoa(s.ErrorCount),
					strconv.FormatInt(s.TotalTokens, 10), formatCost(s.TotalCost), formatTime(s.Root.StartedAt))
			}
			return writer.Flush()
		case "tree":
			if cmd.NArg() != 1 {
				return NewInvalidArgumentError("traces tree", "usage: factory traces tree <span_id>")
			}
			node, err := tr.Subtree(ctx, cmd.Arg(0))
			if err != nil {
				return queryError(err)
			}
			if c.flags.JSON {
				return c.printJSON(node)
			}
			printTree(c.out, node, 0)
			return nil
		case "trace":
			if cmd.NArg() != 1 {
				return NewInvalidArgumentError("traces trace", "usage: factory traces trace <trace_id>")
			}
			spans, err := tr.TraceSpans(ctx, cmd.Arg(0))
			if err != nil {
				return queryError(err)
			}
			return c.printSpans(spans)
		case "errors":
			spans, err := tr.Errors(ctx, *limit)
			if err != nil {
				return queryError(err)
			}
			return c.printSpans(spans)
		case "cost":
			rows, err := tr.Aggregate(ctx, tracing.AggregateQuery{
				GroupBy: *groupBy,
				Since:   time.Now().Add(-*since),
				Types:   []tracing.SpanType{tracing.TypeLLMCall},
			})
			if err != nil {
				return queryError(err)
			}
			if c.flags.JSON {
				return c.printJSON(rows)
			}
			writer := c.newTabWriter()
			writeRow(writer, strings.ToUpper(*groupBy), "CALLS", "ERRORS", "TOKENS_IN", "TOKENS_OUT", "COST", "AVG_MS")
			for _, r := range rows {
				writeRow(writer, r.Key, strconv.Itoa(r.Count), strconv.Itoa(r.Errors),
					strconv.FormatInt(r.InputTokens, 10), strconv.FormatInt(r.OutputTokens, 10),
					formatCost(r.CostUSD), strconv.FormatFloat(r.AvgDurationMs(), 'f', 1, 64))
			}
			return writer.Flush()
		case "orphans":
			orphans, err := tr.CheckOrphans(ctx)
			if err != nil {
				return queryError(err)
			}
			if c.flags.JSON {
				return c.printJSON(orphans)
			}
			writer := c.newTabWriter()
			writeRow(writer, "SPAN_ID", "TYPE", "NAME", "STARTED", "REASON")
			for _, o := range orphans {
				writeRow(writer, o.Span.ID, string(o.Span.Type), o.Span.Name, formatTime(o.Span.StartedAt), o.Reason)
			}
			return writer.Flush()
		default:
			return NewInvalidArgumentError("traces", fmt.Sprintf("unknown traces command %q", sub))
		}
	})
}

func (c *cli) printSpans(spans []tracing.Span) error {
	if c.flags.JSON {
		return c.printJSON(spans)
	}
	writer := c.newTabWriter()
	writeRow(writer, "SPAN_ID", "PARENT", "TYPE", "NAME", "STATUS", "DURATION_MS", "ERROR")
	for _, s := range spans {
		writeRow(writer, s.ID, s.ParentID, string(s.Type), s.Name, string(s.Status),
			strconv.FormatFloat(s.DurationMs, 'f', 1, 64), truncateMessage(s.Error, 60))
	}
	return writer.Flush()
}

func printTree(w io.Writer, n *tracing.Node, depth int) {
	line := fmt.Sprintf("%s%s %s [%s] %.1fms", strings.Repeat("  ", depth), n.Type, n.Name, n.Status, n.DurationMs)
	if n.Model != "" {
		line += fmt.Sprintf(" model=%s tokens=%d cost=%s", n.Model, n.InputTokens+n.OutputTokens, formatCost(n.CostUSD))
	}
	if n.Error != "" {
		line += " error=" + truncateMessage(n.Error, 60)
	}
	fmt.Fprintln(w, line)
	for _, child := range n.Children {
		printTree(w, child, depth+1)
	}
}

func (c *cli) runMCP(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("mcp", "usage: factory mcp <serve|list>")
	}
	switch args[0] {
	case "serve":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		return c.serveMCP(ctx)
	case "list":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		return c.listMCPTools(ctx)
	default:
		return NewInvalidArgumentError("mcp", fmt.Sprintf("unknown mcp command %q", args[0]))
	}
}

// serveMCP exposes the factory as an MCP server on stdio. When a config file
// is in use its log level follows edits to that file.
func (c *cli) serveMCP(ctx context.Context) error {
	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLogLevel(c.cfg.Log.Level))
	logger := slog.New(telemetry.NewLeveledHandler(os.Stderr, level, c.cfg.Log.Format, tracing.LogAttrs))
	slog.SetDefault(logger)

	if c.flags.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, c.flags.ConfigPath,
			config.WithProfile(c.flags.Profile),
			config.WithWatchLogger(logger),
		)
		if err != nil {
			return NewConfigError(err, c.flags.ConfigPath)
		}
		defer watcher.Stop()
		watcher.OnChange(func(prev, next *config.Config) {
			if prev.Log.Level != next.Log.Level {
				level.Set(telemetry.ParseLogLevel(next.Log.Level))
			}
		})
	}

	return c.withRuntime(ctx, func(ctx context.Context, rt *runtime.LocalRuntime) error {
		srv := mcp.NewServer("agentfactory", version, rt.Executor(), logger)
		logger.Info("mcp.serve", slog.Int("skills", rt.Registry().Len()))
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ServeStdio() }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return nil
		}
	})
}

func (c *cli) listMCPTools(ctx context.Context) error {
	if len(c.cfg.MCP.Servers) == 0 {
		fmt.Fprintln(c.out, "no mcp servers configured")
		return nil
	}

	serverNames := make([]string, 0, len(c.cfg.MCP.Servers))
	for name := range c.cfg.MCP.Servers {
		serverNames = append(serverNames, name)
	}
	sort.Strings(serverNames)

	results := make([]mcpToolResult, 0)
	for _, name := range serverNames {
		srv := c.cfg.MCP.Servers[name]
		reqCtx, cancel := context.WithTimeout(ctx, c.flags.Timeout)
		client, err := mcp.NewClientWithStdio(reqCtx, srv.Command, srv.Args, mcp.WithTimeout(srv.Timeout))
		if err != nil {
			cancel()
			results = append(results, mcpToolResult{Server: name, Error: err.Error()})
			continue
		}
		tools, err := client.ListTools(reqCtx)
		cancel()
		_ = client.Close()
		if err != nil {
			results = append(results, mcpToolResult{Server: name, Error: err.Error()})
			continue
		}
		for _, tool := range tools {
			results = append(results, mcpToolResult{Server: name, Tool: tool})
		}
	}

	if c.flags.JSON {
		return c.printJSON(results)
	}
	writer := c.newTabWriter()
	writeRow(writer, "SERVER", "SKILL", "DESCRIPTION")
	for _, res := range results {
		if res.Error != "" {
			writeRow(writer, res.Server, "ERROR", res.Error)
			continue
		}
		writeRow(writer, res.Server, mcp.SkillName(res.Server, res.Tool.Name), strings.TrimSpace(res.Tool.Description))
	}
	return writer.Flush()
}

func queryError(err error) error {
	return NewCLIError(asError(err), "run 'factory traces recent' to find span ids")
}

func (c *cli) printJSON(value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(payload))
	return err
}

func (c *cli) newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.ReplaceAll(value, "\t", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	if value == "" {
		return "-"
	}
	return value
}

func truncateMessage(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(payload)
}

func formatCost(usd float64) string {
	return "$" + strconv.FormatFloat(usd, 'f', 4, 64)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Local().Format(time.RFC3339)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Agent Factory CLI

Usage:
  factory [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml (or FACTORY_CONFIG)
  --profile <name>     Also load config.<name>.yaml
  --set key=value      Override config (repeatable)
  --timeout <dur>      Command timeout (default 30s)
  --json               JSON output

Commands:
  status
  skills list
  skills describe <name>
  skills run <name> [--input <json>] [--input-file <path>]
  traces recent [-n N]
  traces tree <span_id>
  traces trace <trace_id>
  traces errors [-n N]
  traces cost [--group-by model|provider|span_type|status|name|trace_id] [--since 24h]
  traces orphans
  mcp serve
  mcp list
  version`)
}

func fatal(err error, asJSON bool) {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		cliErr.PrintError(asJSON)
	} else {
		PrintSimpleError(err, asJSON)
	}
	os.Exit(1)
}

func ensureNoArgs(args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(strings.Join(args, " "), fmt.Sprintf("unexpected args: %v", args))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
