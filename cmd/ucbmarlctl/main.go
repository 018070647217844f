package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"

	"ucbmarl/internal/model"
	"ucbmarl/internal/stats"
	"ucbmarl/internal/storage"
	"ucbmarl/pkg/ucbmarl"
)

const (
	envDBPath       = "UCBMARL_DB_PATH"
	envArtifactsDir = "UCBMARL_ARTIFACTS_DIR"
	envLogLevel     = "UCBMARL_LOG_LEVEL"

	defaultDBPath       = "ucbmarl.db"
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "rewards":
		return runRewards(ctx, args[1:])
	case "agent":
		return runAgent(ctx, args[1:])
	case "play":
		return runPlay(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "scapes":
		return runScapes(ctx, args[1:])
	case "graphs":
		return runGraphs(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are shared by every subcommand that opens a client.
type commonFlags struct {
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	logLevel     *string
	noColor      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind:    fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|leveldb"),
		dbPath:       fs.String("db-path", envOr(envDBPath, defaultDBPath), "sqlite database file or leveldb directory"),
		artifactsDir: fs.String("artifacts-dir", envOr(envArtifactsDir, defaultArtifactsDir), "run artifacts directory"),
		logLevel:     fs.String("log-level", envOr(envLogLevel, "info"), "log level: debug|info|warn|error"),
		noColor:      fs.Bool("no-color", false, "disable coloured output"),
	}
}

func (c commonFlags) open() (*ucbmarl.Client, error) {
	logger, err := newLogger(*c.logLevel)
	if err != nil {
		return nil, err
	}
	return ucbmarl.New(ucbmarl.Options{
		StoreKind:    *c.storeKind,
		DBPath:       *c.dbPath,
		ArtifactsDir: *c.artifactsDir,
		ExportsDir:   defaultExportsDir,
		Logger:       logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *common.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *common.storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := addCommonFlags(fs)
	configPath := fs.String("config", "", "optional run config JSON path")
	flags := addRunFlags(fs)
	progress := fs.Bool("progress", false, "print every training episode")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := buildRunRequest(fs, flags, *configPath)
	if err != nil {
		return err
	}
	out := newPrinter(*common.noColor)
	if *progress && !*jsonOut {
		req.OnEpisode = out.episode
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(map[string]any{
			"run_id":        summary.RunID,
			"artifacts_dir": summary.ArtifactsDir,
			"final_reward":  summary.FinalReward,
			"summary":       summary.Summary,
			"evaluation":    summary.Evaluation,
		})
	}
	out.runSummary(summary)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, ucbmarl.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	out := newPrinter(*common.noColor)
	for _, item := range items {
		out.runItem(item)
	}
	return nil
}

func runRewards(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rewards", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	limit := fs.Int("limit", 0, "show only the last N points (0 shows all)")
	evaluation := fs.Bool("evaluation", false, "show greedy evaluation points instead of training episodes")
	window := fs.Int("window", 5, "moving average window")
	fromArtifacts := fs.Bool("from-artifacts", false, "read the CSV series of the run directory instead of the store")
	jsonOut := fs.Bool("json", false, "emit reward points as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	rewards, err := client.Rewards(ctx, ucbmarl.RewardsRequest{
		RunID:         *runID,
		Latest:        *latest,
		Limit:         *limit,
		Evaluation:    *evaluation,
		FromArtifacts: *fromArtifacts,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(rewards)
	}
	if len(rewards.Points) == 0 {
		fmt.Printf("run_id=%s has no reward points\n", rewards.RunID)
		return nil
	}
	newPrinter(*common.noColor).rewards(rewards, stats.MovingAverage(stats.MeanSeries(rewards.Points), *window))
	return nil
}

func runAgent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	name := fs.String("name", "", "agent name (lists agents when empty)")
	timestep := fs.Int("timestep", 0, "only show Q rows of this timestep (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit agent snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *name == "" {
		names, err := client.AgentNames(ctx, *runID, *latest)
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(names)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	snapshot, err := client.Agent(ctx, ucbmarl.AgentRequest{RunID: *runID, Latest: *latest, Name: *name})
	if err != nil {
		return err
	}
	if *timestep > 0 {
		snapshot.Q = filterRows(snapshot.Q, *timestep)
	}
	if *jsonOut {
		return writeJSON(snapshot)
	}
	newPrinter(*common.noColor).agent(snapshot)
	return nil
}

func runPlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	episodes := fs.Int("episodes", 0, "greedy episodes to play (0 uses the run's evaluation episodes)")
	seed := fs.Int64("seed", 1, "environment seed")
	jsonOut := fs.Bool("json", false, "emit play result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *episodes < 0 {
		return errors.New("episodes must be >= 0")
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Play(ctx, ucbmarl.PlayRequest{RunID: *runID, Latest: *latest, Episodes: *episodes, Seed: *seed})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(result)
	}
	newPrinter(*common.noColor).play(result)
	return nil
}

func runScapes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scapes", flag.ContinueOnError)
	common := addCommonFlags(fs)
	agents := fs.Int("agents", 3, "agent count used to build each scape")
	gridSize := fs.Int("grid-size", 4, "grid side length used to build each scape")
	jsonOut := fs.Bool("json", false, "emit scapes as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	scapes, err := client.Scapes(ctx, ucbmarl.ScapesRequest{Agents: *agents, GridSize: *gridSize})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(scapes)
	}
	for _, s := range scapes {
		fmt.Printf("scape=%s agents=%d state_space=%d\n", s.Name, s.Agents, s.StateSpace)
	}
	return nil
}

func runGraphs(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("graphs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit graph names as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	graphs := client.Graphs()
	if *jsonOut {
		return writeJSON(graphs)
	}
	for _, name := range graphs {
		fmt.Println(name)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", defaultExportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, ucbmarl.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func filterRows(rows []model.QRow, timestep int) []model.QRow {
	out := make([]model.QRow, 0, len(rows))
	for _, row := range rows {
		if row.Timestep == timestep {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: ucbmarlctl <init|reset|run|runs|rewards|agent|play|export|scapes|graphs> [flags]", msg)
}
