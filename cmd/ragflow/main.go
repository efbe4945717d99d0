// =============================================================================
// 🚀 RagFlow CLI 入口
// =============================================================================
// 子命令:
//   - ingest  摄取语料目录或单个文件,可选持续监视
//   - query   执行一次混合检索查询
//   - eval    运行评估用例并落盘报告/证据包/账本
//   - migrate 数据库迁移管理
//   - version 版本信息
//
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragflow"
	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/eval"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/ingest/loader"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/types"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "ingest":
		runIngest(args)
	case "query":
		runQuery(args)
	case "eval":
		runEval(args)
	case "migrate":
		runMigrate(args)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🔧 公共引导
// =============================================================================

// loadConfig 加载配置文件；路径为空时走默认查找与环境变量。
func loadConfig(path string) *config.Config {
	ld := config.NewLoader()
	if path != "" {
		ld = ld.WithConfigPath(path)
	}
	cfg, err := ld.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// bootstrap 构建日志、遥测与引擎。返回的 cleanup 负责指标快照、
// 引擎关闭与遥测落盘。
func bootstrap(ctx context.Context, cfg *config.Config) (*ragflow.Engine, *zap.Logger, func()) {
	logger := initLogger(cfg.Log)

	logger.Info("starting ragflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	eng, err := ragflow.New(ctx, *cfg, ragflow.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build engine", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	cleanup := func() {
		if cfg.Metrics.TextfilePath != "" {
			if err := eng.WriteMetricsSnapshot(cfg.Metrics.TextfilePath); err != nil {
				logger.Warn("failed to write metrics snapshot", zap.Error(err))
			}
		}
		_ = eng.Close()
		if otelProviders != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = otelProviders.Shutdown(shutdownCtx)
			cancel()
		}
		_ = logger.Sync()
	}
	return eng, logger, cleanup
}

// =============================================================================
// 📥 摄取命令
// =============================================================================

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	dir := fs.String("dir", "", "Corpus directory to ingest")
	watch := fs.Bool("watch", false, "Keep watching --dir and re-ingest on change")
	fs.Parse(args)
	files := fs.Args()

	if *dir == "" && len(files) == 0 {
		fmt.Fprintln(os.Stderr, "ingest requires --dir or at least one file argument")
		os.Exit(1)
	}
	if *watch && *dir == "" {
		fmt.Fprintln(os.Stderr, "--watch requires --dir")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	ctx := context.Background()
	eng, logger, cleanup := bootstrap(ctx, cfg)
	defer cleanup()

	registry := loader.NewRegistry()

	ingestOnce := func() {
		sources, failures := collectSources(ctx, registry, *dir, files)
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "skip %s: [%s] %s\n", f.SourceURI, f.Code, f.Message)
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "no ingestable sources found")
			return
		}

		stats, err := eng.Ingest(ctx, ragflow.Spec{}, sources)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			return
		}
		for _, f := range stats.Failures {
			fmt.Fprintf(os.Stderr, "failed %s: [%s] %s\n", f.SourceURI, f.Code, f.Message)
		}
		fmt.Printf("Ingest complete: %d added, %d changed, %d skipped, %d chunks (index version %d)\n",
			stats.DocumentsAdded, stats.DocumentsChanged, stats.DocumentsSkipped,
			stats.ChunksWritten, stats.IndexVersion)
	}

	ingestOnce()

	if !*watch {
		return
	}

	watcher, err := ingest.NewCorpusWatcher(*dir, ingest.WithExtensions(registry.SupportedTypes()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to watch %s: %v\n", *dir, err)
		return
	}
	watcher.OnChange(func(events []ingest.FileEvent) {
		logger.Info("corpus changed, re-ingesting", zap.Int("events", len(events)))
		ingestOnce()
	})
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start watcher: %v\n", err)
		return
	}
	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", *dir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	_ = watcher.Stop()
}

// collectSources 汇集目录与单文件来源。单文件加载失败计入 failures。
func collectSources(ctx context.Context, registry *loader.Registry, dir string, files []string) ([]ragflow.Source, []ragflow.SourceFailure) {
	var sources []ragflow.Source
	var failures []ragflow.SourceFailure

	if dir != "" {
		dirSources, dirFailures, err := registry.LoadDir(ctx, dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", dir, err)
			os.Exit(1)
		}
		sources = append(sources, dirSources...)
		failures = append(failures, dirFailures...)
	}
	for _, path := range files {
		fileSources, err := registry.Load(ctx, path)
		if err != nil {
			failures = append(failures, ragflow.SourceFailure{
				SourceURI: path,
				Code:      types.GetErrorCode(err),
				Message:   err.Error(),
			})
			continue
		}
		sources = append(sources, fileSources...)
	}
	return sources, failures
}

// =============================================================================
// 🔍 查询命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	prompt := fs.String("prompt", "", "Query prompt")
	topK := fs.Int("top-k", 0, "Chunks to assemble (0 = config default)")
	maxChars := fs.Int("max-chars", 0, "Context character budget (0 = config default)")
	graphExpand := fs.Bool("graph", false, "Enable term graph expansion")
	hier := fs.Bool("hier", false, "Enable hierarchical summary boost")
	corrective := fs.Bool("corrective", false, "Enable corrective retry on weak results")
	dense := fs.Bool("dense", false, "Enable dense retrieval fusion")
	rerankOn := fs.Bool("rerank", false, "Enable reranking")
	rerankProvider := fs.String("rerank-provider", "", "Rerank provider (overlap, http)")
	showTrace := fs.Bool("trace", false, "Print the full response incl. trace as JSON")
	fs.Parse(args)

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "query requires --prompt")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	ctx := context.Background()
	eng, _, cleanup := bootstrap(ctx, cfg)
	defer cleanup()

	resp, err := eng.Query(ctx, ragflow.QueryRequest{
		Prompt:          *prompt,
		TopK:            *topK,
		MaxContextChars: *maxChars,
		Toggles: ragflow.Toggles{
			GraphExpand:       *graphExpand,
			HierarchicalBoost: *hier,
			CorrectiveRetry:   *corrective,
			Dense:             *dense,
			Rerank:            *rerankOn,
			RerankProvider:    *rerankProvider,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	if *showTrace {
		raw, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode response: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		fmt.Println(string(raw))
		return
	}

	fmt.Println(resp.Context.AssembledText)
	fmt.Fprintf(os.Stderr, "chunks: %d, chars: %d, truncated: %v, low_confidence: %v\n",
		len(resp.Context.IncludedChunkIDs), resp.Context.TotalChars,
		resp.Context.Truncated, resp.Trace.LowConfidence)
}

// =============================================================================
// 📊 评估命令
// =============================================================================

func runEval(args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	casesPath := fs.String("cases", "", "Path to YAML cases file")
	outDir := fs.String("out", "", "Artifacts directory (default: config eval.output_dir)")
	fs.Parse(args)

	if *casesPath == "" {
		fmt.Fprintln(os.Stderr, "eval requires --cases")
		os.Exit(1)
	}

	cases, err := eval.LoadCases(*casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load cases: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	ctx := context.Background()
	eng, _, cleanup := bootstrap(ctx, cfg)
	defer cleanup()

	report, err := eng.Eval(ctx, cases, *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Eval failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	fmt.Printf("Run %s: %d cases, %d failed\n",
		report.RunID, report.Summary.Cases, report.Summary.Failed)
	for _, r := range report.Cases {
		if r.Error != "" {
			fmt.Printf("  FAIL %s: %s\n", r.CaseID, r.Error)
			continue
		}
		fmt.Printf("  ok   %s: composite %.3f (%.1f ms)\n", r.CaseID, r.Composite, r.LatencyMS)
	}
	fmt.Printf("Mean composite: %.3f\n", report.Summary.MeanComposite)
	fmt.Printf("Latency p50/p95/p99: %.1f/%.1f/%.1f ms\n",
		report.Summary.LatencyP50MS, report.Summary.LatencyP95MS, report.Summary.LatencyP99MS)

	if report.Summary.Failed > 0 {
		cleanup()
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("RagFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`RagFlow - Hybrid Retrieval-Augmented Generation Engine

Usage:
  ragflow <command> [options]

Commands:
  ingest    Ingest corpus files into the index
  query     Run a hybrid retrieval query
  eval      Run evaluation cases and write governed artifacts
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'ingest':
  --config <path>   Path to configuration file (YAML)
  --dir <path>      Corpus directory (recursively loaded by extension)
  --watch           Keep watching --dir and re-ingest on change
  [files...]        Individual files to ingest

Options for 'query':
  --config <path>   Path to configuration file (YAML)
  --prompt <text>   Query prompt (required)
  --top-k <n>       Chunks to assemble (0 = config default)
  --max-chars <n>   Context character budget (0 = config default)
  --graph           Enable term graph expansion
  --hier            Enable hierarchical summary boost
  --corrective      Enable corrective retry
  --dense           Enable dense retrieval fusion
  --rerank          Enable reranking
  --rerank-provider <name>  Rerank provider (overlap, http)
  --trace           Print the full response incl. trace as JSON

Options for 'eval':
  --config <path>   Path to configuration file (YAML)
  --cases <path>    YAML cases file (required)
  --out <dir>       Artifacts directory (default: config eval.output_dir)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  ragflow ingest --dir ./corpus
  ragflow ingest --dir ./corpus --watch
  ragflow query --prompt "redis eviction policy" --rerank
  ragflow eval --cases cases.yaml --out eval_out
  ragflow migrate up
  ragflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	var buildOpts []zap.Option
	if cfg.EnableCaller {
		buildOpts = append(buildOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		buildOpts = append(buildOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(buildOpts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
