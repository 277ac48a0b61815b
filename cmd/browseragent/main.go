// =============================================================================
// browseragent 主入口
// =============================================================================
//
// 使用方法:
//
//	browseragent run "搜索人工智能最新进展并总结前三个结果"
//	browseragent run --config config.yaml --model gpt-4o "..."
//	browseragent compile "比较 iPhone 和 Pixel"
//	browseragent resume --config config.yaml
//	browseragent version
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
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

	var err error
	switch os.Args[1] {
	case "run":
		err = runInstruction(os.Args[2:])
	case "compile":
		err = runCompile(os.Args[2:])
	case "resume":
		err = runResume(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type commonFlags struct {
	fs         *flag.FlagSet
	configPath *string
	model      *string
}

func newFlags(name string) commonFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return commonFlags{
		fs:         fs,
		configPath: fs.String("config", "", "Path to config file"),
		model:      fs.String("model", "", "Model hint passed to the oracle"),
	}
}

func runInstruction(args []string) error {
	f := newFlags("run")
	_ = f.fs.Parse(args)
	instruction := strings.TrimSpace(strings.Join(f.fs.Args(), " "))
	if instruction == "" {
		return fmt.Errorf("missing instruction")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, *f.configPath, true)
	if err != nil {
		return err
	}
	defer app.Close()

	task, runErr := app.engine.Run(ctx, instruction, *f.model)
	if task != nil {
		if err := printJSON(task); err != nil {
			return err
		}
	}
	return runErr
}

func runCompile(args []string) error {
	f := newFlags("compile")
	_ = f.fs.Parse(args)
	instruction := strings.TrimSpace(strings.Join(f.fs.Args(), " "))
	if instruction == "" {
		return fmt.Errorf("missing instruction")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, *f.configPath, false)
	if err != nil {
		return err
	}
	defer app.Close()

	return printJSON(app.engine.CompileInstruction(ctx, instruction, *f.model))
}

func runResume(args []string) error {
	f := newFlags("resume")
	_ = f.fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, *f.configPath, true)
	if err != nil {
		return err
	}
	defer app.Close()

	tasks, runErr := app.engine.Resume(ctx, *f.model)
	app.logger.Info("resume finished", zap.Int("tasks", len(tasks)))
	if len(tasks) > 0 {
		if err := printJSON(tasks); err != nil {
			return err
		}
	}
	return runErr
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printVersion() {
	fmt.Printf("browseragent %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`browseragent - natural-language browser task engine

Usage:
  browseragent <command> [options] [instruction]

Commands:
  run       Compile and execute an instruction
  compile   Compile an instruction into a task plan without running it
  resume    Continue unfinished tasks from the checkpoint store
  version   Show version information
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)
  --model <name>    Model hint for the oracle

Examples:
  browseragent run "搜索人工智能最新进展并总结前三个结果"
  browseragent compile --config config.yaml "比较 iPhone 和 Pixel"
  browseragent resume --config /etc/browseragent/config.yaml`)
}

// initLogger 按日志配置构建 zap logger
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
