// Package main provides the CLI entry point for the Lumen core.
//
// lumenc drives the compiler pipeline and the register VM over
// markdown-hosted or raw Lumen sources.
//
// Usage:
//
//	lumenc check <file>                - Compile and report diagnostics
//	lumenc emit <file>                 - Compile and print the LIR disassembly
//	lumenc run <file> [--cell name]    - Compile and execute a cell
//	lumenc trace <file> [--serve addr] - Run and show (or serve) the trace
//	lumenc watch <file>                - Recompile on change
//	lumenc cache clear                 - Drop the on-disk compile cache
//
// Exit codes: 0 success, 1 compile error, 2 runtime error, 3 policy error.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lumen-lang/lumen/internal/api"
	"github.com/lumen-lang/lumen/internal/config"
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/internal/logger"
	"github.com/lumen-lang/lumen/pkg/lumen"
	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/tool/genaiprovider"
	"github.com/lumen-lang/lumen/pkg/tool/mcpprovider"
	"github.com/lumen-lang/lumen/pkg/vm"
)

const (
	exitOK      = 0
	exitCompile = 1
	exitRuntime = 2
	exitPolicy  = 3
)

var version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitOK)
	}

	cfg, err := config.Load(os.Getenv("LUMEN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitRuntime)
	}
	logger.Setup(cfg)
	defer logger.Stop()

	switch os.Args[1] {
	case "check":
		os.Exit(cmdCheck(os.Args[2:]))
	case "emit":
		os.Exit(cmdEmit(os.Args[2:]))
	case "run":
		os.Exit(cmdRun(cfg, os.Args[2:]))
	case "trace":
		os.Exit(cmdTrace(cfg, os.Args[2:]))
	case "watch":
		os.Exit(cmdWatch(os.Args[2:]))
	case "cache":
		os.Exit(cmdCache(cfg, os.Args[2:]))
	case "version", "--version", "-v":
		fmt.Printf("lumenc %s\n", version)
		os.Exit(exitOK)
	default:
		usage()
		os.Exit(exitCompile)
	}
}

func usage() {
	fmt.Println("lumenc - the Lumen compiler and VM")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  check <file>                 compile and report diagnostics")
	fmt.Println("  emit <file>                  compile and print LIR disassembly")
	fmt.Println("  run <file> [--cell name]     compile and execute")
	fmt.Println("  trace <file> [--serve addr]  run and show (or serve) the trace")
	fmt.Println("  watch <file>                 recompile on change")
	fmt.Println("  cache clear                  drop the compile cache")
	fmt.Println("  version                      print the version")
}

func compileFile(path string) ([]byte, *lumen.CompileOptions, int) {
	doc, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return nil, nil, exitCompile
	}
	return doc, &lumen.CompileOptions{Filename: path}, exitOK
}

func printDiagnostics(diags []diagnostic.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
}

func cmdCheck(args []string) int {
	if len(args) < 1 {
		usage()
		return exitCompile
	}
	doc, opts, code := compileFile(args[0])
	if code != exitOK {
		return code
	}
	mod, diags := lumen.Compile(string(doc), *opts)
	printDiagnostics(diags)
	if mod == nil {
		return exitCompile
	}
	fmt.Printf("ok: %d cells, %d constants, %d types\n", len(mod.Cells), len(mod.Consts), len(mod.Types))
	return exitOK
}

func cmdEmit(args []string) int {
	if len(args) < 1 {
		usage()
		return exitCompile
	}
	doc, opts, code := compileFile(args[0])
	if code != exitOK {
		return code
	}
	mod, diags := lumen.Compile(string(doc), *opts)
	printDiagnostics(diags)
	if mod == nil {
		return exitCompile
	}
	fmt.Print(mod.Disassemble())
	return exitOK
}

// buildRegistry wires the configured providers: built-in http/genai
// types plus any MCP mount points.
func buildRegistry(cfg *config.Config) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	for alias, ptype := range cfg.Providers.Bindings {
		switch ptype {
		case "http":
			if err := reg.Register(alias, tool.NewHTTPProvider(30*time.Second)); err != nil {
				return nil, err
			}
		case "genai":
			pc := cfg.Providers.Config["genai"]
			apiKey, err := pc.Resolve("api_key")
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", alias, err)
			}
			model := pc.Settings["model"]
			p, err := genaiprovider.New(genaiprovider.Config{APIKey: apiKey, Model: model})
			if err != nil {
				return nil, err
			}
			if err := reg.Register(alias, p); err != nil {
				return nil, err
			}
		default:
			mount, ok := cfg.Providers.MCP[ptype]
			if !ok {
				return nil, fmt.Errorf("provider %q: unknown provider type %q", alias, ptype)
			}
			toolName := alias
			if len(mount.Tools) > 0 {
				toolName = mount.Tools[0]
			}
			p, err := mcpprovider.New(mcpprovider.Config{
				Command: mount.Command,
				Args:    mount.Args,
				Tool:    toolName,
			})
			if err != nil {
				return nil, err
			}
			if err := reg.Register(alias, p); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func runModule(cfg *config.Config, path, cell string) (*vm.RunResult, int) {
	doc, opts, code := compileFile(path)
	if code != exitOK {
		return nil, code
	}
	mod, diags := lumen.Compile(string(doc), *opts)
	printDiagnostics(diags)
	if mod == nil {
		return nil, exitCompile
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return nil, exitRuntime
	}
	res, err := lumen.Run(mod, lumen.RunOptions{
		Cell:     cell,
		Fuel:     cfg.VM.FuelBudget,
		MaxDepth: cfg.VM.MaxFrameDepth,
		Registry: reg,
		RunID:    fmt.Sprintf("%s-%d", filepath.Base(path), time.Now().UnixNano()),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var re *vm.RuntimeError
		if errors.As(err, &re) && (re.Kind == vm.ErrToolPolicy || re.Kind == vm.ErrUnknownTool) {
			return nil, exitPolicy
		}
		return nil, exitRuntime
	}
	return res, exitOK
}

func cmdRun(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cell := fs.String("cell", "", "cell to execute (defaults to the module entry)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		return exitCompile
	}
	res, code := runModule(cfg, fs.Arg(0), *cell)
	if code != exitOK {
		return code
	}
	fmt.Println(res.Value.String())
	return exitOK
}

func cmdTrace(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	cell := fs.String("cell", "", "cell to execute (defaults to the module entry)")
	serve := fs.String("serve", "", "serve the trace over HTTP on this address instead of printing")
	verify := fs.Bool("verify", false, "replay the hash chain and report tampering")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		return exitCompile
	}
	res, code := runModule(cfg, fs.Arg(0), *cell)
	if code != exitOK {
		return code
	}
	events := res.Trace.Events()

	if *verify {
		if err := res.Trace.VerifyChain(); err != nil {
			fmt.Fprintf(os.Stderr, "trace verification failed: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("trace ok: %d events\n", len(events))
	}

	if *serve != "" {
		srv := api.NewServer(res.Trace.RunID(), events)
		fmt.Printf("serving trace on %s\n", *serve)
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			if err := srv.ListenAndServe(*serve); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitRuntime)
			}
		}()
		<-stop
		return exitOK
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, ev := range events {
		_ = enc.Encode(ev)
	}
	return exitOK
}

func cmdWatch(args []string) int {
	if len(args) < 1 {
		usage()
		return exitCompile
	}
	path := args[0]
	w, err := lumen.NewSourceWatcher(path, func(res lumen.WatchResult) {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", res.Err)
			return
		}
		printDiagnostics(res.Diagnostics)
		if res.Module != nil {
			fmt.Printf("recompiled: %d cells\n", len(res.Module.Cells))
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntime
	}
	defer w.Close()

	fmt.Printf("watching %s (ctrl-c to stop)\n", path)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return exitOK
}

func cmdCache(cfg *config.Config, args []string) int {
	if len(args) < 1 || args[0] != "clear" {
		usage()
		return exitCompile
	}
	cacheDir := filepath.Join(cfg.Logging.DataDir, "cache")
	if err := os.RemoveAll(cacheDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("cache cleared: %s\n", cacheDir)
	return exitOK
}
