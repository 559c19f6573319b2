// Command mtreecli is a small inspection and exercise tool for a persistent
// Merkle tree.
//
// Usage:
//
//	mtreecli [flags] <command> [args]
//
// Commands:
//
//	put <key> <value>   insert or update a record
//	get <key>           print the value stored under key
//	root                print the current root hash
//	info                print a diagnostic RAM snapshot
//	serve               run until SIGINT/SIGTERM (with --metrics, /metrics is served meanwhile)
//
// Flags:
//
//	--name        Tree name (default: "default")
//	--datadir     Data directory path (default: ./mtreedata)
//	--metrics     Enable the Prometheus metrics endpoint (default: false)
//	--metrics.addr  Address to serve /metrics on (default: 127.0.0.1:9400)
//	--version     Print version and exit
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/merkletreedb/mtree/metrics"
	"github.com/merkletreedb/mtree/mtree"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, rest, exit, code := parseFlags(args)
	if exit {
		return code
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "Error: missing command (put, get, root, info, serve)")
		return 2
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	dir := filepath.Join(cfg.DataDir, cfg.Name)
	tr, err := mtree.Open(cfg.Name, dir)
	if err != nil {
		log.Printf("Failed to open tree %q at %q: %v", cfg.Name, dir, err)
		return 1
	}
	defer tr.Close()

	if cfg.Metrics {
		startMetricsServer(cfg.MetricsAddr)
	}

	switch rest[0] {
	case "put":
		return cmdPut(tr, rest[1:])
	case "get":
		return cmdGet(tr, rest[1:])
	case "root":
		return cmdRoot(tr)
	case "info":
		return cmdInfo(tr)
	case "serve":
		return cmdServe(tr, cfg.Name)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", rest[0])
		return 2
	}
}

func cmdPut(tr *mtree.Tree, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Error: put requires <key> <value>")
		return 2
	}
	if err := tr.AddOrUpdateData([]byte(args[0]), []byte(args[1])); err != nil {
		log.Printf("put failed: %v", err)
		return 1
	}
	if err := tr.FlushToDisk(false); err != nil {
		log.Printf("flush failed: %v", err)
		return 1
	}
	return 0
}

func cmdGet(tr *mtree.Tree, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: get requires <key>")
		return 2
	}
	v, err := tr.GetData([]byte(args[0]))
	if err != nil {
		log.Printf("get failed: %v", err)
		return 1
	}
	if v == nil {
		fmt.Println("<absent>")
		return 0
	}
	fmt.Println(string(v))
	return 0
}

func cmdRoot(tr *mtree.Tree) int {
	root, err := tr.GetRootHash()
	if err != nil {
		log.Printf("root failed: %v", err)
		return 1
	}
	if root == nil {
		fmt.Println("<empty>")
		return 0
	}
	fmt.Printf("%x\n", root)
	return 0
}

func cmdInfo(tr *mtree.Tree) int {
	info, err := tr.GetRamInfo()
	if err != nil {
		log.Printf("info failed: %v", err)
		return 1
	}
	fmt.Printf("name:               %s\n", info.Name)
	fmt.Printf("state:              %s\n", info.State)
	fmt.Printf("numLeaves:          %d\n", info.NumLeaves)
	fmt.Printf("depth:              %d\n", info.Depth)
	fmt.Printf("cachedNodes:        %d\n", info.CachedNodes)
	fmt.Printf("hangingLevels:      %d\n", info.HangingLevels)
	fmt.Printf("pendingKeyWrites:   %d\n", info.PendingKeyWrites)
	fmt.Printf("hasUnsavedChanges:  %v\n", info.HasUnsavedChanges)
	fmt.Printf("lock.readCount:     %d\n", info.Lock.ReadCount)
	fmt.Printf("lock.writerHeld:    %v\n", info.Lock.WriterHeld)
	fmt.Printf("lock.queuedWaiters: %d\n", info.Lock.QueuedWaiters)
	return 0
}

func cmdServe(tr *mtree.Tree, name string) int {
	log.Printf("serving tree %q; press Ctrl-C to stop", name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)
	return 0
}

func startMetricsServer(addr string) {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	srv := &http.Server{Addr: addr, Handler: exporter.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
	log.Printf("metrics listening on %s/metrics", addr)
}

// cliConfig holds every flag-configurable setting.
type cliConfig struct {
	Name        string
	DataDir     string
	Metrics     bool
	MetricsAddr string
}

func defaultConfig() cliConfig {
	return cliConfig{
		Name:        "default",
		DataDir:     "./mtreedata",
		Metrics:     false,
		MetricsAddr: "127.0.0.1:9400",
	}
}

// parseFlags parses CLI arguments into a cliConfig. Returns the config, the
// remaining positional arguments, whether the caller should exit
// immediately, and the exit code.
func parseFlags(args []string) (cliConfig, []string, bool, int) {
	cfg := defaultConfig()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, nil, true, 2
	}

	if *showVersion {
		fmt.Printf("mtreecli %s (commit %s)\n", version, commit)
		return cfg, nil, true, 0
	}

	return cfg, fs.Args(), false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to the given
// cliConfig. The FlagSet uses ContinueOnError so callers control the error
// handling behavior.
func newFlagSet(cfg *cliConfig) *flagSet {
	fs := newCustomFlagSet("mtreecli")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "tree name")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "enable the Prometheus metrics endpoint")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "address to serve /metrics on")
	return fs
}
