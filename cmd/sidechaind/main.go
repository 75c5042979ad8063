package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/l2labs/bmmnode/node"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("sidechaind", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single bootstrap peer host:port (repeatable)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.ParentHost, "parent-host", defaults.ParentHost, "parent-chain RPC host")
	parentPort := fs.Uint("parent-port", uint(defaults.ParentPort), "parent-chain RPC port")
	fs.StringVar(&cfg.ParentRPCUser, "parent-rpc-user", "", "parent-chain RPC username")
	fs.StringVar(&cfg.ParentRPCPass, "parent-rpc-pass", "", "parent-chain RPC password")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: trace|debug|info|warn|error")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.ParentPort = uint16(*parentPort)

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Peers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)
	if err := node.ValidateConfig(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	n, err := node.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, addr := range cfg.Peers {
		if err := n.Connect(ctx, addr); err != nil {
			_, _ = fmt.Fprintf(stderr, "connect to peer %s failed: %v\n", addr, err)
		}
	}

	_, _ = fmt.Fprintln(stdout, "sidechaind running")
	n.Run(ctx)
	_, _ = fmt.Fprintln(stdout, "sidechaind stopped")
	return 0
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
