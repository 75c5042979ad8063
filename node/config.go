package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Config is the node's composition-root configuration.
type Config struct {
	DataDir       string   `json:"data_dir"`
	BindAddr      string   `json:"bind_addr"`
	ParentHost    string   `json:"parent_host"`
	ParentPort    uint16   `json:"parent_port"`
	ParentRPCUser string   `json:"parent_rpc_user"`
	ParentRPCPass string   `json:"parent_rpc_pass"`
	LogLevel      string   `json:"log_level"`
	Peers         []string `json:"peers"`
	MaxPeers      int      `json:"max_peers"`
}

var allowedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".bmmnode"
	}
	return filepath.Join(home, ".bmmnode")
}

func DefaultConfig() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		BindAddr:   "0.0.0.0:29111",
		ParentHost: "127.0.0.1",
		ParentPort: 18443,
		Peers:      nil,
		LogLevel:   "info",
		MaxPeers:   64,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	if strings.TrimSpace(cfg.ParentHost) == "" {
		return errors.New("parent_host is required")
	}
	if cfg.ParentPort == 0 {
		return errors.New("parent_port is required")
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
