package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"devserve/internal/namespace"

	"github.com/joho/godotenv"
)

// ErrRootUnresolved means the primary root location could not be determined.
// The server must not start serving in that case.
var ErrRootUnresolved = errors.New("primary root unresolved")

type Config struct {
	Port        int      `json:"port"`
	Root        string   `json:"root"`
	RootFile    string   `json:"root_file"`
	WorkerDir   string   `json:"worker_dir"`
	DepsDir     string   `json:"deps_dir"`
	DepsPrefix  string   `json:"deps_prefix"`
	Index       string   `json:"index"`
	Ignore      []string `json:"ignore"`
	DataDir     string   `json:"data_dir"`
	LedgerLimit int      `json:"ledger_limit"`
	LogLevel    string   `json:"log_level"`
	LogFormat   string   `json:"log_format"`
	AuthEnabled bool     `json:"auth_enabled"`
	AuthUser    string   `json:"auth_user"`
	AuthPass    string   `json:"auth_pass"`
}

func defaults() *Config {
	return &Config{
		Port:        8000,
		RootFile:    "../ember-app/dist/.stage2-output",
		WorkerDir:   "../worker/dist",
		DepsDir:     "../deps/dist",
		DepsPrefix:  "/deps",
		Index:       namespace.DefaultIndex,
		DataDir:     "",
		LedgerLimit: 500,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// Load parses flags from args into a Config, then applies environment
// overrides. A .env file in the working directory is loaded first when present.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	_ = godotenv.Load()

	config := defaults()
	var ignore string

	fs.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	fs.StringVar(&config.Root, "root", config.Root, "Primary root directory (overrides -root-file)")
	fs.StringVar(&config.RootFile, "root-file", config.RootFile, "File containing the primary root path, written by the build")
	fs.StringVar(&config.WorkerDir, "worker-dir", config.WorkerDir, "Worker build output, served after the primary root")
	fs.StringVar(&config.DepsDir, "deps-dir", config.DepsDir, "Dependencies build output")
	fs.StringVar(&config.DepsPrefix, "deps-prefix", config.DepsPrefix, "URL prefix for the dependencies root")
	fs.StringVar(&config.Index, "index", config.Index, "Index document served for directory requests")
	fs.StringVar(&ignore, "ignore", "", "Comma-separated glob patterns excluded from the manifest")
	fs.StringVar(&config.DataDir, "data-dir", config.DataDir, "Directory for the scan ledger (empty disables it)")
	fs.IntVar(&config.LedgerLimit, "ledger-limit", config.LedgerLimit, "Number of scan records kept in the ledger")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "Log format: console or json")
	fs.BoolVar(&config.AuthEnabled, "auth", config.AuthEnabled, "Enable HTTP Basic authentication")
	fs.StringVar(&config.AuthUser, "user", config.AuthUser, "Username for authentication")
	fs.StringVar(&config.AuthPass, "pass", config.AuthPass, "Password for authentication")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	config.Ignore = splitList(ignore)

	// Override with environment variables
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if root := os.Getenv("DEVSERVE_ROOT"); root != "" {
		config.Root = root
	}
	if rootFile := os.Getenv("DEVSERVE_ROOT_FILE"); rootFile != "" {
		config.RootFile = rootFile
	}
	if worker := os.Getenv("DEVSERVE_WORKER_DIR"); worker != "" {
		config.WorkerDir = worker
	}
	if deps := os.Getenv("DEVSERVE_DEPS_DIR"); deps != "" {
		config.DepsDir = deps
	}
	if ignore := os.Getenv("DEVSERVE_IGNORE"); ignore != "" {
		config.Ignore = append(config.Ignore, splitList(ignore)...)
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.LogFormat = format
	}
	if auth := os.Getenv("AUTH_ENABLED"); auth == "true" {
		config.AuthEnabled = true
	}
	if user := os.Getenv("AUTH_USER"); user != "" {
		config.AuthUser = user
	}
	if pass := os.Getenv("AUTH_PASS"); pass != "" {
		config.AuthPass = pass
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Root == "" && c.RootFile == "" {
		return fmt.Errorf("either a root or a root file is required")
	}
	if c.Index == "" || strings.Contains(c.Index, "/") {
		return fmt.Errorf("index must be a plain file name")
	}
	if c.AuthEnabled && (c.AuthUser == "" || c.AuthPass == "") {
		return fmt.Errorf("authentication requires both username and password")
	}
	return nil
}

// ResolveRoot fixes the primary root: an explicit Root wins, otherwise the
// path is read from RootFile. Surrounding whitespace in the file is ignored
// and a relative path is taken relative to the working directory. Failure
// wraps ErrRootUnresolved.
func (c *Config) ResolveRoot() error {
	root := c.Root
	if root == "" {
		data, err := os.ReadFile(c.RootFile)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrRootUnresolved, c.RootFile, err)
		}
		root = strings.TrimSpace(string(data))
		if root == "" {
			return fmt.Errorf("%w: %s is empty", ErrRootUnresolved, c.RootFile)
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRootUnresolved, err)
	}
	c.Root = abs
	return nil
}

// Mounts describes the served namespace: primary root first, then the
// worker output, then the dependencies under their own prefix. Roots left
// empty are not mounted.
func (c *Config) Mounts() []namespace.Mount {
	all := []namespace.Mount{
		{Name: "app", Root: c.Root, Prefix: "", Rank: 1},
		{Name: "worker", Root: c.WorkerDir, Prefix: "", Rank: 2},
		{Name: "deps", Root: c.DepsDir, Prefix: c.DepsPrefix, Rank: 3},
	}

	mounts := make([]namespace.Mount, 0, len(all))
	for _, m := range all {
		if m.Root == "" {
			continue
		}
		if abs, err := filepath.Abs(m.Root); err == nil {
			m.Root = abs
		}
		mounts = append(mounts, m)
	}
	return mounts
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
