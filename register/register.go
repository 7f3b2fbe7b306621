// Package register adds mdspace-mcp to an MCP client configuration file.
package register

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// Scope selects which configuration file is written.
type Scope string

const (
	ScopeProject Scope = "project" // <directory>/.mcp.json
	ScopeUser    Scope = "user"    // ~/.claude.json
)

// Options is a parsed register command line.
type Options struct {
	Scope      Scope
	Directory  string   // project scope only
	Roots      []string // forwarded as -root flags
	ServerArgs []string // everything after --
}

type serverEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Run executes the register subcommand. args is everything after "register".
func Run(fs afero.Fs, serverName string, args []string, out io.Writer) error {
	opts, err := ParseArgs(args)
	if err != nil {
		return err
	}

	binaryPath, err := detectBinaryPath()
	if err != nil {
		return fmt.Errorf("detecting binary path: %w", err)
	}
	configPath, err := resolveConfigPath(opts.Scope, opts.Directory)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	serverArgs, err := opts.serverArgs()
	if err != nil {
		return err
	}

	if err := writeConfig(fs, configPath, serverName, buildEntry(binaryPath, serverArgs)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered %q in %s\n", serverName, configPath)
	return nil
}

// Usage describes the subcommand.
func Usage(binaryName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n")
	fmt.Fprintf(&b, "  %s register project [directory]            # -> <directory>/.mcp.json, root = directory\n", binaryName)
	fmt.Fprintf(&b, "  %s register user -root <dir> [-root <dir>]  # -> ~/.claude.json\n", binaryName)
	fmt.Fprintf(&b, "  %s register project . -- -no-watch          # forward flags to the server\n", binaryName)
	return b.String()
}

// ParseArgs reads "<scope> [directory] [-root dir]... [-- server flags]".
func ParseArgs(args []string) (Options, error) {
	if len(args) == 0 {
		return Options{}, errors.New("missing scope")
	}
	opts := Options{Scope: Scope(args[0])}
	if opts.Scope != ScopeProject && opts.Scope != ScopeUser {
		return Options{}, fmt.Errorf("unknown scope %q (must be \"project\" or \"user\")", args[0])
	}

	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case arg == "--":
			opts.ServerArgs = rest[i+1:]
			i = len(rest)
		case arg == "-root" || arg == "--root":
			if i+1 >= len(rest) {
				return Options{}, fmt.Errorf("%s needs a folder", arg)
			}
			opts.Roots = append(opts.Roots, rest[i+1])
			i++
		case strings.HasPrefix(arg, "-"):
			return Options{}, fmt.Errorf("unknown option %s (put server flags after --)", arg)
		case opts.Scope == ScopeProject && opts.Directory == "":
			opts.Directory = arg
		default:
			return Options{}, fmt.Errorf("unexpected argument %q", arg)
		}
	}

	if opts.Scope == ScopeProject && opts.Directory == "" {
		opts.Directory = "."
	}
	if opts.Scope == ScopeUser && len(opts.Roots) == 0 {
		return Options{}, errors.New("user scope needs at least one -root")
	}
	return opts, nil
}

// serverArgs pins every root to an absolute path so the server does not depend on the
// client's working directory. A project registration without roots opens the project folder.
func (o Options) serverArgs() ([]string, error) {
	roots := o.Roots
	if len(roots) == 0 && o.Scope == ScopeProject {
		roots = []string{o.Directory}
	}
	var args []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		args = append(args, "-root", abs)
	}
	return append(args, o.ServerArgs...), nil
}

// DeriveServerName extracts a server name from a binary path by stripping .exe and -mcp suffixes.
func DeriveServerName(binaryPath string) string {
	name := filepath.Base(binaryPath)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, "-mcp")
	return name
}

func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("getting executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", exe, err)
	}
	return resolved, nil
}

func resolveConfigPath(scope Scope, directory string) (string, error) {
	if scope == ScopeProject {
		absDir, err := filepath.Abs(directory)
		if err != nil {
			return "", fmt.Errorf("resolving directory %s: %w", directory, err)
		}
		return filepath.Join(absDir, ".mcp.json"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude.json"), nil
}

func buildEntry(binaryPath string, serverArgs []string) serverEntry {
	if runtime.GOOS == "windows" {
		return serverEntry{Command: "cmd", Args: append([]string{"/C", binaryPath}, serverArgs...)}
	}
	return serverEntry{Command: binaryPath, Args: serverArgs}
}

// writeConfig updates mcpServers[serverName] and leaves every other key alone.
func writeConfig(fs afero.Fs, configPath string, serverName string, entry serverEntry) error {
	config := map[string]any{}
	data, err := afero.ReadFile(fs, configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing existing config %s: %w", configPath, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading %s: %w", configPath, err)
	}

	servers, ok := config["mcpServers"]
	if !ok {
		servers = map[string]any{}
		config["mcpServers"] = servers
	}
	serversMap, ok := servers.(map[string]any)
	if !ok {
		return fmt.Errorf("mcpServers in %s is not an object", configPath)
	}
	serversMap[serverName] = entry

	output, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	output = append(output, '\n')

	// Temp file in the same folder, then rename
	configDir := filepath.Dir(configPath)
	tmpFile, err := afero.TempFile(fs, configDir, ".mcp-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", configDir, err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(output); err != nil {
		tmpFile.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := fs.Rename(tmpPath, configPath); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, configPath, err)
	}
	return nil
}
