package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- VERBS ---
	case "select":
		if hasHelpFlag(args) {
			printSelectHelp()
			return 0
		}
		return runSelect(args)
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "inspect":
		if hasHelpFlag(args) {
			printInspectHelp()
			return 0
		}
		return runInspect(args)

	// --- NOUNS ---
	case "cache":
		return runCacheNoun(args)
	case "catalogue":
		return runCatalogueNoun(args)
	case "config":
		return runConfigNoun(args)

	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: transmute version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("transmute %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`transmute - Attribute-driven artifact transformation with cached chains

Usage:
  transmute <command> [flags]
  transmute <noun> <action> [flags]

Commands:
  select <attrs>      Show the transform chain that produces the requested attributes
  run <attrs>         Materialize the requested variant and print its files
  inspect             Show the catalogue and recent invocations

Cache Commands:
  cache prune         Evict unused immutable workspaces and old invocation records

Catalogue Commands:
  catalogue hash-update  Record the catalogue checksum for integrity verification

Config Commands:
  config check        Validate configuration, catalogue and plugins
  config show         Print the effective configuration

General:
  --version           Show version information
  version             Show version information
  help                Show this help message

Attributes are written as name=value pairs separated by commas, e.g.
  transmute run type=directory,minified=true

Use 'transmute <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// parseInterspersed parses flags that may appear before or after positional
// arguments and returns the positional ones in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// loadConfig resolves the configuration: an explicit path, then
// $TRANSMUTE_CONFIG, then transmute.yaml in the working directory, then
// defaults rooted at the working directory.
func loadConfig(configPath string) (*config.Config, error) {
	return loadConfigWith(configPath, config.Load)
}

func loadConfigWith(configPath string, load func(string) (*config.Config, error)) (*config.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("TRANSMUTE_CONFIG")
	}
	if configPath != "" {
		return load(configPath)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(cwd, config.DefaultFilename)); err == nil {
		return load(cwd)
	}
	return config.FromDefaults(cwd)
}

func setupLogging(cfg *config.Config) {
	log.SetupWithFormat(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func runCacheNoun(args []string) int {
	if len(args) < 1 {
		printCacheNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printCacheNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "prune":
		if hasHelpFlag(actionArgs) {
			printCachePruneHelp()
			return 0
		}
		return runCachePrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache action: %s\n", action)
		return 1
	}
}

func runCatalogueNoun(args []string) int {
	if len(args) < 1 {
		printCatalogueNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printCatalogueNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "hash-update", "lock":
		if hasHelpFlag(actionArgs) {
			printCatalogueHashUpdateHelp()
			return 0
		}
		return runCatalogueHashUpdate(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown catalogue action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transmute config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printCacheNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transmute cache <action> [flags]")
	fmt.Fprintln(w, "Actions: prune")
}

func printCatalogueNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: transmute catalogue <action> [flags]")
	fmt.Fprintln(w, "Actions: hash-update")
}

func printSelectHelp() {
	fmt.Println("Usage: transmute select <attrs> [--config PATH] [--variant NAME,...] [--all] [--json]")
	fmt.Println("Resolve the requested attributes to a single transform chain without running it.")
	fmt.Println("--all lists every minimum-depth candidate instead of requiring exactly one.")
}

func printRunHelp() {
	fmt.Println("Usage: transmute run <attrs> [--config PATH] [--variant NAME,...] [--workers N] [--build-id ID] [--events] [--json]")
	fmt.Println("Materialize the requested variant through the cache and print its output files.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Every root file transformed")
	fmt.Println("  1  Selection, configuration or infrastructure error")
	fmt.Println("  2  One or more steps failed")
}

func printInspectHelp() {
	fmt.Println("Usage: transmute inspect [--config PATH] [--build ID] [--limit N] [--json]")
	fmt.Println("Show catalogue steps, variants and the most recent invocations.")
}

func printCachePruneHelp() {
	fmt.Println("Usage: transmute cache prune [--config PATH] [--older-than DURATION] [--json]")
	fmt.Println("Remove immutable workspaces unused for longer than the retention window.")
}

func printCatalogueHashUpdateHelp() {
	fmt.Println("Usage: transmute catalogue hash-update [--config PATH] [-v]")
	fmt.Println("Write .checksums next to the config file with the catalogue's BLAKE3 hash.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: transmute config check [--config PATH] [--strict] [--json]")
	fmt.Println("Validate configuration, catalogue and plugin setup.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Invalid")
	fmt.Println("  2  Valid with warnings (--strict only)")
}

func printConfigShowHelp() {
	fmt.Println("Usage: transmute config show [--config PATH] [--json]")
	fmt.Println("Print the effective configuration after defaults and path resolution.")
}
