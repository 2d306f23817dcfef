package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ongoingai/collector/internal/config"
	"github.com/ongoingai/collector/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(out, version.String())
		return 0
	case "config":
		return runConfig(args[1:], out, errOut)
	case "check":
		return runCheck(args[1:], out, errOut)
	case "registry":
		return runRegistry(args[1:], out, errOut)
	case "samples":
		return runSamples(args[1:], out, errOut)
	case "env":
		return runEnv(args[1:], out, errOut)
	case "wrap":
		return runWrap(args[1:], out, errOut)
	case "help", "--help", "-h":
		printUsage(out)
		return 0
	default:
		printUsage(errOut)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		return runConfigShow(nil, out, errOut)
	}

	switch args[0] {
	case "show":
		return runConfigShow(args[1:], out, errOut)
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		if strings.HasPrefix(args[0], "-") {
			return runConfigShow(args, out, errOut)
		}
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigShow(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config show", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", "", "Path to config file or directory")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config show does not accept positional arguments")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return 1
	}
	cfg.Storage.Mirror.DSN = redactDSN(cfg.Storage.Mirror.DSN)

	if cfg.Path != "" {
		fmt.Fprintf(out, "# resolved from %s\n", cfg.Path)
	} else {
		fmt.Fprintln(out, "# no config file found; defaults and environment only")
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(map[string]config.Config{config.Section: cfg}); err != nil {
		fmt.Fprintf(errOut, "failed to write config: %v\n", err)
		return 1
	}
	if err := encoder.Close(); err != nil {
		fmt.Fprintf(errOut, "failed to write config: %v\n", err)
		return 1
	}
	return 0
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", "", "Path to config file or directory")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath, "")
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", nonEmpty(cfg.Path, "(defaults and environment)"))
	return 0
}

// runEnv prints shell exports that point instrumented processes at the same
// config and data folder.
func runEnv(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("env", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", "", "Path to config file or directory")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "env does not accept positional arguments")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath, "")
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}

	for _, kv := range collectorEnv(cfg) {
		eq := strings.IndexByte(kv, '=')
		fmt.Fprintf(out, "export %s=%s\n", kv[:eq], shellQuote(kv[eq+1:]))
	}
	return 0
}

func runWrap(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("wrap", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", "", "Path to config file or directory")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cmdArgs := flagSet.Args()
	if len(cmdArgs) > 0 && cmdArgs[0] == "--" {
		cmdArgs = cmdArgs[1:]
	}
	if len(cmdArgs) == 0 {
		fmt.Fprintln(errOut, "usage: ongoingai-collector wrap [--config path/to/ongoingai.yaml] -- <command> [args...]")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath, "")
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}

	return runWrappedCommand(cfg, cmdArgs, out, errOut)
}

func runWrappedCommand(cfg config.Config, cmdArgs []string, out io.Writer, errOut io.Writer) int {
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = out
	cmd.Stderr = errOut
	cmd.Env = mergeEnv(os.Environ(), collectorEnv(cfg))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(errOut, "failed to start command: %v\n", err)
		return 1
	}
	return 0
}

// collectorEnv returns the variables a child process needs to resolve the
// same collector configuration.
func collectorEnv(cfg config.Config) []string {
	env := []string{"ONGOINGAI_DATA_FOLDER=" + cfg.DataFolder}
	if cfg.Path != "" {
		env = append(env, config.PathEnv+"="+cfg.Path)
	}
	sort.Strings(env)
	return env
}

func mergeEnv(baseEnv []string, overrides []string) []string {
	envMap := make(map[string]string, len(baseEnv)+len(overrides))
	for _, kv := range append(append([]string(nil), baseEnv...), overrides...) {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		envMap[kv[:eq]] = kv[eq+1:]
	}

	keys := make([]string, 0, len(envMap))
	for key := range envMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, key+"="+envMap[key])
	}
	return merged
}

func shellQuote(value string) string {
	if value != "" && strings.IndexFunc(value, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  ongoingai-collector version")
	fmt.Fprintln(out, "  ongoingai-collector config [show|validate] [--config path/to/ongoingai.yaml]")
	fmt.Fprintln(out, "  ongoingai-collector check [--config path/to/ongoingai.yaml] [--format text|json]")
	fmt.Fprintln(out, "  ongoingai-collector registry [--config path/to/ongoingai.yaml] [--data-folder PATH|URL] [--tag TAG] [--format text|json]")
	fmt.Fprintln(out, "  ongoingai-collector samples [--config path/to/ongoingai.yaml] [--tag TAG] [--model NAME] [--provider NAME] [--limit N] [--summary] [--format text|json]")
	fmt.Fprintln(out, "  ongoingai-collector env [--config path/to/ongoingai.yaml]")
	fmt.Fprintln(out, "  ongoingai-collector wrap [--config path/to/ongoingai.yaml] -- <command> [args...]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  ongoingai-collector config show [--config path/to/ongoingai.yaml]")
	fmt.Fprintln(out, "  ongoingai-collector config validate [--config path/to/ongoingai.yaml]")
}
