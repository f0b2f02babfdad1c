package main

import (
	"context"
	stderrors "errors"
	"flag"
	"os"

	"grimm.is/netstate/cmd"
	"grimm.is/netstate/internal/brand"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitVerify      = 3
	exitDiffers     = 4
	exitUnsupported = 5
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "show":
		fs := flag.NewFlagSet("show", flag.ExitOnError)
		configFile := configFlag(fs)
		running := fs.Bool("running-config", false, "Omit DHCP and autoconf derived addresses and routes")
		fs.Parse(os.Args[2:])
		exit("Show", cmd.RunShow(ctx, *configFile, *running))

	case "apply":
		fs := flag.NewFlagSet("apply", flag.ExitOnError)
		configFile := configFlag(fs)
		var f cmd.ApplyFlags
		fs.BoolVar(&f.NoVerify, "no-verify", false, "Skip verification of the applied state")
		fs.BoolVar(&f.NoCommit, "no-commit", false, "Leave the checkpoint pending and print its id")
		fs.BoolVar(&f.MemoryOnly, "memory-only", false, "Set removed interfaces down instead of deleting them")
		fs.BoolVar(&f.KernelOnly, "kernel-only", false, "Skip the checkpoint; restore the previous state on failure")
		fs.BoolVar(&f.DryRun, "dry-run", false, "Print the operations instead of running them")
		fs.BoolVar(&f.DryRun, "n", false, "Dry run (short)")
		fs.DurationVar(&f.Timeout, "timeout", 0, "Checkpoint timeout (default from config)")
		fs.Parse(os.Args[2:])
		exit("Apply", cmd.RunApply(ctx, *configFile, fs.Arg(0), f))

	case "diff":
		fs := flag.NewFlagSet("diff", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		exit("Diff", cmd.RunDiff(ctx, *configFile, fs.Arg(0)))

	case "commit", "rollback":
		fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if os.Args[1] == "commit" {
			exit("Commit", cmd.RunCommit(ctx, *configFile, fs.Arg(0)))
		}
		exit("Rollback", cmd.RunRollback(ctx, *configFile, fs.Arg(0)))

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		configFile := configFlag(fs)
		limit := fs.Int("n", 20, "Number of records to show (0 for all)")
		fs.Parse(os.Args[2:])
		exit("History", cmd.RunHistory(*configFile, *limit))

	case "check":
		fs := flag.NewFlagSet("check", flag.ExitOnError)
		printCfg := fs.Bool("print", false, "Print the effective configuration")
		fs.Parse(os.Args[2:])
		exit("Check", cmd.RunCheck(fs.Arg(0), *printCfg))

	case "daemon":
		fs := flag.NewFlagSet("daemon", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		exit("Daemon", cmd.RunDaemon(ctx, *configFile))

	case "version":
		cmd.RunVersion()

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitUsage)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	configFile := fs.String("config", "", "Configuration file (default "+brand.ConfigPath()+")")
	fs.StringVar(configFile, "c", "", "Configuration file (short)")
	return configFile
}

// exit reports err and terminates with a code derived from its kind.
func exit(what string, err error) {
	if err == nil {
		os.Exit(exitOK)
	}
	if stderrors.Is(err, cmd.ErrDiffers) {
		os.Exit(exitDiffers)
	}
	printer.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
	switch errors.GetKind(err) {
	case errors.KindInvalidArgument:
		os.Exit(exitUsage)
	case errors.KindVerification, errors.KindKernelIntegerRounded:
		os.Exit(exitVerify)
	case errors.KindNotSupported, errors.KindNotImplemented:
		os.Exit(exitUnsupported)
	}
	os.Exit(exitFailure)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  show      Print the current network state
            Options: -running-config, -config (-c) <file>
  apply     Apply a desired state document (default: state_file from config)
            Options: -no-verify, -no-commit, -memory-only, -kernel-only,
                     -dry-run (-n), -timeout <duration>
  diff      Show what apply would change
  commit    Keep the state of a pending checkpoint [id]
  rollback  Restore the state saved by a pending checkpoint [id]
  history   List recent applies
            Options: -n <count>
  check     Validate the configuration and desired state
            Options: -print
  daemon    Keep the host at the desired state, serving metrics
  version   Print version information

Examples:
  %s apply -n desired.yml          # Print the ip/ovs-vsctl operations
  %s apply -no-commit desired.yml  # Apply and wait for 'commit'
  %s show -running-config > current.yml
  %s daemon -c /etc/netstate/netstate.hcl
`,
		brand.Name, brand.Description,
		brand.BinaryName,
		brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName)
}
