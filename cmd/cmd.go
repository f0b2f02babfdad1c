// Package cmd implements the netstate subcommands.
package cmd

import (
	"os"

	"github.com/spf13/afero"

	"grimm.is/netstate/internal/brand"
	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/i18n"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/model"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// fs is where desired state documents are read from.
var fs = afero.NewOsFs()

// loadConfig reads configFile. A missing file at the default location
// yields the defaults, so the CLI works without any configuration.
func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		configFile = brand.ConfigPath()
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.LoadFile(configFile)
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg *config.Config, verbose bool) {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	if verbose {
		level = logging.LevelDebug
	}
	logging.SetDefault(logging.New(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   cfg.LogJSON,
	}))
}

// readDesired decodes a NetworkState document; "-" reads stdin.
func readDesired(path string) (*model.NetworkState, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = afero.ReadAll(os.Stdin)
	} else {
		data, err = afero.ReadFile(fs, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInvalidArgument, "failed to read %s", path)
	}
	return model.Decode(data)
}
