// cashdeskctl is the operator CLI: schema migrations, custody due lists,
// token minting for local testing, and DLQ replay.
package main

import (
	"fmt"
	"os"

	"cashdesk/internal/config"
	"cashdesk/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// deps are what subcommands build on. Tests replace them with in-memory
// versions.
type deps struct {
	loadConfig func() (*config.Config, error)
	custody    func(cfg *config.Config) (service.CustodyService, error)
}

func defaultDeps() deps {
	return deps{loadConfig: loadConfig, custody: openCustody}
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(defaultDeps())
}

func newRootCommandWith(d deps) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "cashdeskctl",
		Short:         "Administrative tasks for the cash desk service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newMigrateCommand(d))
	root.AddCommand(newCustodyCommand(d))
	root.AddCommand(newTokenCommand(d))
	root.AddCommand(newDLQCommand(d))
	return root
}

// loadConfig is the default config source; flags override nothing in it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
