package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bewithu/dashboard-session/internal/pkg/config"
	"github.com/bewithu/dashboard-session/pkg/logger"
)

const serviceName = "bewithu-dashboard"

// app carries what every subcommand needs once PersistentPreRunE has run.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dashboard",
		Short: "bewithU dashboard session manager",
		Long: `Runs the bewithU dashboard session layer: an HTTP server with role-gated
screens, plus commands to sign in, sign out and inspect the stored session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.Init(logger.Options{
				Level:   cfg.LogLevel,
				Pretty:  cfg.IsDevelopment(),
				Output:  cmd.ErrOrStderr(),
				Service: serviceName,
			})
			return nil
		},
	}

	root.AddCommand(
		newServeCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
	)
	return root
}
