package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"interp-crawler/api"
	"interp-crawler/database"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored publications, standards and index over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			if addr == "" {
				addr = a.cfg.APIAddr
			}

			store, err := database.NewPostgresStore(a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if a.cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			return api.Serve(cmd.Context(), addr, api.NewRouter(store, a.log, a.registry), a.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (env API_ADDR)")
	return cmd
}
