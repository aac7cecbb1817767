package cmd

import (
	"log/slog"

	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	dbs "github.com/Builder-Lawyers/church-provisioner/pkg/db"
	"github.com/spf13/cobra"
)

func Migrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := dbs.NewPool(cmd.Context(), dbs.NewConfig())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err = db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}
