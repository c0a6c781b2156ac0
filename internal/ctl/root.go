package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cloudstorm/backend/internal/config"
	"github.com/cloudstorm/backend/internal/database"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// openDB is replaced in tests.
var openDB = func(cfg config.DBConfig) (*gorm.DB, error) {
	return database.Connect(cfg)
}

type runtime struct {
	cfg  *config.Config
	db   *gorm.DB
	json bool
}

// NewRootCommand builds the stormctl command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "stormctl",
		Short: "Operator tooling for the cloudstorm backend",
		Long: `stormctl works directly against the cloudstorm database.

  stormctl check --user <id> --action file.delete --file <id>
  stormctl passcode set <group-id> --passcode 1234
  stormctl jobs recover`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rt.cfg = config.Load()
			db, err := openDB(rt.cfg.DB)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			rt.db = db
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&rt.json, "json", false, "Output as JSON")

	root.AddCommand(newCheckCommand(rt))
	root.AddCommand(newPasscodeCommand(rt))
	root.AddCommand(newJobsCommand(rt))
	return root
}

// Execute runs stormctl with the process arguments.
func Execute() error {
	logger.SetOutput(os.Stderr)
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
