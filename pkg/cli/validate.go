package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perturbd/perturbd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a config file without starting the server",
	Args:  cobra.ExactArgs(1),
	Example: `  perturbd validate perturbd.yaml
  perturbd validate mocks.json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if result := config.Validate(cfg); !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Printf("  %s: %s\n", e.Path, e.Message)
		}
		return fmt.Errorf("%s: %d validation error(s)", path, len(result.Errors))
	}

	crud := 0
	for _, res := range cfg.Resources {
		if res.EnableCrud {
			crud++
		}
	}
	fmt.Printf("%s: valid (%d resources, %d with CRUD routes, %d static endpoints)\n",
		path, len(cfg.Resources), crud, len(cfg.StaticEndpoints))
	return nil
}
