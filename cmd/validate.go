package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graymantle/crucible/internal/config"
	"github.com/graymantle/crucible/internal/suite"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and test suite without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("config %s: %w", cfgFile, err)
			}
			apiCfg, known := cfg.APIConfig()
			fmt.Printf("Endpoint: %s (model %s)\n", apiCfg.Endpoint, apiCfg.Model)
			if !known {
				fmt.Println("  warning: could not detect API style from endpoint path")
			}

			catalog, err := suite.Load(suiteFile)
			if err != nil {
				return fmt.Errorf("suite %s: %w", suiteFile, err)
			}
			cats := catalog.Categories()
			fmt.Printf("Suite: %d tests across %d categories\n", catalog.Len(), len(cats))
			for _, c := range cats {
				fmt.Printf("  %s: %d\n", c, len(catalog.IDsByCategory(c)))
			}
			fmt.Println("OK")
			return nil
		},
	}
}
