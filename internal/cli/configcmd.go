package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daneel/olivaw/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		redactSecrets(cfg)
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		errs := config.NewValidator().ValidateConfig(cfg)
		if len(errs) == 0 {
			fmt.Println("Configuration is valid")
			return nil
		}
		for _, verr := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", verr)
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// redactSecrets blanks credential material before printing.
func redactSecrets(cfg *config.Config) {
	for i := range cfg.Auth {
		if cfg.Auth[i].APIKey != "" {
			cfg.Auth[i].APIKey = "[REDACTED]"
		}
	}
	for name := range cfg.Proxy.Headers {
		cfg.Proxy.Headers[name] = "[REDACTED]"
	}
}
