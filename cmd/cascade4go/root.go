package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/config"
)

var (
	configPath string
	schemaPath string
	modelName  string
)

var rootCmd = &cobra.Command{
	Use:   "cascade4go",
	Short: "Cascading deletes for GORM models",
	Long: `cascade4go inspects and runs cascading deletes described by a model schema.

Examples:

  cascade4go plan --schema schema.yaml
  cascade4go plan --schema schema.yaml --model authors
  cascade4go delete --config config.yaml --model authors --where "id = ?" --arg 1 --dry-run
`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "", "Model schema file (default: schema from config)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(deleteCmd)
}

// loadConfig reads the configuration and resolves the schema path, the flag
// taking precedence over the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if schemaPath != "" {
		cfg.Schema = schemaPath
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("no schema file: pass --schema or set schema in the config")
	}
	return cfg, nil
}

// findModel matches name against model names first, then tables.
func findModel(models []*cascade.Model, name string) (*cascade.Model, error) {
	for _, m := range models {
		if m.Name == name {
			return m, nil
		}
	}
	for _, m := range models {
		if m.TableName() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", cascade.ErrModelNotRegistered, name)
}
