package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/config"
)

type initOptions struct {
	serverURL string
	scopeID   string
	dataDir   string
	force     bool
}

func newInitCmd(root *rootOptions) *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Write a configuration file with default settings.

The token is never written; set FIELDSYNC_TOKEN in the environment or in a .env
file next to the configuration.

Examples:
  fieldsync init --server-url https://api.example.com --scope 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server-url", "", "REST server root URL (required)")
	cmd.Flags().StringVar(&opts.scopeID, "scope", "", "Tenant/company identifier (required)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Directory for the local database")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing file")
	return cmd
}

func runInit(cmd *cobra.Command, root *rootOptions, opts *initOptions) error {
	path := root.configPath
	if path == "" {
		path = config.FileName
	}
	if _, err := os.Stat(path); err == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	cfg.Server.BaseURL = opts.serverURL
	cfg.ScopeID = opts.scopeID
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	if root.json {
		printJSON(cmd.OutOrStdout(), map[string]string{"config": path, "data_dir": cfg.DataDir})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
