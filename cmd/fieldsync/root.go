package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/config"
)

// rootOptions are the global flags.
type rootOptions struct {
	configPath string
	json       bool
	offline    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first sync client for field operations",
		Long: `fieldsync keeps a local cache of field-operation records and synchronizes it
with the server.

Every command works offline. Local changes are kept as pending and sent in one
batch per entity type on the next sync.

Entities: ` + strings.Join(config.KnownEntities, ", ") + `

Configuration is read from fieldsync.yaml (or --config, or FIELDSYNC_CONFIG) and
overridden by FIELDSYNC_* environment variables. A .env file next to the config
is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the configuration file")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Do not contact the server")

	cmd.AddCommand(
		newInitCmd(opts),
		newSyncCmd(opts),
		newPendingCmd(opts),
		newListCmd(opts),
		newGetCmd(opts),
		newConflictsCmd(opts),
		newServeCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

func marshalJSONOrFallback(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		return string(data) + "\n"
	}

	fallback, fallbackErr := json.Marshal(map[string]string{
		"error": "failed to marshal JSON output",
	})
	if fallbackErr != nil {
		return "{}\n"
	}
	return string(fallback) + "\n"
}

func printJSON(w io.Writer, v any) {
	fmt.Fprint(w, marshalJSONOrFallback(v))
}
