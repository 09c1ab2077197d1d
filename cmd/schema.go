package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/config"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

func NewSchemaCmd() *cobra.Command {
	var record bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for the config file or a session record",
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := config.Schema
			if record {
				gen = sessions.RecordSchema
			}
			data, err := gen()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&record, "record", false, "Print the session record schema")
	return cmd
}
