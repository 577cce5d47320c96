package main

import (
	"github.com/spf13/cobra"
)

type describeOutput struct {
	Connection    string   `json:"connection"`
	Table         string   `json:"table"`
	Attributes    []string `json:"attributes"`
	PrimaryKey    []string `json:"primary_key"`
	AutoIncrement string   `json:"auto_increment,omitempty"`
	IntTypes      []string `json:"int_types"`
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <connection> <table>",
		Short: "Print the column metadata of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.openPool()
			if err != nil {
				return err
			}
			defer a.closePool()

			p, err := pool.Provider(args[0])
			if err != nil {
				return err
			}
			meta, err := p.Describe(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), describeOutput{
				Connection:    args[0],
				Table:         args[1],
				Attributes:    meta.Attributes,
				PrimaryKey:    meta.PrimaryKey,
				AutoIncrement: meta.AutoIncrement,
				IntTypes:      meta.IntTypes,
			})
		},
	}
}
