package main

import (
	"github.com/spf13/cobra"

	"github.com/dreamware/strata/internal/shard"
)

func newShardsCmd(a *app) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "shards <entity>",
		Short: "Print the shards an entity type's statements are routed to",
		Long: `Print the shards of an entity type, grouped by connection.

Without --key every shard is listed, as for a bulk statement without a shard
key. Each --key value lists only the shards owning it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.shards.Resolver(args[0])
			if err != nil {
				return err
			}
			groups := r.AllShards()
			if len(keys) > 0 {
				values := make([]any, len(keys))
				for i, k := range keys {
					values[i] = k
				}
				if groups, err = r.MultipleShards(values); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), shardsOutput(r, groups))
		},
	}
	cmd.Flags().StringArrayVar(&keys, "key", nil, "shard-key value (repeatable)")
	return cmd
}

type groupOutput struct {
	Connection string   `json:"connection"`
	Tables     []string `json:"tables"`
}

type shardsResult struct {
	Key    string        `json:"key,omitempty"`
	Groups []groupOutput `json:"groups"`
}

func shardsOutput(r *shard.Resolver, groups shard.Groups) shardsResult {
	out := shardsResult{Key: r.Key(), Groups: make([]groupOutput, 0, len(groups))}
	for _, g := range groups {
		out.Groups = append(out.Groups, groupOutput{Connection: g.Connection, Tables: g.Tables})
	}
	return out
}
