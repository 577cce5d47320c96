package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/model"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/storage"
)

func newExecCmd(a *app) *cobra.Command {
	var binds []string
	cmd := &cobra.Command{
		Use:   "exec <update|delete> <entity> <fragment>",
		Short: "Run a bulk update or delete over an entity type's shards",
		Long: `Run a bulk statement over the shards of an entity type and print the total
number of affected rows.

For update the fragment follows SET, for delete it follows WHERE. Named binds
are written :name and given with --bind name=value. When the binds include the
entity's shard key only the shards owning that value are touched.`,
		Example: `  strata exec update Order "status = :status WHERE user_id = :user_id" \
      --bind status=paid --bind user_id=1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, entity, fragment := args[0], args[1], args[2]
			if op != "update" && op != "delete" {
				return fmt.Errorf("unknown operation %q, want update or delete", op)
			}
			bind, err := parseBinds(binds)
			if err != nil {
				return err
			}
			r, err := a.shards.Resolver(entity)
			if err != nil {
				return err
			}

			pool, err := a.openPool()
			if err != nil {
				return err
			}
			defer a.closePool()

			m, err := model.New(model.Type{
				Definition: schema.Definition{Name: entity, Static: true},
				Shards:     r.Map(),
			}, pool, model.WithLogger(a.logger), model.WithMetrics(a.metrics))
			if err != nil {
				return err
			}

			var n int64
			if op == "update" {
				n, err = m.UpdateBySQL(cmd.Context(), fragment, bind)
			} else {
				n, err = m.DeleteBySQL(cmd.Context(), fragment, bind)
			}
			if err != nil && !errors.IsKind(err, errors.PartialFanOut) {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), map[string]int64{"affected": n}); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&binds, "bind", nil, "named bind value as name=value (repeatable)")
	return cmd
}

// parseBinds turns name=value pairs into a bind map. Values stay strings; the
// backend converts them to the column types.
func parseBinds(pairs []string) (storage.Bind, error) {
	bind := make(storage.Bind, len(pairs))
	for _, p := range pairs {
		name, v, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid bind %q, want name=value", p)
		}
		bind[strings.TrimPrefix(name, ":")] = v
	}
	return bind, nil
}
