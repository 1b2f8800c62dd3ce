package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"wildtrack/pkg/domain"
)

func newKindsCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List entity kinds and their attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			type field struct {
				Name     string   `json:"name"`
				Type     string   `json:"type"`
				Required bool     `json:"required,omitempty"`
				Enum     []string `json:"enum,omitempty"`
			}
			out := make(map[domain.Kind][]field, len(domain.Kinds()))
			for _, kind := range domain.Kinds() {
				schema, err := domain.SchemaFor(kind)
				if err != nil {
					return err
				}
				for _, f := range schema.Fields {
					out[kind] = append(out[kind], field{Name: f.Name, Type: string(f.Type), Required: f.Required, Enum: f.Enum})
				}
			}
			return app.print(out)
		},
	}
}

func newCreateCmd(app *cli) *cobra.Command {
	var set []string
	cmd := &cobra.Command{
		Use:     "create <kind> --set key=value...",
		Short:   "Create a record",
		Example: `  wildtrack create meal --set meal="Meal Name" --set cuisine=Thai --set price=42 --set difficulty=LOW`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, schema, err := kindArg(args[0])
			if err != nil {
				return err
			}
			attrs, err := parseAssignments(schema, set)
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			created, res, err := svc.Create(cmd.Context(), kind, attrs)
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(created)
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "attribute assignment key=value (repeatable)")
	return cmd
}

func newGetCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _, err := kindArg(args[0])
			if err != nil {
				return err
			}
			id, err := idArg(kind, args[1])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			e, err := svc.Get(cmd.Context(), kind, id)
			if err != nil {
				return err
			}
			return app.print(e)
		},
	}
}

func newListCmd(app *cli) *cobra.Command {
	var where, lo, hi []string
	cmd := &cobra.Command{
		Use:     "list <kind>",
		Short:   "List live records in creation order",
		Example: `  wildtrack list habitat --where geographic_area=North --min size=10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, schema, err := kindArg(args[0])
			if err != nil {
				return err
			}
			filter, err := parseFilter(schema, where, lo, hi)
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context(), kind, filter)
			if err != nil {
				return err
			}
			return app.print(list)
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "equality constraint key=value (repeatable)")
	cmd.Flags().StringArrayVar(&lo, "min", nil, "inclusive lower bound key=number (repeatable)")
	cmd.Flags().StringArrayVar(&hi, "max", nil, "inclusive upper bound key=number (repeatable)")
	return cmd
}

func newUpdateCmd(app *cli) *cobra.Command {
	var set, unset []string
	cmd := &cobra.Command{
		Use:   "update <kind> <id> --set key=value...",
		Short: "Update attributes of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, schema, err := kindArg(args[0])
			if err != nil {
				return err
			}
			id, err := idArg(kind, args[1])
			if err != nil {
				return err
			}
			patch, err := parseAssignments(schema, set)
			if err != nil {
				return err
			}
			for _, name := range unset {
				patch[name] = nil
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			updated, res, err := svc.Update(cmd.Context(), kind, id, patch)
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(updated)
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "attribute assignment key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "optional attribute to clear (repeatable)")
	return cmd
}

func newRemoveCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <kind> <id>",
		Short: "Remove a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _, err := kindArg(args[0])
			if err != nil {
				return err
			}
			id, err := idArg(kind, args[1])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Remove(cmd.Context(), kind, id)
			if err != nil {
				return err
			}
			app.warn(res)
			fmt.Fprintf(app.stdout, "removed %s %d\n", kind, id)
			return nil
		},
	}
}

func kindArg(raw string) (domain.Kind, domain.Schema, error) {
	kind, err := domain.ParseKind(raw)
	if err != nil {
		return "", domain.Schema{}, err
	}
	schema, err := domain.SchemaFor(kind)
	return kind, schema, err
}

func idArg(kind domain.Kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Kind: kind, Field: "id", Reason: fmt.Sprintf("must be a positive integer, got %q", raw)}
	}
	return id, nil
}

func splitPair(kind domain.Kind, pair string) (string, string, error) {
	name, value, ok := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", domain.ValidationError{Kind: kind, Reason: fmt.Sprintf("expected key=value, got %q", pair)}
	}
	return name, value, nil
}

// parseAssignments converts key=value pairs into typed attributes. The
// reserved "id" key selects an explicit id on create.
func parseAssignments(schema domain.Schema, pairs []string) (domain.Attributes, error) {
	attrs := make(domain.Attributes, len(pairs))
	for _, pair := range pairs {
		name, raw, err := splitPair(schema.Kind, pair)
		if err != nil {
			return nil, err
		}
		if name == "id" {
			id, err := idArg(schema.Kind, raw)
			if err != nil {
				return nil, err
			}
			attrs[name] = id
			continue
		}
		v, err := schema.Parse(name, raw)
		if err != nil {
			return nil, err
		}
		attrs[name] = v
	}
	return attrs, nil
}

func parseFilter(schema domain.Schema, where, lo, hi []string) (domain.Filter, error) {
	f := domain.Filter{}
	for _, pair := range where {
		name, raw, err := splitPair(schema.Kind, pair)
		if err != nil {
			return domain.Filter{}, err
		}
		v, err := schema.Parse(name, raw)
		if err != nil {
			return domain.Filter{}, err
		}
		f = f.Eq(name, v)
	}
	bound := func(pairs []string, apply func(domain.Filter, string, float64) domain.Filter) error {
		for _, pair := range pairs {
			name, raw, err := splitPair(schema.Kind, pair)
			if err != nil {
				return err
			}
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return domain.ValidationError{Kind: schema.Kind, Field: name, Reason: fmt.Sprintf("bound must be a number, got %q", raw)}
			}
			f = apply(f, name, n)
		}
		return nil
	}
	if err := bound(lo, domain.Filter.AtLeast); err != nil {
		return domain.Filter{}, err
	}
	if err := bound(hi, domain.Filter.AtMost); err != nil {
		return domain.Filter{}, err
	}
	return f, nil
}
