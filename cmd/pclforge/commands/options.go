package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOptionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the recognized recipe options",
		Long: `List every option the PCL recipe recognizes with its kind, default and
description, followed by the exclusive groups and the options accepted and
ignored for compatibility.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.recipe(nil)

			if a.settings.JSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"recipe":    r.Name,
					"version":   r.Version,
					"options":   r.Options,
					"groups":    r.Groups,
					"ignorable": r.Ignorable,
				})
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "OPTION\tKIND\tDEFAULT\tDESCRIPTION")
			for _, o := range r.Options {
				kind := string(o.Kind)
				if len(o.Members) > 0 {
					kind += "(" + strings.Join(o.Members, "|") + ")"
				}
				def := o.Default
				if def == "" {
					def = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Name, kind, def, o.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			for _, g := range r.Groups {
				fmt.Fprintf(a.out, "\nexclusive %s: %s\n", g.Name, strings.Join(g.Members, ", "))
			}
			if len(r.Ignorable) > 0 {
				fmt.Fprintf(a.out, "ignored: %s\n", strings.Join(r.Ignorable, ", "))
			}
			return nil
		},
	}
}
