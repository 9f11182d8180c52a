package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/engine"
)

type probeReport struct {
	Name      string          `json:"name"`
	Severity  engine.Severity `json:"severity"`
	Check     string          `json:"check"`
	Satisfied bool            `json:"satisfied"`
	Location  string          `json:"location,omitempty"`
}

func newProbeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [requirement]...",
		Short: "Check requirements on this host",
		Long: `Run the recipe's requirement probes against this host and report which
capabilities were found, regardless of the selected options. With no
arguments every requirement is probed.`,
		Example: `  # Probe everything
  pclforge probe

  # Only CUDA
  pclforge probe cuda`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := a.recipe(nil)

			reqs := r.Requirements
			if len(args) > 0 {
				reqs = nil
				for _, name := range args {
					req, ok := r.Requirement(name)
					if !ok {
						return engine.NewConfigurationError(fmt.Sprintf("unknown requirement %q", name)).
							WithCode(engine.ErrCodeUnknownOption)
					}
					reqs = append(reqs, req)
				}
			}

			p, closeProbe, err := a.hostProbe(ctx)
			if err != nil {
				return err
			}
			defer closeProbe()

			reports := make([]probeReport, 0, len(reqs))
			for _, req := range reqs {
				res, err := p.Check(ctx, req)
				if err != nil {
					return engine.NewInternalError(fmt.Sprintf("probe %s failed", req.Name), err).
						WithCode(engine.ErrCodeProbeFailed)
				}
				reports = append(reports, probeReport{
					Name:      req.Name,
					Severity:  req.Severity,
					Check:     req.Check.String(),
					Satisfied: res.Satisfied,
					Location:  res.Location,
				})
			}

			if a.settings.JSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "REQUIREMENT\tSEVERITY\tCHECK\tRESULT")
			for _, rep := range reports {
				result := "missing"
				if rep.Satisfied {
					result = "found"
					if rep.Location != "" {
						result = rep.Location
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rep.Name, rep.Severity, rep.Check, result)
			}
			return tw.Flush()
		},
	}
	return cmd
}
