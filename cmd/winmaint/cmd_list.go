package main

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"winmaint/internal/repository"
	"winmaint/internal/runner"
	"winmaint/internal/script"
)

type listFilter struct {
	category  string
	safety    string
	osVersion string
}

func (f listFilter) apply(scripts []*script.Script) ([]*script.Script, error) {
	var v *semver.Version
	if f.osVersion != "" {
		var err error
		if v, err = semver.NewVersion(f.osVersion); err != nil {
			return nil, fmt.Errorf("invalid --os-version %q: %w", f.osVersion, err)
		}
	}
	out := scripts[:0:0]
	for _, s := range scripts {
		if f.category != "" && !strings.EqualFold(s.Category.Name, f.category) {
			continue
		}
		if f.safety != "" && !strings.EqualFold(s.SafetyLevel.Name, f.safety) {
			continue
		}
		if v != nil && !s.AppliesTo(v) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func newListCmd(load loader) *cobra.Command {
	var f listFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available scripts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			scripts, err := f.apply(a.scripts.Scripts())
			if err != nil {
				return err
			}

			var est runner.Estimator
			if db, err := a.openStore(); err != nil {
				a.logger.Warn("history unavailable, estimates use script metadata only", "err", err)
			} else {
				est = db
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Category", "Safety", "Impact", "Actions", "Estimate", "Origin"})
			table.SetBorder(false)
			table.SetCenterSeparator("")
			table.SetAutoWrapText(false)
			for _, s := range scripts {
				caps := make([]string, 0, len(s.Actions))
				for _, c := range s.Capabilities() {
					caps = append(caps, string(c))
				}
				table.Append([]string{
					s.Name(a.cfg.Execution.Language),
					s.Category.Name,
					s.SafetyLevel.Name,
					s.Impact.Name,
					strings.Join(caps, ","),
					runner.EstimateScripts([]*script.Script{s}, est).String(),
					origin(s),
				})
			}
			table.SetFooter([]string{fmt.Sprintf("Total %d", len(scripts)), "", "", "", "", "", ""})
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.category, "category", "", "only scripts in this category")
	cmd.Flags().StringVar(&f.safety, "safety", "", "only scripts with this safety level")
	cmd.Flags().StringVar(&f.osVersion, "os-version", "", "only scripts that apply to this OS version (e.g. 10.0)")
	return cmd
}

func origin(s *script.Script) string {
	if strings.HasPrefix(s.Source, repository.EmbeddedScheme) {
		return "builtin"
	}
	return "user"
}
