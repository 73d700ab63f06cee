package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/config"
	"github.com/ammar0144/cascade4go/pkg/repository"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how a delete of each model would cascade",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&modelName, "model", "m", "", "Only show this model (name or table)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executePlan(cmd.OutOrStdout(), cfg, modelName)
}

// executePlan writes the cascade plan of every model of the schema, or of
// the named one only.
func executePlan(out io.Writer, cfg *config.Config, name string) error {
	models, err := cascade.LoadSchemaFile(cfg.Schema)
	if err != nil {
		return err
	}

	p := repository.NewCascade(repository.WithCascadeConfig(&cfg.Cascade))
	if err := p.RegisterModel(models...); err != nil {
		return err
	}

	selected := models
	if name != "" {
		m, err := findModel(models, name)
		if err != nil {
			return err
		}
		selected = []*cascade.Model{m}
	}

	for _, m := range selected {
		decisions, err := p.Plan(m.TableName())
		if err != nil {
			return err
		}
		printPlan(out, m, decisions)
	}
	return nil
}

func printPlan(w io.Writer, m *cascade.Model, decisions []cascade.Decision) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	bold.Fprintf(w, "%s", m.Name)
	cyan.Fprintf(w, " (%s)\n", m.TableName())
	if len(decisions) == 0 {
		fmt.Fprintln(w, "  no relations")
		return
	}
	for _, d := range decisions {
		fmt.Fprintf(w, "  %s\n", decisionLine(d))
	}
	fmt.Fprintln(w)
}

// decisionLine renders one relation of a plan.
func decisionLine(d cascade.Decision) string {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	var status string
	switch {
	case d.Cascades():
		status = green.Sprint("cascade")
	case !d.Eligible:
		status = yellow.Sprint("skip (not enabled)")
	default:
		status = red.Sprint("skip (no handler)")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s", d.Relation, d.Type)
	if d.Target != "" {
		fmt.Fprintf(&b, " -> %-16s", d.Target)
	}
	b.WriteString(" ")
	b.WriteString(status)
	return b.String()
}
