package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rnwolfe/hooksched/internal/plan"
	"github.com/rnwolfe/hooksched/internal/ui"
)

var (
	planJSON bool
	planSet  = contextFlag{}
)

var planCmd = &cobra.Command{
	Use:   "plan <trigger> [hook...]",
	Short: "Show the batches a trigger would run",
	Long: `Score, order and optimize the hooks for a trigger without running them.

With no hook names every active hook registered for the trigger is planned.

Examples:
  hooksched plan deploy
  hooksched plan deploy build test --set systemLoad=85
  hooksched plan user_prompt --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	addContextFlag(planCmd.Flags(), planSet)
}

func runPlan(_ *cobra.Command, args []string) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	trigger := args[0]
	p, err := a.sys.CalculateExecutionOrder(trigger, args[1:], planSet.context(trigger))
	if err != nil {
		return err
	}
	if planJSON {
		return printJSON(p)
	}
	renderPlan(p)
	return nil
}

func renderPlan(p *plan.Plan) {
	fmt.Println()
	fmt.Printf("  %s %s  %s\n", ui.Title.Render("Plan"), ui.Accent.Render(p.Trigger), ui.Muted.Render(p.ID))
	fmt.Println()

	if p.Len() == 0 {
		fmt.Println(ui.Muted.Render("  No active hooks for this trigger."))
		fmt.Println()
		return
	}

	t := ui.Table{Headers: []string{"BATCH", "PHASE", "HOOK", "PRIORITY", "SCORE", "DEPENDS ON"}}
	for _, b := range p.Batches {
		for i, name := range b.Hooks {
			batch, phase := "", ""
			if i == 0 {
				batch, phase = strconv.Itoa(b.Index), string(b.Phase)
			}
			d := p.Descriptors[name]
			t.Append(batch, phase, name, priorityLabel(d.Priority), fmt.Sprintf("%.2f", p.Scores[name]), strings.Join(p.Dependencies(name), ", "))
		}
	}
	t.Render(os.Stdout, ui.TermWidth())
	fmt.Println()

	ui.Kv(ui.IconBatch+" Batches", strconv.Itoa(len(p.Batches)))
	ui.Kv(ui.IconHook+" Hooks", strconv.Itoa(p.Len()))
	ui.Kv(ui.IconClock+" Estimated", p.TotalEstimated.Round(time.Millisecond).String())

	if len(p.Unresolved) > 0 {
		names := make([]string, 0, len(p.Unresolved))
		for n := range p.Unresolved {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Println()
		for _, n := range names {
			ui.Warn(fmt.Sprintf("%s needs %s from outside this plan", n, strings.Join(p.Unresolved[n], ", ")))
		}
	}
	fmt.Println()
}
