package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/ui"
)

var hookListTrigger string

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage hook manifests",
	Long:  `Hooks are declared in TOML or YAML manifests under ~/.config/hooksched/hooks/.`,
	RunE:  runHookList,
}

var hookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hooks",
	Args:  cobra.NoArgs,
	RunE:  runHookList,
}

var hookCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Scaffold a new hook manifest",
	Long: `Create a starter manifest for a hook.

Examples:
  hooksched hook create lint
  hooksched hook create notify-slack`,
	Args: cobra.ExactArgs(1),
	RunE: runHookCreate,
}

var hookShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a hook's declaration and current priority",
	Args:  cobra.ExactArgs(1),
	RunE:  runHookShow,
}

func init() {
	hookListCmd.Flags().StringVarP(&hookListTrigger, "trigger", "t", "", "Only show active hooks bound to this trigger")
	hookCmd.AddCommand(hookListCmd)
	hookCmd.AddCommand(hookCreateCmd)
	hookCmd.AddCommand(hookShowCmd)
}

func runHookList(_ *cobra.Command, _ []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	hooks := reg.All()
	if hookListTrigger != "" {
		hooks = reg.ForTrigger(hookListTrigger)
	}
	if len(hooks) == 0 {
		fmt.Println()
		fmt.Println(ui.Muted.Render("  No hooks found."))
		fmt.Println()
		fmt.Printf("  Hooks directory: %s\n", ui.Accent.Render(hook.HooksDir()))
		fmt.Println()
		fmt.Printf("  Create one: %s\n", ui.Accent.Render("hooksched hook create lint"))
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Println(ui.Title.Render("  Hooks"))
	fmt.Println()

	t := ui.Table{Headers: []string{"", "NAME", "PRIORITY", "TRIGGERS", "GROUP", "DEPENDS ON"}}
	for _, d := range hooks {
		dot := ui.Success.Render("●")
		if !d.Active() {
			dot = ui.Muted.Render("○")
		}
		t.Append(dot, d.Name, priorityLabel(d.Priority), strings.Join(d.Triggers, ", "), d.ConflictGroup, strings.Join(d.Dependencies, ", "))
	}
	t.Render(os.Stdout, ui.TermWidth())

	fmt.Println()
	fmt.Printf("  %s\n", ui.Muted.Render(fmt.Sprintf("%d hooks in %s", len(hooks), hook.HooksDir())))
	fmt.Println()
	return nil
}

func runHookCreate(_ *cobra.Command, args []string) error {
	name := args[0]

	path, err := hook.CreateManifest(name)
	if err != nil {
		return err
	}

	ui.Ok(fmt.Sprintf("Created manifest: %s", path))
	fmt.Println()
	fmt.Printf("  Edit:  %s\n", ui.Accent.Render("$EDITOR "+path))
	fmt.Printf("  Show:  %s\n", ui.Accent.Render("hooksched hook show "+name))
	fmt.Println()
	return nil
}

func runHookShow(_ *cobra.Command, args []string) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	d, err := a.reg.Hook(args[0])
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  %s %s\n", ui.IconHook, ui.Title.Render(d.Name))
	fmt.Println()
	ui.Kv("Priority", priorityLabel(d.Priority))
	ui.Kv("State", string(d.State))
	ui.Kv("Triggers", listOrDash(d.Triggers))
	ui.Kv("Depends on", listOrDash(d.Dependencies))
	ui.Kv("Provides", listOrDash(d.Provides))
	ui.Kv("Tags", tagList(d.Tags))
	if p, ok := d.DeclaredPhase(); ok {
		ui.Kv("Phase", string(p))
	}
	if d.ConflictGroup != "" {
		ui.Kv("Conflict group", d.ConflictGroup)
	}
	r := d.EffectiveResources()
	ui.Kv("Resources", fmt.Sprintf("%.0f%% cpu, %.0f MB", r.CPUPercent, r.MemoryMB))
	if d.Timeout > 0 {
		ui.Kv("Timeout", d.Timeout.String())
	}
	ui.Kv("Exec", d.Exec)
	if d.Compensate != "" {
		ui.Kv("Compensate", d.Compensate)
	}
	fmt.Println()

	if score, err := a.sys.HookPriority(d.Name, hook.NewContext("", nil)); err == nil {
		ui.Kv("Score", fmt.Sprintf("%.2f", score))
	}
	ui.Kv("Adjustment", fmt.Sprintf("%.2f", a.sys.Adjustments().Get(d.Name)))
	if st, ok := a.sys.History().Stats()[d.Name]; ok {
		ui.Kv("Runs", fmt.Sprintf("%d (%s succeeded)", st.Count, percent(st.SuccessRate)))
		ui.Kv("Latency p50/p95", fmt.Sprintf("%s / %s", ms(st.P50), ms(st.P95)))
	}
	fmt.Println()
	return nil
}

func priorityLabel(p hook.Priority) string {
	return lipgloss.NewStyle().Foreground(ui.PriorityColor(string(p))).Render(string(p))
}

func tagList(tags []string) string {
	if len(tags) == 0 {
		return ui.Muted.Render("-")
	}
	rendered := make([]string, len(tags))
	for i, t := range tags {
		rendered[i] = ui.Tag.Render(t)
	}
	return strings.Join(rendered, " ")
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return ui.Muted.Render("-")
	}
	return strings.Join(items, ", ")
}
