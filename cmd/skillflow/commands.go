package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/agent/activation"
	agentctx "github.com/BaSui01/skillflow/agent/context"
	"github.com/BaSui01/skillflow/agent/discovery"
	"github.com/BaSui01/skillflow/agent/skills"
)

// =============================================================================
// 🖨️ 输出
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit 以 JSON 或文本输出门面响应. 失败时返回响应中的错误，
// JSON 模式下失败的响应同样完整输出.
func emit[T any](cmd *cobra.Command, opts *globalOptions, resp skillflow.Response[T], text func(io.Writer, T)) error {
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := printJSON(out, resp); err != nil {
			return err
		}
		return resp.Err()
	}
	if !resp.Success {
		return resp.Err()
	}
	text(out, resp.Data)
	return nil
}

// =============================================================================
// 📚 list / search / suggest
// =============================================================================

func newListCmd(opts *globalOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" && !skills.SkillStatus(status).Valid() {
				return fmt.Errorf("invalid --status %q (active, inactive, error)", status)
			}
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			resp := sys.GetAllSkills()
			if status != "" && resp.Success {
				filtered := resp.Data[:0:0]
				for _, s := range resp.Data {
					if string(s.Status) == status {
						filtered = append(filtered, s)
					}
				}
				resp.Data = filtered
			}
			return emit(cmd, opts, resp, func(w io.Writer, list []*skills.Skill) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tDEPENDENCIES\tDESCRIPTION")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						s.Name(), s.Metadata.Version, s.Status,
						joinOrDash(s.SkillDependencies()), s.Metadata.Description)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show skills with this status")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var exact bool
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Rank skills against free-text input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			resp := sys.SearchSkills(strings.Join(args, " "), !exact)
			return emit(cmd, opts, resp, func(w io.Writer, results []*discovery.MatchResult) {
				if len(results) == 0 {
					fmt.Fprintln(w, "No matching skills.")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SKILL\tSCORE\tMATCHED")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%.2f\t%s\n", r.Skill.Name(), r.Score, strings.Join(r.MatchedKeywords, ", "))
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&exact, "exact", false, "disable fuzzy matching")
	return cmd
}

func newSuggestCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest <partial>",
		Short: "Complete a partial keyword from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			return emit(cmd, opts, sys.SuggestKeywords(args[0], limit), func(w io.Writer, keywords []string) {
				for _, kw := range keywords {
					fmt.Fprintln(w, kw)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of suggestions")
	return cmd
}

// =============================================================================
// ⚡ activate / chain
// =============================================================================

func newActivateCmd(opts *globalOptions) *cobra.Command {
	var (
		keywords  string
		auto      bool
		showChain bool
		task      string
	)
	cmd := &cobra.Command{
		Use:   "activate [skill...]",
		Short: "Resolve and activate skills with their dependencies",
		Long: `按名称或关键词激活技能. 依赖按拓扑顺序先于依赖方激活,
整个集合受 performance.max_active_skills 限制.

示例:
  skillflow activate app
  skillflow activate --keywords "please review this react component" --auto`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (keywords == "") {
				return fmt.Errorf("pass either skill names or --keywords")
			}
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			var resp skillflow.Response[*activation.ActivationResult]
			if keywords != "" {
				if !cmd.Flags().Changed("auto") {
					auto = sys.Config().Activation.AutoActivateOnExactMatch
				}
				resp = sys.ActivateByKeywords(cmd.Context(), keywords, auto)
			} else {
				resp = sys.ActivateMultipleSkills(cmd.Context(), args)
			}

			if err := emit(cmd, opts, resp, printActivation); err != nil {
				return err
			}
			if showChain && len(sys.ActiveSkillNames()) > 0 {
				return emit(cmd, opts, sys.BuildChainForActiveSkills(task), printChain)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&keywords, "keywords", "k", "", "activate by matching free text")
	cmd.Flags().BoolVar(&auto, "auto", false, "activate the best keyword match without asking")
	cmd.Flags().BoolVar(&showChain, "chain", false, "print the execution chain for the active set")
	cmd.Flags().StringVar(&task, "task", "", "task description attached to the chain")
	return cmd
}

func newChainCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <skill>",
		Short: "Print the dependency-first execution chain for a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()
			return emit(cmd, opts, sys.BuildChainForSkill(args[0]), printChain)
		},
	}
}

func printActivation(w io.Writer, r *activation.ActivationResult) {
	if r.RequiresUserSelection {
		fmt.Fprintln(w, "Several skills match, pick one:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  %s (%.2f)\n", s.Skill.Name(), s.Score)
		}
		return
	}
	if r.AlreadyActive {
		fmt.Fprintln(w, "Already active.")
	}
	for _, s := range r.Activated {
		fmt.Fprintf(w, "activated  %s\n", s.Name())
	}
	for _, s := range r.Dependencies {
		fmt.Fprintf(w, "dependency %s\n", s.Name())
	}
}

func printChain(w io.Writer, c *activation.SkillChain) {
	if c.Task != "" {
		fmt.Fprintf(w, "Task: %s\n", c.Task)
	}
	for _, step := range c.Steps {
		fmt.Fprintf(w, "%d. %s", step.StepNumber, step.Skill)
		if len(step.DependsOn) > 0 {
			fmt.Fprintf(w, " (after %s)", strings.Join(step.DependsOn, ", "))
		}
		fmt.Fprintln(w)
	}
	for _, p := range c.RequiredPermissions {
		fmt.Fprintf(w, "permission: %s %s\n", p.Type, p.Scope)
	}
	for _, warning := range c.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

// =============================================================================
// 🏗️ context
// =============================================================================

func newContextCmd(opts *globalOptions) *cobra.Command {
	var (
		maxTokens  int
		optimizeTo int
		noExamples bool
		noRefs     bool
		stats      bool
	)
	cmd := &cobra.Command{
		Use:   "context <skill...>",
		Short: "Activate skills and print the assembled context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			if resp := sys.ActivateMultipleSkills(cmd.Context(), args); !resp.Success {
				return resp.Err()
			}

			buildOpts := agentctx.DefaultBuildOptions()
			buildOpts.MaxTokens = maxTokens
			buildOpts.IncludeExamples = !noExamples
			buildOpts.IncludeReferences = !noRefs

			built := sys.BuildContext(cmd.Context(), buildOpts)
			if optimizeTo > 0 && built.Success {
				optimized := sys.OptimizeContext(cmd.Context(), built.Data, optimizeTo)
				if !optimized.Success {
					return optimized.Err()
				}
				built.Data = optimized.Data.Optimized
			}

			return emit(cmd, opts, built, func(w io.Writer, c *agentctx.AIContext) {
				if stats {
					fmt.Fprintf(cmd.ErrOrStderr(), "skills=%s tokens=%d truncated=%t\n",
						strings.Join(c.Metadata.SkillNames, ","), c.TotalTokens, c.Truncated)
				}
				fmt.Fprintln(w, c.SystemPrompt)
			})
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget, 0 uses performance.max_context_tokens")
	cmd.Flags().IntVar(&optimizeTo, "optimize", 0, "compress the built context to this many tokens")
	cmd.Flags().BoolVar(&noExamples, "no-examples", false, "drop example sections")
	cmd.Flags().BoolVar(&noRefs, "no-references", false, "drop reference sections")
	cmd.Flags().BoolVar(&stats, "stats", false, "print token statistics to stderr")
	return cmd
}

// =============================================================================
// ✅ validate / sync
// =============================================================================

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <skill-dir>",
		Short: "Validate a single skill directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			// 校验不读写注册表
			cfg.Persistence.Enabled = false
			sys, err := skillflow.New(cfg, skillflow.WithLogger(opts.cliLogger()))
			if err != nil {
				return err
			}
			defer sys.Close()

			resp := sys.ValidateSkill(cmd.Context(), args[0])
			if !opts.jsonOutput {
				printValidation(cmd.OutOrStdout(), args[0], resp.Data)
			}
			return emit(cmd, opts, resp, func(io.Writer, skills.ValidationResult) {})
		},
	}
}

func printValidation(w io.Writer, dir string, r skills.ValidationResult) {
	for _, issue := range r.Errors {
		fmt.Fprintf(w, "error   %s: %s\n", issue.Field, issue.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(w, "warning %s: %s\n", issue.Field, issue.Message)
	}
	if r.Valid {
		fmt.Fprintf(w, "%s: valid\n", dir)
	}
}

func newSyncCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rescan the skills directory and save the registry snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sys, _, err := opts.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer sys.Close()

			refreshed := sys.Refresh(cmd.Context())
			if !refreshed.Success {
				return refreshed.Err()
			}
			return emit(cmd, opts, sys.SaveRegistry(cmd.Context()), func(w io.Writer, r *skillflow.SaveResult) {
				d := refreshed.Data
				fmt.Fprintf(w, "added=%d updated=%d removed=%d failures=%d\n",
					len(d.Added), len(d.Updated), len(d.Removed), d.Failures)
				fmt.Fprintf(w, "saved %d skills to %s\n", r.Skills, r.Backend)
			})
		},
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
