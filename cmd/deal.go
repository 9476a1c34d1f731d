package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/merge"
)

const closeDateLayout = "2006-01-02"

type dealFlags struct {
	name      string
	account   string
	stage     string
	pipeline  string
	amount    float64
	status    string
	closeDate string
	tags      []string
}

func (f *dealFlags) bind(cmd *cobra.Command, withRecordFields bool) {
	cmd.Flags().StringVar(&f.name, "name", "", "Deal name")
	cmd.Flags().StringVar(&f.account, "account", "", "Account ID")
	cmd.Flags().StringVar(&f.stage, "stage", "", "Pipeline stage")
	if withRecordFields {
		cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "Pipeline ID")
		cmd.Flags().Float64Var(&f.amount, "amount", 0, "Deal amount")
		cmd.Flags().StringVar(&f.status, "status", "", "Status: open, won or lost")
		cmd.Flags().StringVar(&f.closeDate, "close-date", "", "Expected close date (YYYY-MM-DD)")
		cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable)")
	}
	_ = cmd.MarkFlagRequired("name")
}

func (f *dealFlags) deal(cmd *cobra.Command) (crm.Deal, error) {
	d := crm.Deal{
		Name:       f.name,
		AccountID:  f.account,
		Stage:      f.stage,
		PipelineID: f.pipeline,
		Status:     crm.DealStatus(f.status),
		Tags:       f.tags,
	}
	if cmd.Flags().Changed("amount") {
		amount := f.amount
		d.Amount = &amount
	}
	if f.closeDate != "" {
		t, err := time.Parse(closeDateLayout, f.closeDate)
		if err != nil {
			return d, fmt.Errorf("%w: --close-date %q must be YYYY-MM-DD", crmerrors.ErrValidation, f.closeDate)
		}
		d.CloseDate = &t
	}
	return d, nil
}

// NewDealCommand creates the deal command with all subcommands.
func NewDealCommand(deps *CRMCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultCRMDeps()
	}

	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Check, create and merge deals",
		Long: `Check, create and merge CRM deals.

Deals are matched by case-insensitive name. The same name within the same
account is a strong match and blocks creation; the same name elsewhere is a
possible match, slightly stronger when the stage also matches. Merging deals
adds their amounts.`,
		Example: `  penf-crm deal check --name "Enterprise License" --account acct-1
  penf-crm deal create --name "Enterprise License" --amount 30000 --stage proposal
  penf-crm deal merge <source-id> <target-id> --yes
  penf-crm deal list --tag renewal --output json`,
	}

	cmd.AddCommand(newDealCheckCommand(deps))
	cmd.AddCommand(newDealCreateCommand(deps))
	cmd.AddCommand(newDealMergeCommand(deps))
	cmd.AddCommand(newDealMergePreviewCommand(deps))
	cmd.AddCommand(newDealListCommand(deps))

	return cmd
}

func newDealCheckCommand(deps *CRMCommandDeps) *cobra.Command {
	var f dealFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Look for existing deals matching the given fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.deal(cmd)
			if err != nil {
				return err
			}

			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.CheckDuplicateDeal(s.ctx, dedup.DealCandidateFrom(d))
			if err != nil {
				return fmt.Errorf("checking for duplicates: %w", err)
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				return writeCheckText(w, res)
			})
		},
	}
	f.bind(cmd, false)
	return cmd
}

func newDealCreateCommand(deps *CRMCommandDeps) *cobra.Command {
	var f dealFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deal unless it duplicates an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.deal(cmd)
			if err != nil {
				return err
			}

			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.CreateDeal(s.ctx, d)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err)
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				return writeCreateText(w, res.Message, res.Warning)
			})
		},
	}
	f.bind(cmd, true)
	return cmd
}

func newDealMergeCommand(deps *CRMCommandDeps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "merge <source-id> <target-id>",
		Short: "Merge the source deal into the target and delete the source",
		Long: `Merge the source deal into the target deal.

Empty target fields are filled from the source, amounts are added, tags are
combined, and interactions referencing the source move to the target. The
source is then deleted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if err := deps.confirm(fmt.Sprintf("Merge deal %s into %s? The source will be deleted.", args[0], args[1])); err != nil {
					return err
				}
			}

			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res := s.svc.MergeDeals(s.ctx, args[0], args[1])
			if !res.Success {
				return reportError(cmd.ErrOrStderr(), res.Err())
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				if err := writeMergeText(w, "deal", args[0], res.MergedDeal, res.MovedInteractions, res.SourceDeleted); err != nil {
					return err
				}
				fmt.Fprintf(w, "  Amount:             %s\n", formatAmount(res.MergedDeal.Amount))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newDealMergePreviewCommand(deps *CRMCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-preview <source-id> <target-id>",
		Short: "Show the result of a deal merge without writing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.PreviewDealMerge(s.ctx, args[0], args[1])
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err)
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				return writeDealPreviewText(w, res)
			})
		},
	}
}

func newDealListCommand(deps *CRMCommandDeps) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals carrying any of the given tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			deals, err := s.svc.DealsByTags(s.ctx, tags)
			if err != nil {
				return fmt.Errorf("listing deals: %w", err)
			}
			return writeOutput(s.out, s.format, deals, func(w io.Writer) error {
				return writeDealsText(w, deals)
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to match (repeatable)")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func formatAmount(a *float64) string {
	if a == nil {
		return "-"
	}
	return strconv.FormatFloat(*a, 'f', 2, 64)
}

func formatCloseDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(closeDateLayout)
}

func writeDealsText(w io.Writer, deals []crm.Deal) error {
	if len(deals) == 0 {
		fmt.Fprintln(w, "No deals found.")
		return nil
	}
	fmt.Fprintf(w, "%-38s %-30s %-14s %-12s %s\n", "ID", "NAME", "AMOUNT", "STAGE", "TAGS")
	for _, d := range deals {
		fmt.Fprintf(w, "%-38s %-30s %-14s %-12s %s\n", d.ID, truncate(d.DisplayName(), 30), formatAmount(d.Amount), truncate(orDash(d.Stage), 12), joinOrDash(d.Tags))
	}
	fmt.Fprintf(w, "\n%d deal(s)\n", len(deals))
	return nil
}

func writeDealText(w io.Writer, d crm.Deal) {
	rows := []struct{ label, value string }{
		{"  Name:       ", orDash(d.DisplayName())},
		{"  Account:    ", orDash(d.AccountID)},
		{"  Pipeline:   ", orDash(d.PipelineID)},
		{"  Stage:      ", orDash(d.Stage)},
		{"  Status:     ", orDash(string(d.Status))},
		{"  Amount:     ", formatAmount(d.Amount)},
		{"  Close date: ", formatCloseDate(d.CloseDate)},
		{"  Tags:       ", joinOrDash(d.Tags)},
	}
	for _, r := range rows {
		labelColor.Fprint(w, r.label)
		fmt.Fprintln(w, r.value)
	}
}

func writeDealPreviewText(w io.Writer, res *merge.DealMerge) error {
	fmt.Fprintf(w, "Source %s (will be deleted):\n", res.Source.ID)
	writeDealText(w, res.Source)
	fmt.Fprintf(w, "\nTarget %s:\n", res.Target.ID)
	writeDealText(w, res.Target)
	fmt.Fprintln(w, "\nAfter merge:")
	writeDealText(w, res.Merged)
	fmt.Fprintf(w, "\n%d interaction(s) will move to the target.\n", res.MovedInteractions)
	return nil
}
