package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	"github.com/otherjamesbrown/penf-crm/pkg/merge"
)

type contactFlags struct {
	first   string
	last    string
	email   string
	phone   string
	role    string
	account string
	tags    []string
}

func (f *contactFlags) bind(cmd *cobra.Command, withRecordFields bool) {
	cmd.Flags().StringVar(&f.first, "first", "", "First name")
	cmd.Flags().StringVar(&f.last, "last", "", "Last name")
	cmd.Flags().StringVar(&f.email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.phone, "phone", "", "Phone number (any format)")
	cmd.Flags().StringVar(&f.account, "account", "", "Account ID")
	if withRecordFields {
		cmd.Flags().StringVar(&f.role, "role", "", "Role or job title")
		cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable)")
	}
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("last")
}

func (f *contactFlags) contact() crm.Contact {
	return crm.Contact{
		FirstName: f.first,
		LastName:  f.last,
		Email:     f.email,
		Phone:     f.phone,
		Role:      f.role,
		AccountID: f.account,
		Tags:      f.tags,
	}
}

// NewContactCommand creates the contact command with all subcommands.
func NewContactCommand(deps *CRMCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultCRMDeps()
	}

	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Check, create and merge contacts",
		Long: `Check, create and merge CRM contacts.

Contacts are matched by normalized email (strongest), normalized phone, and
exact first and last name within the same account. A strong match blocks
creation; a possible match creates the contact with a warning.`,
		Example: `  # Is this person already in the CRM?
  penf-crm contact check --first Jane --last Doe --email jane@example.com

  # Create unless a duplicate exists
  penf-crm contact create --first Jane --last Doe --email jane@example.com --tag vip

  # Fold a duplicate into the record to keep
  penf-crm contact merge-preview <source-id> <target-id>
  penf-crm contact merge <source-id> <target-id> --yes`,
	}

	cmd.AddCommand(newContactCheckCommand(deps))
	cmd.AddCommand(newContactCreateCommand(deps))
	cmd.AddCommand(newContactMergeCommand(deps))
	cmd.AddCommand(newContactMergePreviewCommand(deps))
	cmd.AddCommand(newContactListCommand(deps))

	return cmd
}

func newContactCheckCommand(deps *CRMCommandDeps) *cobra.Command {
	var f contactFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Look for existing contacts matching the given fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.CheckDuplicateContact(s.ctx, dedup.ContactCandidateFrom(f.contact()))
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

func newContactCreateCommand(deps *CRMCommandDeps) *cobra.Command {
	var f contactFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contact unless it duplicates an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.CreateContact(s.ctx, f.contact())
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

func newContactMergeCommand(deps *CRMCommandDeps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "merge <source-id> <target-id>",
		Short: "Merge the source contact into the target and delete the source",
		Long: `Merge the source contact into the target contact.

Empty target fields are filled from the source, tags are combined, and every
interaction referencing the source is moved to the target. The source is then
deleted. Use merge-preview first to see the result.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if err := deps.confirm(fmt.Sprintf("Merge contact %s into %s? The source will be deleted.", args[0], args[1])); err != nil {
					return err
				}
			}

			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res := s.svc.MergeContacts(s.ctx, args[0], args[1])
			if !res.Success {
				return reportError(cmd.ErrOrStderr(), res.Err())
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				return writeMergeText(w, "contact", args[0], res.MergedContact, res.MovedInteractions, res.SourceDeleted)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newContactMergePreviewCommand(deps *CRMCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-preview <source-id> <target-id>",
		Short: "Show the result of a contact merge without writing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.PreviewContactMerge(s.ctx, args[0], args[1])
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err)
			}
			return writeOutput(s.out, s.format, res, func(w io.Writer) error {
				return writeContactPreviewText(w, res)
			})
		},
	}
}

func newContactListCommand(deps *CRMCommandDeps) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts carrying any of the given tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			contacts, err := s.svc.ContactsByTags(s.ctx, tags)
			if err != nil {
				return fmt.Errorf("listing contacts: %w", err)
			}
			return writeOutput(s.out, s.format, contacts, func(w io.Writer) error {
				return writeContactsText(w, contacts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to match (repeatable)")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func writeContactsText(w io.Writer, contacts []crm.Contact) error {
	if len(contacts) == 0 {
		fmt.Fprintln(w, "No contacts found.")
		return nil
	}
	fmt.Fprintf(w, "%-38s %-28s %-30s %s\n", "ID", "NAME", "EMAIL", "TAGS")
	for _, c := range contacts {
		fmt.Fprintf(w, "%-38s %-28s %-30s %s\n", c.ID, truncate(c.DisplayName(), 28), truncate(orDash(c.Email), 30), joinOrDash(c.Tags))
	}
	fmt.Fprintf(w, "\n%d contact(s)\n", len(contacts))
	return nil
}

func writeContactText(w io.Writer, c crm.Contact) {
	labelColor.Fprint(w, "  Name:    ")
	fmt.Fprintln(w, orDash(c.DisplayName()))
	labelColor.Fprint(w, "  Email:   ")
	fmt.Fprintln(w, orDash(c.Email))
	labelColor.Fprint(w, "  Phone:   ")
	fmt.Fprintln(w, orDash(c.Phone))
	labelColor.Fprint(w, "  Role:    ")
	fmt.Fprintln(w, orDash(c.Role))
	labelColor.Fprint(w, "  Account: ")
	fmt.Fprintln(w, orDash(c.AccountID))
	labelColor.Fprint(w, "  Tags:    ")
	fmt.Fprintln(w, joinOrDash(c.Tags))
}

func writeContactPreviewText(w io.Writer, res *merge.ContactMerge) error {
	fmt.Fprintf(w, "Source %s (will be deleted):\n", res.Source.ID)
	writeContactText(w, res.Source)
	fmt.Fprintf(w, "\nTarget %s:\n", res.Target.ID)
	writeContactText(w, res.Target)
	fmt.Fprintln(w, "\nAfter merge:")
	writeContactText(w, res.Merged)
	fmt.Fprintf(w, "\n%d interaction(s) will move to the target.\n", res.MovedInteractions)
	return nil
}

// writeMergeText prints the outcome of a merge for either entity.
func writeMergeText(w io.Writer, entity, sourceID string, merged crm.Entity, moved int64, sourceDeleted bool) error {
	clearColor.Fprintf(w, "Merged %s %s into %s (ID: %s).\n", entity, sourceID, merged.DisplayName(), merged.EntityID())
	fmt.Fprintf(w, "  Interactions moved: %d\n", moved)
	if !sourceDeleted {
		possibleColor.Fprintf(w, "  Source %s %s was kept; rerun the merge to finish it.\n", entity, sourceID)
	}
	return nil
}
