// Package cmd provides CLI commands for the penf-crm tool.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/penf-crm/config"
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/guard"
	"github.com/otherjamesbrown/penf-crm/pkg/service"
)

// CRMCommandDeps holds the dependencies for the contact and deal commands.
type CRMCommandDeps struct {
	Config      *config.CLIConfig
	LoadConfig  func() (*config.CLIConfig, error)
	OpenService func(ctx context.Context, cfg *config.CLIConfig) (*service.Service, func(), error)

	In  io.Reader
	Out io.Writer
	// Interactive reports whether a confirmation prompt can be shown.
	Interactive func() bool
}

// DefaultCRMDeps returns the default dependencies for production use.
func DefaultCRMDeps() *CRMCommandDeps {
	return &CRMCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenService: OpenService,
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

func (d *CRMCommandDeps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// crmSession is a loaded config plus an open service for one command run.
type crmSession struct {
	cfg    *config.CLIConfig
	svc    *service.Service
	ctx    context.Context
	out    io.Writer
	format config.OutputFormat
	close  func()
}

// open loads config, applies the command timeout and opens the service.
func (d *CRMCommandDeps) open(cmd *cobra.Command) (*crmSession, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	d.Config = cfg

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	svc, closer, err := d.OpenService(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	return &crmSession{
		cfg:    cfg,
		svc:    svc,
		ctx:    ctx,
		out:    d.out(),
		format: cfg.OutputFormat,
		close: func() {
			if closer != nil {
				closer()
			}
			cancel()
		},
	}, nil
}

// confirm asks the user before a destructive action. Without a terminal
// the caller must pass --yes.
func (d *CRMCommandDeps) confirm(prompt string) error {
	if d.Interactive == nil || !d.Interactive() {
		return fmt.Errorf("%w: refusing to continue without --yes in a non-interactive session", crmerrors.ErrValidation)
	}

	fmt.Fprintf(d.out(), "%s [y/N]: ", prompt)
	in := d.In
	if in == nil {
		in = os.Stdin
	}
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

var errAborted = errors.New("aborted")

var (
	strongColor   = color.New(color.FgRed, color.Bold)
	possibleColor = color.New(color.FgYellow)
	clearColor    = color.New(color.FgGreen)
	labelColor    = color.New(color.Bold)
)

// writeCheckText prints a duplicate check result.
func writeCheckText(w io.Writer, res *dedup.Result) error {
	switch res.SuggestedAction {
	case dedup.ActionMerge:
		strongColor.Fprintln(w, res.Message)
	case dedup.ActionUpdate:
		possibleColor.Fprintln(w, res.Message)
	default:
		clearColor.Fprintln(w, res.Message)
	}
	if len(res.Matches) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-38s %-30s %-10s %s\n", "ID", "NAME", "SCORE", "REASON")
	for _, m := range res.Matches {
		fmt.Fprintf(w, "%-38s %-30s %-10.2f %s\n", m.CandidateID, truncate(orDash(m.DisplayName()), 30), m.Similarity, m.Reason)
	}
	fmt.Fprintf(w, "\nSuggested action: %s\n", res.SuggestedAction)
	return nil
}

// reportError adds colour and a hint to errors the user can act on, and
// returns err for cobra to print.
func reportError(w io.Writer, err error) error {
	var conflict *guard.DuplicateConflictError
	switch {
	case errors.As(err, &conflict):
		strongColor.Fprintln(w, conflict.Message)
		if top, ok := conflict.Top(); ok {
			fmt.Fprintf(w, "  Existing %s ID: %s (merge into it with: penf-crm %s merge <source-id> %s)\n",
				conflict.Entity, top.CandidateID, conflict.Entity, top.CandidateID)
		}
	case crmerrors.IsSchemaSkew(err), crmerrors.IsConflict(err):
		possibleColor.Fprintf(w, "  Hint: %s\n", crmerrors.GetSuggestedAction(crmerrors.KindOf(err)))
	}
	return err
}

// writeCreateText prints a guarded create's message, warning highlighted.
func writeCreateText(w io.Writer, message, warning string) error {
	if warning == "" {
		clearColor.Fprintln(w, message)
		return nil
	}
	clearColor.Fprintln(w, strings.TrimSpace(strings.SplitN(message, "Warning:", 2)[0]))
	possibleColor.Fprintf(w, "Warning: %s\n", warning)
	if strings.Contains(message, guard.TagsUnavailableNote) {
		fmt.Fprintln(w, guard.TagsUnavailableNote)
	}
	return nil
}
