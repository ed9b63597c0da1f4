package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NamedUserResult is printed after a named-user change request.
type NamedUserResult struct {
	ID      string `json:"id,omitempty"`
	Changed bool   `json:"changed"`
}

func (r NamedUserResult) String() string {
	switch {
	case !r.Changed:
		return "Named user unchanged"
	case r.ID == "":
		return "Named user disassociation requested"
	default:
		return fmt.Sprintf("Named user %s association requested", r.ID)
	}
}

// NewNamedUserCommand creates the named-user command group.
func NewNamedUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "named-user",
		Short: "Change the named-user association",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <id>",
		Short: "Associate the channel with a named user",
		Long: `Associate the channel with a named user.

Nothing is submitted when the id is already set. Pending named-user tag
changes are dropped because they belonged to the previous user.

Example:
  regsync named-user set alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetNamedUser(rootOpts, args[0], cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Disassociate the channel from its named user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetNamedUser(rootOpts, "", cmd)
		},
	})

	return cmd
}

func runSetNamedUser(opts *RootOptions, id string, cmd *cobra.Command) error {
	out := printer(opts, cmd)

	ctl, closeFn, err := prepare(opts, cmd, out)
	if err != nil {
		return err
	}
	defer closeFn()

	changed, err := ctl.SetNamedUser(cmd.Context(), id)
	if err != nil {
		return requestError(out, err)
	}
	return out.Result(NamedUserResult{ID: id, Changed: changed})
}
