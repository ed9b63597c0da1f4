package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// TagsOptions holds flags for the tags commands.
type TagsOptions struct {
	*RootOptions
	Facet string
}

// TagsResult is printed after a tag delta was submitted.
type TagsResult struct {
	Facet  identity.TagFacet `json:"facet"`
	Add    model.TagGroups   `json:"add,omitempty"`
	Remove model.TagGroups   `json:"remove,omitempty"`
}

func (r TagsResult) String() string {
	return fmt.Sprintf("Submitted %s tag update (%d groups)", r.Facet, len(r.Add)+len(r.Remove))
}

// NewTagsCommand creates the tags command group.
func NewTagsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TagsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Edit channel or named-user tag groups",
		Long: `Edit tag groups.

Changes are merged into the pending delta for the facet and sent once the
owner (channel or named user) is known.

Example:
  regsync tags add loyalty=gold,vip
  regsync tags remove --facet named-user interests=golf`,
	}
	cmd.PersistentFlags().StringVar(&opts.Facet, "facet", "channel", "tag owner (channel|named-user)")

	for _, op := range []string{"add", "remove"} {
		op := op
		cmd.AddCommand(&cobra.Command{
			Use:           op + " <group=tag1,tag2>...",
			Short:         fmt.Sprintf("%s tags", op),
			Args:          cobra.MinimumNArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTags(opts, op == "remove", args, cmd)
			},
		})
	}

	return cmd
}

func runTags(opts *TagsOptions, remove bool, args []string, cmd *cobra.Command) error {
	out := printer(opts.RootOptions, cmd)

	facet, err := identity.ParseTagFacet(opts.Facet)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --facet", err)
	}
	groups, err := parseTagArgs(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid tags", err)
	}

	ctl, closeFn, err := prepare(opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}
	defer closeFn()

	res := TagsResult{Facet: facet}
	if remove {
		res.Remove = groups.Normalize()
	} else {
		res.Add = groups.Normalize()
	}
	if err := ctl.EditTags(cmd.Context(), facet, res.Add, res.Remove); err != nil {
		return requestError(out, err)
	}
	return out.Result(res)
}
