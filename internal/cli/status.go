package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// StatusView renders app.Status for the terminal.
type StatusView struct {
	app.Status
}

// RenderText writes a human-readable summary.
func (v StatusView) RenderText(w io.Writer) {
	st := v.Status

	if st.Channel.ID == "" {
		fmt.Fprintln(w, "Channel:     (not created)")
	} else {
		fmt.Fprintf(w, "Channel:     %s\n", st.Channel.ID)
		fmt.Fprintf(w, "Location:    %s\n", st.Channel.Location)
	}
	if st.Snapshot != nil {
		fmt.Fprintf(w, "Snapshot:    %s (age %s)\n", shortDigest(st.Snapshot.Digest), st.Snapshot.Age)
	}

	switch {
	case st.NamedUser.ChangeToken == "" && st.NamedUser.LastUpdatedToken == "":
		fmt.Fprintln(w, "Named user:  (never set)")
	case st.NamedUser.ID == nil:
		fmt.Fprintf(w, "Named user:  (none) %s\n", syncLabel(st.NamedUser.InSync))
	default:
		fmt.Fprintf(w, "Named user:  %s %s\n", *st.NamedUser.ID, syncLabel(st.NamedUser.InSync))
	}

	if st.Platform != nil {
		fmt.Fprintf(w, "Platform:    token=%t app_version=%s transport=%s\n",
			st.Platform.HasToken, st.Platform.AppVersion, st.Platform.Transport)
	}

	for _, f := range []identity.TagFacet{identity.ChannelTags, identity.NamedUserTags} {
		d := st.PendingTags[f]
		if d.IsEmpty() {
			continue
		}
		fmt.Fprintf(w, "Pending %s tags: add %s remove %s\n", f, renderGroups(d.Add), renderGroups(d.Remove))
	}

	if len(st.Scheduled) == 0 {
		fmt.Fprintln(w, "Scheduled:   none")
	} else {
		fmt.Fprintln(w, "Scheduled:")
		for _, s := range st.Scheduled {
			fmt.Fprintf(w, "  %-34s %s", s.Action, s.FireAt.Format("2006-01-02T15:04:05Z"))
			if s.BackOff != "" {
				fmt.Fprintf(w, " backoff=%s", s.BackOff)
			}
			fmt.Fprintln(w)
		}
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func syncLabel(inSync bool) string {
	if inSync {
		return "(in sync)"
	}
	return "(pending)"
}

func renderGroups(g model.TagGroups) string {
	if g.IsEmpty() {
		return "{}"
	}
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(g[name], ","))
	}
	return strings.Join(parts, " ")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted registration state",
		Long: `Show the channel identity, snapshot age, named-user sync state, pending
tag deltas and scheduled tasks read from the store.

Example:
  regsync status --config regsync.toml
  regsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	out := printer(opts, cmd)

	ctl, closeFn, err := prepare(opts, cmd, out)
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := ctl.Status(cmd.Context())
	if err != nil {
		out.Fail(ErrCodeStore, err, nil)
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}
	if out.JSON {
		return out.Result(st)
	}
	return out.Result(StatusView{Status: st})
}
