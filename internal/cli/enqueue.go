package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/model"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Add    []string
	Remove []string
}

// EnqueueResult is printed after a task was submitted.
type EnqueueResult struct {
	Action model.Action `json:"action"`
}

func (r EnqueueResult) String() string {
	return fmt.Sprintf("Submitted %s", r.Action)
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <action>",
		Short: "Submit a task to the engine",
		Long: `Submit a task for the running engine.

The task is written to the store as due now; the engine promotes it on its
next poll. Only tag group actions accept --add and --remove.

Example:
  regsync enqueue update-registration
  regsync enqueue update-channel-tag-groups --add loyalty=gold,vip`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Add, "add", nil, "tags to add as group=tag1,tag2 (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Remove, "remove", nil, "tags to remove as group=tag1,tag2 (repeatable)")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, actionArg string, cmd *cobra.Command) error {
	out := printer(opts.RootOptions, cmd)

	action, err := model.ParseAction(actionArg)
	if err != nil {
		return requestError(out, err)
	}
	add, err := parseTagArgs(opts.Add)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --add", err)
	}
	remove, err := parseTagArgs(opts.Remove)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --remove", err)
	}

	ctl, closeFn, err := prepare(opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := ctl.Enqueue(cmd.Context(), action, add, remove); err != nil {
		return requestError(out, err)
	}
	return out.Result(EnqueueResult{Action: action})
}
