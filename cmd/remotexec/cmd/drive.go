package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/executor"
)

var errNoConfig = errors.New("this command needs a configuration file, pass --config")

// drive executes c and prints every buffered output unit until nothing more
// can arrive. Cancelling ctx stops the command.
func drive(ctx context.Context, c *executor.Command, out io.Writer) error {
	runErr := c.Execute(ctx)
	if runErr != nil && !c.IsExecuted() {
		return runErr
	}
	for {
		unit, err := c.Output()
		switch {
		case err == nil:
			fmt.Fprintln(out, strings.TrimRight(unit, "\n"))
		case errors.Is(err, common.ErrNoOutput):
			return runErr
		case common.IsKind(err, common.KindTimeoutExhausted):
			if ctx.Err() != nil && !c.IsStopped() {
				c.StopExecution()
			}
		default:
			return err
		}
	}
}

func printSummary(out io.Writer, c *executor.Command, runErr error) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	state := c.State().String()
	switch {
	case c.IsStopped():
		state = yellow(state)
	case runErr != nil:
		state = red(state)
	default:
		state = green(state)
	}
	exit := "-"
	if res := c.LastResult(); res != nil {
		exit = strconv.Itoa(res.ExitCode)
	} else {
		var cerr *executor.CommandError
		if errors.As(runErr, &cerr) {
			exit = strconv.Itoa(cerr.ExitCode)
		}
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"COMMAND", "STATE", "EXIT CODE"})
	table.SetBorder(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{strings.Join(c.LastCommand(), " "), state, exit})
	table.Render()
}
