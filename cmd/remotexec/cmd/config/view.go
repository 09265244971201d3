package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/config"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "List the commands and connections of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadFromFlag(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration: %s\n", path)
		renderCommands(out, cfg.Commands)
		renderConnections(out, cfg.Connections)
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(viewCmd)
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetBorder(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func renderCommands(out io.Writer, cmds []config.CommandSpec) {
	if len(cmds) == 0 {
		fmt.Fprintln(out, "No commands defined.")
		return
	}
	table := newTable(out, []string{"COMMAND", "MODE", "OUTPUT", "ARGS"})
	for _, c := range cmds {
		mode := "blocking"
		if c.Async {
			mode = "async"
		}
		table.Append([]string{c.Name, mode, c.OutputType, strings.Join(c.Args, " ")})
	}
	table.Render()
}

func renderConnections(out io.Writer, conns []config.Connection) {
	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections defined.")
		return
	}
	table := newTable(out, []string{"CONNECTION", "TYPE", "HOST", "USER", "TARGET"})
	for _, c := range conns {
		table.Append([]string{c.Name, c.Type, c.Host + ":" + strconv.Itoa(c.Port), c.User, target(c)})
	}
	table.Render()
}

func target(c config.Connection) string {
	switch c.Type {
	case common.ConnectionTypeSSHTunnel:
		local, host, port := c.Tunnel()
		return fmt.Sprintf("127.0.0.1:%d -> %s:%d", local, host, port)
	case common.ConnectionTypeSCP:
		return c.Protocol + ":" + c.RemoteDir
	case common.ConnectionTypeFTP:
		return "ftp:" + c.RemoteDir
	}
	return ""
}
