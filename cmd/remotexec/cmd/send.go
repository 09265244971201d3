package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/mensylisir/remotexec/pkg/lifecycle"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
	"github.com/mensylisir/remotexec/pkg/transport"
)

type sendOptions struct {
	name        string
	params      []string
	payload     string
	response    bool
	errorMsg    string
	count       int
	concurrency int
	timeout     time.Duration
}

var sendOpts = &sendOptions{}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendOpts.name, "name", "n", "", "Remote command name (required)")
	sendCmd.Flags().StringArrayVarP(&sendOpts.params, "param", "p", nil, "Command parameter key=value (repeatable)")
	sendCmd.Flags().StringVar(&sendOpts.payload, "payload", "", "JSON payload, or result when --response is set")
	sendCmd.Flags().BoolVar(&sendOpts.response, "response", false, "Send the response form instead of the request")
	sendCmd.Flags().StringVar(&sendOpts.errorMsg, "error", "", "Error message of a response")
	sendCmd.Flags().IntVar(&sendOpts.count, "count", 1, "Send the command this many times over the same session")
	sendCmd.Flags().IntVar(&sendOpts.concurrency, "concurrency", transport.DefaultConcurrency, "Maximum number of connections sending at once")
	sendCmd.Flags().DurationVar(&sendOpts.timeout, "timeout", 2*time.Minute, "Overall deadline")
	_ = sendCmd.MarkFlagRequired("name")
}

var sendCmd = &cobra.Command{
	Use:   "send <connection>...",
	Short: "Deliver a remote command over one or more configured connections",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		env, err := buildEnvelope(sendOpts)
		if err != nil {
			return err
		}

		log := logger.Get()
		group := lifecycle.NewGroup(log)
		defer group.CleanUpAll()
		conns := make([]transport.ManagedConnection, 0, len(args))
		for _, name := range args {
			connCfg, ok := cfg.Connection(name)
			if !ok {
				return errors.Errorf("connection %q is not defined in %s", name, configFile)
			}
			conn, err := transport.New(*connCfg, log)
			if err != nil {
				return err
			}
			_ = group.Register(conn.Name(), conn)
			conns = append(conns, conn)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, sendOpts.timeout)
		defer cancel()

		var results []transport.DeliveryResult
		for i := 0; i < sendOpts.count; i++ {
			results, err = transport.Broadcast(ctx, conns, env, !sendOpts.response, sendOpts.concurrency, log)
			if err != nil {
				break
			}
		}
		printDeliveries(cmd.OutOrStdout(), env, results, conns)
		return err
	},
}

func printDeliveries(w io.Writer, env *remotecmd.Envelope, results []transport.DeliveryResult, conns []transport.ManagedConnection) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(w, "%s %q (%s)\n", formType(sendOpts.response), env.Name, env.ID)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"CONNECTION", "STATUS", "DURATION", "SESSIONS", "ERROR"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, r := range results {
		status, msg := green("sent"), ""
		if r.Err != nil {
			status, msg = red("failed"), r.Err.Error()
		}
		table.Append([]string{r.Connection, status, r.Duration.Round(time.Millisecond).String(),
			fmt.Sprintf("%d", conns[i].SessionsCreated()), msg})
	}
	table.Render()
}

func buildEnvelope(o *sendOptions) (*remotecmd.Envelope, error) {
	params := make(map[string]string, len(o.params))
	for _, p := range o.params {
		k, v, ok := cutPair(p)
		if !ok {
			return nil, errors.Errorf("invalid parameter %q, expected key=value", p)
		}
		params[k] = v
	}
	env := remotecmd.NewEnvelope(o.name, params)
	if o.payload != "" {
		if !gjson.Valid(o.payload) {
			return nil, errors.New("--payload is not valid JSON")
		}
		if o.response {
			env.Result = []byte(o.payload)
		} else {
			env.Payload = []byte(o.payload)
		}
	}
	env.Error = o.errorMsg
	return env, nil
}

func formType(response bool) string {
	if response {
		return "response"
	}
	return "request"
}

func cutPair(s string) (string, string, bool) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
