package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

var (
	listenHost string
	listenPort int
	listenMax  int
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenHost, "host", "127.0.0.1", "Address to listen on")
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", common.DefaultScriptingPort, "Port to listen on")
	listenCmd.Flags().IntVar(&listenMax, "max", 0, "Exit after this many commands (0 runs until interrupted)")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a minimal peer that prints the remote commands it receives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := net.JoinHostPort(listenHost, strconv.Itoa(listenPort))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", addr)
		}
		logger.Get().Infof("Listening for remote commands on %s", ln.Addr())
		return serveEnvelopes(ctx, ln, cmd.OutOrStdout(), listenMax)
	},
}

// serveEnvelopes reads one envelope per connection and prints it. It returns
// when ctx is done or max envelopes were printed.
func serveEnvelopes(ctx context.Context, ln net.Listener, out io.Writer, max int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var (
		mu       sync.Mutex
		received int
		wg       sync.WaitGroup
	)
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			data, err := io.ReadAll(conn)
			if err != nil {
				logger.Get().Warnf("Failed to read from %s: %v", conn.RemoteAddr(), err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if max > 0 && received >= max {
				return
			}
			printEnvelope(out, data)
			received++
			if max > 0 && received >= max {
				cancel()
			}
		}()
	}
}

func printEnvelope(out io.Writer, data []byte) {
	env, request, err := remotecmd.ParseEnvelope(data)
	if err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(out, "%s %v: %s\n", red("invalid"), err, strings.TrimSpace(string(data)))
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	keys := make([]string, 0, len(env.Params))
	for k := range env.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, env.Params[k])
	}
	line := fmt.Sprintf("%s %s id=%s%s", cyan(formType(!request)), env.Name, env.ID, b.String())
	if len(env.Payload) > 0 {
		line += " payload=" + string(env.Payload)
	}
	if len(env.Result) > 0 {
		line += " result=" + string(env.Result)
	}
	if env.Error != "" {
		line += " error=" + strconv.Quote(env.Error)
	}
	fmt.Fprintln(out, line)
}
