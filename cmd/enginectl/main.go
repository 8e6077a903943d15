// Command enginectl is a minimal CLI host exercising the engine façade:
// one cobra.Command tree with a root command and per-action subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fz3go/engine/backend/ftp"
	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/engine"
	"github.com/fz3go/engine/eventloop"
	"github.com/fz3go/engine/serverpath"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "enginectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Demo CLI host for the transfer engine façade",
	}
	root.AddCommand(newConnectCmd())
	return root
}

func newConnectCmd() *cobra.Command {
	var host string
	var port int
	var user string
	var pass string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to an FTP server and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectDemo(host, port, user, pass)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server host")
	cmd.Flags().IntVar(&port, "port", 21, "server port")
	cmd.Flags().StringVar(&user, "user", "anonymous", "login user")
	cmd.Flags().StringVar(&pass, "pass", "anonymous@", "login password")
	return cmd
}

// runConnectDemo wires up a Loop and one Engine, submits a connect command
// whose Execute dials the real socket and drives backend/ftp's logon state
// machine, pumps the loop until a reply arrives, and prints it: the
// façade's accept-now/notify-later contract exercised end to
// end through a real control connection.
func runConnectDemo(host string, port int, user, pass string) error {
	if host == "" {
		return fmt.Errorf("--host is required")
	}

	loop := eventloop.New()
	done := make(chan engine.Reply, 1)
	e := engine.New(loop, engine.DefaultOptions(), func(r engine.Reply) {
		done <- r
	})
	defer e.Close()

	site := serverpath.Site{Host: host, Port: port, Protocol: serverpath.ProtocolFTP}
	cred := ftp.Credentials{User: user, Password: pass}
	code := e.Send(engine.Command{
		Kind: engine.CmdConnect,
		Site: site,
		Execute: func(e *engine.Engine) control.Code {
			return e.FTPConnect(site, cred)
		},
	})
	if code != control.Ok {
		return fmt.Errorf("connect rejected: %s", code)
	}

	go loop.Run(nil)
	reply := <-done
	fmt.Printf("connect %s:%d -> %s\n", host, port, reply.Code)
	return nil
}
