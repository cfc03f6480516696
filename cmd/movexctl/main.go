// Command movexctl is a thin demonstration harness for the movex client
// runtime: it wires a Client Resource, a Master Resource Connection, and a
// Request/Ack Wrapper against an in-memory loopback transport, dispatches
// actions from the command line, and relays the local dispatch to the
// "master" as an emitAction request. It stands in for the CLI/application
// shell spec.md §1 calls out as an external collaborator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/client"
	"github.com/vishalda/movex/internal/loopback"
	"github.com/vishalda/movex/masterconn"
	"github.com/vishalda/movex/resource"
	"github.com/vishalda/movex/transport"
)

func counterReducer(state int, a action.Action) int {
	switch a.Type {
	case "inc":
		return state + 1
	case "dec":
		return state - 1
	default:
		return state
	}
}

func main() {
	app := &cli.App{
		Name:  "movexctl",
		Usage: "exercise the movex client runtime against a loopback transport",
		Commands: []*cli.Command{
			{
				Name:  "counter",
				Usage: "dispatch a sequence of inc/dec actions, relay them to the master, and print the resulting checked state",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "action", Aliases: []string{"a"}, Usage: "repeatable: inc or dec"},
				},
				Action: runCounter,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("movexctl failed")
	}
}

func runCounter(c *cli.Context) error {
	ctx := context.Background()

	res, err := client.New(counterReducer, nil)
	if err != nil {
		return err
	}
	defer res.Destroy()

	echo := loopback.NewEcho()
	wrapper := transport.New(transport.Config{WaitForResponseMs: 2000}, echo)
	if err := wrapper.Connect(ctx); err != nil {
		return err
	}
	defer wrapper.Disconnect()

	conn := masterconn.New("counter", wrapper)
	defer conn.Destroy()

	rid := resource.New("counter", "cli-session")

	for _, name := range c.StringSlice("action") {
		public := action.Action{Type: name}
		if err := res.Dispatch(public); err != nil {
			return err
		}
		result, err := conn.EmitAction(ctx, rid, action.Of(public))
		if err != nil {
			return err
		}
		fmt.Printf("emitAction(%s) -> ok=%v val=%v\n", name, result.OK, result.Val)
	}

	fmt.Printf("state=%d checksum=%s\n", res.GetUncheckedState(), res.Get().Checksum)
	return nil
}
