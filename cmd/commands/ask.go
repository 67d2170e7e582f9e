package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/skylattice/orbit/clients/ws"
	"github.com/skylattice/orbit/internal/events"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to the agent and print the response",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: fmt.Sprintf("ws://127.0.0.1:%d/api/ws", defaultPort),
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume (empty = new session)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Show reasoning and tool activity on stderr",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func runAsk(_ context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return fmt.Errorf("usage: orbit ask <message>")
	}

	gatewayURL := cmd.String("gateway")
	sessionFlag := cmd.String("session")
	verbose := cmd.Bool("verbose")

	timeoutSecs := cmd.Int("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, gatewayURL)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	if err := client.SendMessage(sessionFlag, message, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// Read frames until the final message or error event for our session.
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		// The send_message response carries the resolved session id.
		if frame.Event == "" {
			if frame.OK != nil && !*frame.OK {
				return fmt.Errorf("gateway: %s", frame.Error)
			}
			if sessionFlag == "" && frame.Payload != nil {
				var resp map[string]string
				if json.Unmarshal(frame.Payload, &resp) == nil && resp["session_id"] != "" {
					fmt.Fprintf(os.Stderr, "session: %s\n", resp["session_id"])
				}
			}
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			continue
		}

		switch events.EventType(frame.Event) {
		case events.EventReasoning:
			if verbose {
				if p, ok := events.GetReasoningPayload(evt); ok {
					fmt.Fprintf(os.Stderr, "· %s\n", p.Content)
				}
			}

		case events.EventToolExecution:
			if verbose {
				if p, ok := events.GetToolExecutionPayload(evt); ok {
					fmt.Fprintf(os.Stderr, "· tool %s: %s\n", p.Name, p.Status)
				}
			}

		case events.EventError:
			if p, ok := events.GetErrorPayload(evt); ok {
				return fmt.Errorf("agent error: %s", p.Message)
			}
			return fmt.Errorf("agent error")

		case events.EventMessage:
			p, ok := events.GetMessagePayload(evt)
			if !ok {
				continue
			}
			fmt.Fprintln(os.Stdout, p.Content)
			if verbose && p.Timing != nil {
				fmt.Fprintf(os.Stderr, "· total %dms (plan %dms, execution %dms, synthesis %dms)\n",
					p.Timing.TotalMS, p.Timing.PlanMS, p.Timing.ExecutionMS, p.Timing.SynthesisMS)
			}
			return nil
		}
	}
}
