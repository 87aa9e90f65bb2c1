package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/cli/internal/output"
	"github.com/getmockd/gqlws/pkg/cli/internal/parse"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

// subscriptionID is the operation id used by the subscribe command.
const subscriptionID = "1"

type subscribeOptions struct {
	url           string
	protocol      string
	query         string
	operationName string
	variables     string
	initPayload   string
	headers       []string
	count         int
	timeout       time.Duration
	jsonOut       bool
}

var subscribeOpts subscribeOptions

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <url>",
	Short: "Run a GraphQL operation over WebSocket and print its results",
	Long: `Connect to a GraphQL WebSocket endpoint, run one operation and print every
result until the server completes it, the count is reached or Ctrl+C.`,
	Example: `  gqlws subscribe ws://localhost:4000/graphql -q 'subscription { greetings }'
  gqlws subscribe ws://localhost:4000/graphql -p graphql-ws -q 'subscription { userCreated(role: ADMIN) { id } }' -n 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := subscribeOpts
		opts.url = args[0]
		opts.jsonOut = jsonOutput

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSubscribe(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// frame is a decoded server message or the read error that ended the stream.
type frame struct {
	msg  wsproto.Message
	derr *wsproto.DecodeError
	err  error
}

func runSubscribe(ctx context.Context, opts subscribeOptions, out, errOut io.Writer) error {
	if opts.timeout <= 0 {
		return fmt.Errorf("invalid timeout %s: must be positive", opts.timeout)
	}
	proto, err := wsproto.Lookup(opts.protocol)
	if err != nil {
		return err
	}
	codec := wsproto.NewCodec(proto)

	variables, err := parse.JSONObject(opts.variables, "variables")
	if err != nil {
		return err
	}
	var initPayload json.RawMessage
	if opts.initPayload != "" {
		if _, err := parse.JSONObject(opts.initPayload, "init payload"); err != nil {
			return err
		}
		initPayload = json.RawMessage(opts.initPayload)
	}
	header, err := parse.Header(opts.headers)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.timeout,
		Subprotocols:     []string{proto.Name},
	}
	conn, resp, err := dialer.DialContext(ctx, opts.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	if conn.Subprotocol() != proto.Name {
		return fmt.Errorf("server did not accept subprotocol %s", proto.Name)
	}

	write := func(msg wsproto.Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(opts.timeout))
		return conn.WriteMessage(websocket.TextMessage, codec.Encode(msg))
	}

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frame)
	go func() {
		for {
			var f frame
			_, data, err := conn.ReadMessage()
			if err != nil {
				f.err = err
			} else {
				f.msg, f.derr = codec.Decode(data)
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// closeNormally stops the operation, if running, and closes the socket.
	closeNormally := func(running bool) {
		if running {
			stopMsg := wsproto.CompleteMessage(subscriptionID)
			if !proto.ClientCompleteStops {
				stopMsg = wsproto.StopMessage(subscriptionID)
			}
			_ = write(stopMsg)
		}
		if !proto.ExpectsPong {
			_ = write(wsproto.Message{Kind: wsproto.KindConnectionTerminate})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}

	if err := write(wsproto.Message{Kind: wsproto.KindConnectionInit, Payload: initPayload}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	initTimer := time.NewTimer(opts.timeout)
	defer initTimer.Stop()

	running := false
	received := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(errOut, "Disconnecting...")
			closeNormally(running)
			return nil

		case <-initTimer.C:
			if !running {
				closeNormally(false)
				return errors.New("timed out waiting for connection_ack")
			}

		case f := <-frames:
			if f.err != nil {
				return readError(f.err)
			}
			if f.derr != nil {
				output.Warn(errOut, "ignoring frame: %v", f.derr)
				continue
			}

			switch f.msg.Kind {
			case wsproto.KindConnectionAck:
				payload := &wsproto.SubscribePayload{
					Query:         opts.query,
					OperationName: opts.operationName,
					Variables:     variables,
				}
				if err := write(wsproto.SubscribeMessage(subscriptionID, payload)); err != nil {
					return fmt.Errorf("send subscribe: %w", err)
				}
				running = true
				initTimer.Stop()

			case wsproto.KindPing:
				if err := write(wsproto.PongMessage(f.msg.Payload)); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}

			case wsproto.KindNext:
				if err := printResult(out, f.msg, received, opts.jsonOut); err != nil {
					return err
				}
				received++
				if opts.count > 0 && received >= opts.count {
					fmt.Fprintf(errOut, "Received %d results\n", received)
					closeNormally(true)
					return nil
				}

			case wsproto.KindError:
				closeNormally(false)
				return operationError(f.msg)

			case wsproto.KindComplete:
				closeNormally(false)
				return nil

			case wsproto.KindConnectionError:
				return fmt.Errorf("connection error: %s", string(f.msg.Payload))

			default:
				// ka and pong need no answer.
			}
		}
	}
}

func printResult(w io.Writer, msg wsproto.Message, index int, asJSON bool) error {
	if asJSON {
		return output.Line(w, map[string]interface{}{
			"id":        msg.ID,
			"index":     index,
			"timestamp": time.Now().Format(time.RFC3339),
			"result":    msg.Result,
		})
	}
	data, err := json.Marshal(msg.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func operationError(msg wsproto.Message) error {
	if len(msg.Errors) == 0 {
		return errors.New("operation failed")
	}
	e := msg.Errors[0]
	if code, ok := e.Extensions["code"]; ok {
		return fmt.Errorf("operation failed: %s (%v)", e.Message, code)
	}
	return fmt.Errorf("operation failed: %s", e.Message)
}

func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text == "" {
			return fmt.Errorf("connection closed: %s", wsproto.CloseCode(ce.Code))
		}
		return fmt.Errorf("connection closed: %d %s", ce.Code, ce.Text)
	}
	return fmt.Errorf("read: %w", err)
}

func init() {
	f := subscribeCmd.Flags()
	f.StringVarP(&subscribeOpts.protocol, "protocol", "p", wsproto.SubprotocolGraphQLTransportWS, "Subprotocol (graphql-transport-ws or graphql-ws)")
	f.StringVarP(&subscribeOpts.query, "query", "q", "", "GraphQL document")
	f.StringVarP(&subscribeOpts.operationName, "operation-name", "o", "", "Operation to run from the document")
	f.StringVarP(&subscribeOpts.variables, "variables", "v", "", "Variables as a JSON object")
	f.StringVar(&subscribeOpts.initPayload, "init-payload", "", "connection_init payload as a JSON object")
	f.StringArrayVarP(&subscribeOpts.headers, "header", "H", nil, "Handshake header (key:value), repeatable")
	f.IntVarP(&subscribeOpts.count, "count", "n", 0, "Stop after this many results (0 = until complete)")
	f.DurationVarP(&subscribeOpts.timeout, "timeout", "t", 10*time.Second, "Handshake, acknowledgement and write timeout")
	_ = subscribeCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(subscribeCmd)
}
