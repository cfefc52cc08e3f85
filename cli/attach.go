package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/protocol"
)

var attachCmd = &cobra.Command{
	Use:   "attach <session-id>",
	Short: "Stream a session's events and forward stdin as input",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

var attachFrom int64

func init() {
	attachCmd.Flags().Int64Var(&attachFrom, "from", 0, "first event sequence to replay")
	rootCmd.AddCommand(attachCmd)
}

// inbound is the union of server messages the client renders.
type inbound struct {
	protocol.BaseMessage
	Event   domain.SessionEvent  `json:"event"`
	Status  domain.SessionStatus `json:"status"`
	Live    bool                 `json:"live"`
	History int                  `json:"history"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Result  json.RawMessage      `json:"result"`
}

// attachClient is one attach stream.
type attachClient struct {
	conn      *websocket.Conn
	sessionID string
	out       io.Writer
	info      io.Writer
	done      chan struct{}
}

func dialAttach(addr, sessionID string, from int64) (*attachClient, error) {
	u, err := attachURL(addr, sessionID, from)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &attachClient{
		conn:      conn,
		sessionID: sessionID,
		out:       os.Stdout,
		info:      os.Stderr,
		done:      make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *attachClient) Close() error {
	return c.conn.Close()
}

// SendInput sends one input message.
func (c *attachClient) SendInput(data string) error {
	return c.conn.WriteJSON(protocol.InputMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeInput,
			Ts:        time.Now().UnixMilli(),
			SessionID: c.sessionID,
		},
		Data: data,
	})
}

// ReadMessages renders server messages until the stream ends.
func (c *attachClient) ReadMessages() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(c.info, "read error: %v\n", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Fprintf(c.info, "unmarshal error: %v\n", err)
			continue
		}
		c.render(msg)
	}
}

func (c *attachClient) render(msg inbound) {
	switch msg.Type {
	case protocol.TypeAttached:
		fmt.Fprintf(c.info, "[attached] %s status=%s live=%t history=%d\n", msg.SessionID, msg.Status, msg.Live, msg.History)
	case protocol.TypeEvent, protocol.TypeReplay:
		c.renderEvent(msg.Event)
	case protocol.TypeStatus, protocol.TypeClosed:
		fmt.Fprintf(c.info, "[%s] %s\n", msg.Type, msg.Status)
	case protocol.TypeError:
		fmt.Fprintf(c.info, "[error] %s: %s\n", msg.Code, msg.Message)
	case protocol.TypeOperationResult:
		fmt.Fprintf(c.info, "[result] %s\n", string(msg.Result))
	}
}

func (c *attachClient) renderEvent(ev domain.SessionEvent) {
	switch ev.Channel {
	case domain.ChannelPTYOutput:
		var text string
		if json.Unmarshal(ev.Payload, &text) == nil {
			fmt.Fprint(c.out, text)
			return
		}
	case domain.ChannelAgentOutput:
		var delta struct {
			Text string `json:"text"`
		}
		if ev.Type == domain.EventTypeDelta && json.Unmarshal(ev.Payload, &delta) == nil {
			fmt.Fprint(c.out, delta.Text)
			return
		}
		if ev.Type == domain.EventTypeDone {
			fmt.Fprintln(c.out)
			return
		}
	case domain.ChannelSystemInput:
		return
	}
	fmt.Fprintf(c.info, "[#%d %s/%s] %s\n", ev.Sequence, ev.Channel, ev.Type, string(ev.Payload))
}

func runAttach(cmd *cobra.Command, args []string) error {
	client, err := dialAttach(serverAddr, args[0], attachFrom)
	if err != nil {
		return err
	}
	defer client.Close()

	go client.ReadMessages()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text() + "\n"
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	for {
		select {
		case <-client.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := client.SendInput(line); err != nil {
				return fmt.Errorf("failed to send input: %w", err)
			}
		case <-interrupt:
			client.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-client.done:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}
