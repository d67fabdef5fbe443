package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		addr     string
		resumeID string
		fork     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with an agent session on a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "load config: %v\n", err)
				os.Exit(1)
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			}
			runChat(addr, resumeID, fork)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume an existing session id")
	cmd.Flags().BoolVar(&fork, "fork", false, "fork the resumed session into a new conversation")
	return cmd
}

func runChat(addr, resumeID string, fork bool) {
	wsURL := fmt.Sprintf("ws://%s/ws/session", addr)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", wsURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	start := protocol.ClientMessage{
		Type:        protocol.MsgStart,
		LocalID:     uuid.NewString(),
		ResumeSDKID: resumeID,
		Fork:        fork,
	}
	if err := conn.WriteJSON(start); err != nil {
		fmt.Fprintf(os.Stderr, "send start: %v\n", err)
		os.Exit(1)
	}

	// turnDone receives one value per completed or failed turn.
	turnDone := make(chan struct{}, 1)
	go readFrames(conn, turnDone)

	fmt.Fprintln(os.Stderr, "Type \"exit\" to quit, \"/interrupt\" to interrupt a running turn")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "exit", "quit":
			conn.WriteJSON(protocol.ClientMessage{Type: protocol.MsgStop})
			return
		case "/interrupt":
			conn.WriteJSON(protocol.ClientMessage{Type: protocol.MsgInterrupt})
			continue
		}

		if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.MsgSend, Text: input}); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			return
		}
		<-turnDone
	}
}

// readFrames prints server frames and signals turn boundaries.
func readFrames(conn *websocket.Conn, turnDone chan<- struct{}) {
	signalDone := func() {
		select {
		case turnDone <- struct{}{}:
		default:
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			signalDone()
			return
		}
		var frame map[string]any
		if json.Unmarshal(raw, &frame) != nil {
			continue
		}

		switch frame["type"] {
		case protocol.EventSessionStarted:
			fmt.Fprintf(os.Stderr, "Session: %v\n\n", frame["session_id"])
		case protocol.EventTextDelta:
			fmt.Print(frame["text"])
		case protocol.EventTextComplete:
			fmt.Println()
		case protocol.EventToolUse:
			fmt.Fprintf(os.Stderr, "\n[tool: %v]\n", frame["tool_name"])
		case protocol.EventToolResult:
			// Tool output is rendered by the agent's next text block.
		case protocol.EventTurnComplete:
			if cost, ok := frame["cost"].(float64); ok {
				fmt.Fprintf(os.Stderr, "\n(turn complete, cost $%.4f)\n", cost)
			}
			signalDone()
		case protocol.EventStatus:
			if frame["status"] == "interrupted" {
				fmt.Fprintln(os.Stderr, "\n(interrupted)")
				signalDone()
			}
		case protocol.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %v (%v)\n", frame["error"], frame["detail"])
			signalDone()
		}
	}
}
