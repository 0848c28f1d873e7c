// ABOUTME: Agent-side CLI for the chatizia gateway
// ABOUTME: Notifications, takeover lifecycle, and live conversation watching

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/client"
	"github.com/awaistahseen009/chatizia/internal/store"
)

func gatewayURL() string {
	if url := os.Getenv("CHATIZIA_GATEWAY_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func usage() {
	fmt.Println("Usage: chatizia-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  notifications <agent-id> [--all]          List notifications (unread by default)")
	fmt.Println("  read <notification-id>                    Mark a notification as read")
	fmt.Println("  ownership <conversation-id>               Show who owns a conversation")
	fmt.Println("  takeover <conversation-id> <agent-id> [--escalation]")
	fmt.Println("                                            Claim a conversation")
	fmt.Println("  handback <conversation-id> <agent-id>     Release a conversation to the bot")
	fmt.Println("  kb <conversation-id> on|off               Toggle knowledge-base retrieval")
	fmt.Println("  watch <conversation-id>                   Stream live messages and ownership changes")
	fmt.Println()
	fmt.Printf("Gateway: %s (override with CHATIZIA_GATEWAY_URL)\n", gatewayURL())
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(gatewayURL())
	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "notifications":
		err = runNotifications(ctx, c, args)
	case "read":
		err = runRead(ctx, c, args)
	case "ownership":
		err = runOwnership(ctx, c, args)
	case "takeover":
		err = runTakeover(ctx, c, args)
	case "handback":
		err = runHandback(ctx, c, args)
	case "kb":
		err = runKB(ctx, c, args)
	case "watch":
		err = runWatch(ctx, c, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNotifications(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatizia-admin notifications <agent-id> [--all]")
	}
	agentID := args[0]
	unreadOnly := true
	for _, arg := range args[1:] {
		if arg == "--all" {
			unreadOnly = false
		}
	}

	notifications, err := c.Notifications(ctx, agentID, unreadOnly)
	if err != nil {
		return err
	}
	if len(notifications) == 0 {
		color.New(color.FgHiBlack).Println("no notifications")
		return nil
	}

	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)
	for _, n := range notifications {
		if n.IsRead {
			gray.Print("  read  ")
		} else {
			yellow.Print("unread  ")
		}
		fmt.Printf("%s  %s\n", n.Type, n.Message)
		gray.Printf("        id=%s conversation=%s at=%s\n", n.ID, n.ConversationID, n.CreatedAt)
	}
	return nil
}

func runRead(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatizia-admin read <notification-id>")
	}
	if err := c.MarkNotificationRead(ctx, args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Println("marked read")
	return nil
}

func printOwnership(state *client.Ownership) {
	if state.HumanOwned {
		color.New(color.FgYellow).Print("human   ")
		fmt.Printf("%s (%s)", state.AgentName, state.AgentID)
		if state.KnowledgeBaseEnabled {
			color.New(color.FgCyan).Print("  [kb on]")
		} else {
			color.New(color.FgHiBlack).Print("  [kb off]")
		}
		fmt.Println()
		return
	}
	color.New(color.FgGreen).Print("bot     ")
	fmt.Println("automated responder")
}

func runOwnership(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatizia-admin ownership <conversation-id>")
	}
	state, err := c.Ownership(ctx, args[0])
	if err != nil {
		return err
	}
	printOwnership(state)
	return nil
}

func runTakeover(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: chatizia-admin takeover <conversation-id> <agent-id> [--escalation]")
	}
	reason := "manual"
	for _, arg := range args[2:] {
		if arg == "--escalation" {
			reason = "escalation"
		}
	}

	state, err := c.TakeOver(ctx, args[0], args[1], reason)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Println("conversation claimed")
	printOwnership(state)
	return nil
}

func runHandback(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatizia-admin handback <conversation-id> <agent-id>")
	}
	if err := c.HandBack(ctx, args[0], args[1]); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Println("conversation handed back to the bot")
	return nil
}

func runKB(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		return fmt.Errorf("usage: chatizia-admin kb <conversation-id> on|off")
	}
	enabled := args[1] == "on"
	if err := c.ToggleKnowledgeBase(ctx, args[0], enabled); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("knowledge base %s\n", args[1])
	return nil
}

// runWatch follows a conversation through a subscription manager running
// over the remote SSE transport. Reconnects and poll reconciliation come for
// free; every message prints at most once.
func runWatch(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatizia-admin watch <conversation-id>")
	}
	conversationID := args[0]

	if _, err := c.Ownership(ctx, conversationID); err != nil {
		return err
	}

	manager := bus.NewSubscriptionManager(c, c, 0, nil)
	defer manager.Close()

	gray := color.New(color.FgHiBlack)
	unsubscribe, err := manager.Subscribe(ctx, conversationID, "admin-watch", bus.Handlers{
		OnMessage:         printMessage,
		OnOwnershipChange: printOwnershipChange,
		OnStatus: func(status bus.Status) {
			if status == bus.StatusDegraded {
				gray.Println("· connection degraded, polling")
			} else {
				gray.Println("· live")
			}
		},
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	gray.Printf("watching %s (ctrl-c to stop)\n", conversationID)
	<-ctx.Done()
	return nil
}

func printMessage(msg *store.Message) {
	ts := msg.CreatedAt.Local().Format("15:04:05")
	gray := color.New(color.FgHiBlack)
	gray.Printf("%s ", ts)

	switch msg.Role {
	case store.RoleCustomer:
		color.New(color.FgCyan).Print("customer  ")
	case store.RoleAssistant:
		color.New(color.FgGreen).Print("bot       ")
	case store.RoleAgent:
		color.New(color.FgYellow).Print("agent     ")
	default:
		fmt.Printf("%-10s", msg.Role)
	}
	fmt.Println(msg.Content)
}

func printOwnershipChange(change *bus.OwnershipChange) {
	ts := change.ChangedAt.Local().Format("15:04:05")
	color.New(color.FgHiBlack).Printf("%s ", ts)
	magenta := color.New(color.FgMagenta)
	if change.HumanOwned {
		magenta.Printf("** %s took over", change.AgentName)
		if change.KnowledgeBaseEnabled {
			magenta.Print(" (kb on)")
		} else {
			magenta.Print(" (kb off)")
		}
		magenta.Println(" **")
		return
	}
	magenta.Println("** handed back to the bot **")
}
