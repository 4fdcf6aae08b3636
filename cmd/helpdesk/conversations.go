package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/helpdesk/internal/api"
	"github.com/kalambet/helpdesk/internal/config"
	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/messagelog"
)

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Work customer conversations",
}

var convListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, optionally one queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		path := "/conversations"
		if queue != "" {
			if _, ok := conversation.ParseQueue(queue); !ok {
				return fmt.Errorf("unknown queue %q", queue)
			}
			path += "?queue=" + url.QueryEscape(queue)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var list []api.ConversationSummary
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		printSummaries(cmd.OutOrStdout(), list)
		return nil
	},
}

var convShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		c, err := fetchConversation(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printConversation(cmd.OutOrStdout(), c)
		return nil
	},
}

var convCreateCmd = &cobra.Command{
	Use:   "create <customer name>",
	Short: "Open a conversation for a customer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		priority, _ := cmd.Flags().GetString("priority")
		body := map[string]any{
			"counterpart": conversation.Person{Name: strings.Join(args, " "), Email: email},
			"priority":    priority,
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/conversations", body)
		if err != nil {
			return err
		}
		var c conversation.Conversation
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Opened conversation %s with %s", c.ID, c.Counterpart.Name)
		return nil
	},
}

var convSayCmd = &cobra.Command{
	Use:   "say <id> <text>",
	Short: "Post a message as the customer and print the automated reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), convPath(args[0], "messages"), map[string]string{"text": strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		var ex conversation.Exchange
		if err := decodeJSON(resp, &ex); err != nil {
			return err
		}
		printExchange(cmd.OutOrStdout(), ex)
		return nil
	},
}

var convReplyCmd = &cobra.Command{
	Use:   "reply <id> <text>",
	Short: "Answer the customer as the assigned agent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), convPath(args[0], "agent-messages"), map[string]string{"text": strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		var m messagelog.Message
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var convAssistCmd = &cobra.Command{
	Use:   "assist <id> <question>",
	Short: "Ask the assistant privately about a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]string{"text": strings.Join(args[1:], " "), "agentName": agent}
		resp, err := client.post(cmd.Context(), convPath(args[0], "assist"), body)
		if err != nil {
			return err
		}
		var ex conversation.Exchange
		if err := decodeJSON(resp, &ex); err != nil {
			return err
		}
		printExchange(cmd.OutOrStdout(), ex)
		return nil
	},
}

var convTakeoverCmd = &cobra.Command{
	Use:   "takeover <id>",
	Short: "Take the conversation over from the assistant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		var body any
		if agent != "" {
			body = map[string]any{"agent": conversation.Person{Name: agent}}
		}
		return transition(cmd, args[0], "takeover", body)
	},
}

var convReleaseCmd = &cobra.Command{
	Use:   "release <id>",
	Short: "Hand the conversation back to the assistant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd, args[0], "release", nil)
	},
}

var convTagCmd = &cobra.Command{
	Use:   "tag <id> [tag...]",
	Short: "Replace the conversation's tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		tags := args[1:]
		if tags == nil {
			tags = []string{}
		}
		resp, err := client.put(cmd.Context(), convPath(args[0], "tags"), map[string][]string{"tags": tags})
		if err != nil {
			return err
		}
		var c conversation.Conversation
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Conversation %s is now in queue %s", c.ID, c.Queue)
		return nil
	},
}

var convPriorityCmd = &cobra.Command{
	Use:   "priority <id> <low|medium|high>",
	Short: "Set the conversation's priority",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !conversation.Priority(args[1]).Valid() {
			return fmt.Errorf("unknown priority %q", args[1])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), convPath(args[0], "priority"), map[string]string{"priority": args[1]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Priority of %s set to %s", args[0], args[1])
		return nil
	},
}

var convInviteCmd = &cobra.Command{
	Use:   "invite <id> <name>",
	Short: "Add a participant to the conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		if agent == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			agent = cfg.Console.AgentName
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := api.ParticipantRequest{Actor: agent, Person: conversation.Person{Name: strings.Join(args[1:], " ")}}
		resp, err := client.post(cmd.Context(), convPath(args[0], "participants"), body)
		if err != nil {
			return err
		}
		return reportInvite(resp, body.Person.Name)
	},
}

var convEditCmd = &cobra.Command{
	Use:   "edit <id> <message id> <text>",
	Short: "Edit a customer or bot message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), convPath(args[0], "messages", args[1]), map[string]string{"text": strings.Join(args[2:], " ")})
		if err != nil {
			return err
		}
		var m messagelog.Message
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var convDeleteMessageCmd = &cobra.Command{
	Use:   "rm-message <id> <message id>",
	Short: "Delete a message from a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), convPath(args[0], "messages", args[1]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted message #%s", args[1])
		return nil
	},
}

var convWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream live changes to a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// The stream stays open until interrupted.
		client.httpClient = &http.Client{}
		resp, err := client.get(cmd.Context(), convPath(args[0], "events"))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		printStep("Watching conversation %s (Ctrl-C to stop)", args[0])
		out := cmd.OutOrStdout()
		err = readEvents(resp.Body, func(ev conversation.Event) {
			printEvent(out, ev)
		})
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	convListCmd.Flags().String("queue", "", "one of not-answered, internal, pending, resolved")
	convCreateCmd.Flags().String("email", "", "customer email")
	convCreateCmd.Flags().String("priority", string(conversation.PriorityMedium), "low, medium or high")
	convAssistCmd.Flags().String("agent", "", "agent name shown on the query (defaults to the server's)")
	convTakeoverCmd.Flags().String("agent", "", "agent taking over (defaults to the server's)")
	convInviteCmd.Flags().String("agent", "", "agent doing the inviting (defaults to console.agent_name)")

	conversationsCmd.AddCommand(convListCmd, convShowCmd, convCreateCmd, convSayCmd, convReplyCmd, convAssistCmd)
	conversationsCmd.AddCommand(convTakeoverCmd, convReleaseCmd, convTagCmd, convPriorityCmd, convInviteCmd)
	conversationsCmd.AddCommand(convEditCmd, convDeleteMessageCmd, convWatchCmd)
}

func convPath(id string, parts ...string) string {
	p := "/conversations/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

func fetchConversation(ctx context.Context, client *apiClient, id string) (conversation.Conversation, error) {
	var c conversation.Conversation
	resp, err := client.get(ctx, convPath(id))
	if err != nil {
		return c, err
	}
	err = decodeJSON(resp, &c)
	return c, err
}

func transition(cmd *cobra.Command, id, action string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), convPath(id, action), body)
	if err != nil {
		return err
	}
	var c conversation.Conversation
	if err := decodeJSON(resp, &c); err != nil {
		return err
	}
	who := "the assistant"
	if c.AssignedAgent != nil {
		who = c.AssignedAgent.Name
	}
	printSuccess("Conversation %s is now handled by %s", c.ID, who)
	return nil
}

func reportInvite(resp *http.Response, name string) error {
	var result map[string]bool
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if !result["added"] {
		printWarning("%s is already part of this conversation", name)
		return nil
	}
	printSuccess("%s has been invited", name)
	return nil
}

// readEvents parses a server-sent event stream, calling fn for each event
// payload. Comment lines and unparseable payloads are skipped.
func readEvents(r io.Reader, fn func(conversation.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var ev conversation.Event
				if json.Unmarshal([]byte(data.String()), &ev) == nil {
					fn(ev)
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return sc.Err()
}

func printSummaries(w io.Writer, list []api.ConversationSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tQUEUE\tPRIORITY\tHANDLER\tLAST MESSAGE")
	for _, s := range list {
		handler := "assistant"
		if s.AssignedAgent != nil {
			handler = s.AssignedAgent.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Counterpart.Name, s.Queue, s.Priority, handler, truncate(s.LastMessage, 48))
	}
	tw.Flush()
}

func printConversation(w io.Writer, c conversation.Conversation) {
	fmt.Fprintf(w, "%s  %s\n", bold.Sprint(c.Counterpart.Name), faint.Sprint(c.Counterpart.Email))
	handler := "assistant"
	if c.AssignedAgent != nil {
		handler = c.AssignedAgent.Name
	}
	fmt.Fprintf(w, "%s\n", faint.Sprintf("queue %s · priority %s · handled by %s", c.Queue, c.Priority, handler))
	if len(c.Tags) > 0 {
		fmt.Fprintf(w, "%s\n", faint.Sprint("tags: "+strings.Join(c.Tags, ", ")))
	}
	fmt.Fprintln(w)
	for _, m := range c.Messages {
		printMessage(w, m)
	}
	if c.IsTyping {
		fmt.Fprintln(w, faint.Sprint("  … typing"))
	}
}

func printExchange(w io.Writer, ex conversation.Exchange) {
	printMessage(w, ex.Posted)
	if ex.Reply != nil {
		printMessage(w, *ex.Reply)
	}
}

func printMessage(w io.Writer, m messagelog.Message) {
	who := m.Author
	if who == "" {
		who = string(m.Role)
	}
	var label string
	switch m.Role {
	case messagelog.RoleUser:
		label = bold.Sprint(who)
	case messagelog.RoleBot:
		label = cyan.Sprint(who)
	case messagelog.RoleAgent:
		label = green.Sprint(who)
	case messagelog.RoleAssistQuery:
		label = yellow.Sprint(who + " (private)")
	default:
		label = faint.Sprint(who)
	}
	edited := ""
	if m.Edited {
		edited = faint.Sprint(" (edited)")
	}
	fmt.Fprintf(w, "%s %s %s%s\n  %s\n", faint.Sprintf("#%d", m.ID), faint.Sprint(m.Timestamp.Local().Format("15:04")), label, edited, m.Text)
}

func printEvent(w io.Writer, ev conversation.Event) {
	switch {
	case ev.Message != nil:
		fmt.Fprintf(w, "%s ", faint.Sprint(ev.Type))
		printMessage(w, *ev.Message)
	case ev.Type == conversation.EventTyping:
		if ev.Typing {
			fmt.Fprintln(w, faint.Sprint("… typing"))
		}
	case ev.Type == conversation.EventStatusChanged:
		fmt.Fprintf(w, "%s %s\n", faint.Sprint(ev.Type), ev.Status)
	case ev.MessageID != 0:
		fmt.Fprintf(w, "%s #%d\n", faint.Sprint(ev.Type), ev.MessageID)
	default:
		fmt.Fprintln(w, faint.Sprint(ev.Type))
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// --- widget ---

var widgetCmd = &cobra.Command{
	Use:   "widget",
	Short: "Talk to the embeddable chatbot as a visitor",
}

var widgetShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show a chatbot session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), widgetPath(args[0], "messages"))
		if err != nil {
			return err
		}
		var st api.WidgetState
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range st.Messages {
			printMessage(out, m)
		}
		if len(st.Participants) > 0 {
			names := make([]string, len(st.Participants))
			for i, p := range st.Participants {
				names[i] = p.Name
			}
			fmt.Fprintln(out, faint.Sprint("participants: "+strings.Join(names, ", ")))
		}
		return nil
	},
}

var widgetSendCmd = &cobra.Command{
	Use:   "send <session> <text>",
	Short: "Send a visitor message and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), widgetPath(args[0], "messages"), map[string]string{"text": strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		var ex conversation.Exchange
		if err := decodeJSON(resp, &ex); err != nil {
			return err
		}
		printExchange(cmd.OutOrStdout(), ex)
		return nil
	},
}

var widgetEditCmd = &cobra.Command{
	Use:   "edit <session> <message id> <text>",
	Short: "Edit a visitor or bot message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), widgetPath(args[0], "messages", args[1]), map[string]string{"text": strings.Join(args[2:], " ")})
		if err != nil {
			return err
		}
		var m messagelog.Message
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var widgetInviteCmd = &cobra.Command{
	Use:   "invite <session> <name>",
	Short: "Add a participant to a chatbot session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("as")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := api.ParticipantRequest{Actor: actor, Person: conversation.Person{Name: strings.Join(args[1:], " ")}}
		resp, err := client.post(cmd.Context(), widgetPath(args[0], "participants"), body)
		if err != nil {
			return err
		}
		return reportInvite(resp, body.Person.Name)
	},
}

var widgetResetCmd = &cobra.Command{
	Use:   "reset <session>",
	Short: "Forget a chatbot session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), widgetPath(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Session %s reset", args[0])
		return nil
	},
}

func init() {
	widgetInviteCmd.Flags().String("as", "You", "name of the person doing the inviting")
	widgetCmd.AddCommand(widgetShowCmd, widgetSendCmd, widgetEditCmd, widgetInviteCmd, widgetResetCmd)
}

func widgetPath(session string, parts ...string) string {
	p := "/widget/" + url.PathEscape(session)
	for _, s := range parts {
		p += "/" + s
	}
	if len(parts) == 0 {
		p += "/"
	}
	return p
}
