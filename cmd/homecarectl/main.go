package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/homecare/internal/api"
	"github.com/matheus3301/homecare/internal/client"
	"github.com/matheus3301/homecare/internal/profile"
	"github.com/matheus3301/homecare/internal/wire"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	refreshFlag := flag.Bool("refresh", false, "ask the server for fresh data before listing")
	flag.Usage = printUsage
	flag.Parse()

	name, err := profile.Resolve(*profileFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	out := printer{json: *jsonFlag}

	// watch runs until interrupted; everything else is a single call.
	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, args[1:], out)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "connect":
		cmdConnect(ctx, c, args[1:], out)
	case "disconnect":
		cmdDisconnect(ctx, c, false, out)
	case "logout":
		cmdDisconnect(ctx, c, true, out)
	case "conversations":
		cmdConversations(ctx, c, *refreshFlag, out)
	case "users":
		cmdUsers(ctx, c, *refreshFlag, out)
	case "open":
		need(args, 2, "open <conversation-id>")
		cmdOpen(ctx, c, &api.OpenConversationRequest{ID: args[1]}, out)
	case "chat":
		need(args, 2, "chat <user-id>")
		cmdOpen(ctx, c, &api.OpenConversationRequest{PeerID: args[1]}, out)
	case "close":
		_, err := c.Chat.CloseConversation(ctx, &api.CloseConversationRequest{})
		check(err)
		out.line("Conversation closed.")
	case "messages":
		cmdMessages(ctx, c, *refreshFlag, out)
	case "send":
		need(args, 3, "send <user-id> <text...>")
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), out)
	case "read":
		need(args, 2, "read <message-id>")
		_, err := c.Chat.MarkRead(ctx, &api.MarkReadRequest{MessageID: args[1]})
		check(err)
		out.line("Marked read.")
	case "online":
		need(args, 2, "online <user-id>")
		resp, err := c.Chat.IsOnline(ctx, &api.IsOnlineRequest{UserID: args[1]})
		check(err)
		if out.json {
			out.value(resp)
			return
		}
		fmt.Printf("%s: %s\n", args[1], onlineLabel(resp.Online))
	case "events":
		cmdEvents(ctx, c, args[1:], out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: homecarectl [--profile <name>] [--json] [--refresh] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show connection status")
	fmt.Fprintln(os.Stderr, "  connect [token|-]        Connect, storing a new token when given (- reads stdin)")
	fmt.Fprintln(os.Stderr, "  disconnect               Close the connection")
	fmt.Fprintln(os.Stderr, "  logout                   Close the connection and forget the token")
	fmt.Fprintln(os.Stderr, "  conversations            List conversations")
	fmt.Fprintln(os.Stderr, "  users                    List users")
	fmt.Fprintln(os.Stderr, "  open <conversation-id>   Open a conversation")
	fmt.Fprintln(os.Stderr, "  chat <user-id>           Open or start the conversation with a user")
	fmt.Fprintln(os.Stderr, "  close                    Close the open conversation")
	fmt.Fprintln(os.Stderr, "  messages                 Show messages of the open conversation")
	fmt.Fprintln(os.Stderr, "  send <user-id> <text>    Send a message")
	fmt.Fprintln(os.Stderr, "  read <message-id>        Mark a message read")
	fmt.Fprintln(os.Stderr, "  online <user-id>         Show a user's presence")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]        Stream daemon events")
	fmt.Fprintln(os.Stderr, "  events [limit]           Show the connection journal")
}

func cmdStatus(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.Session.GetStatus(ctx, &api.GetStatusRequest{})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	fmt.Printf("Profile:    %s\n", resp.Profile)
	fmt.Printf("State:      %s\n", resp.State)
	fmt.Printf("Endpoint:   %s\n", resp.Endpoint)
	if resp.Subject != "" {
		fmt.Printf("User:       %s\n", resp.Subject)
	}
	fmt.Printf("Credential: %v\n", resp.HasCredential)
	if resp.CredentialExpiry != nil {
		fmt.Printf("Expires:    %s\n", resp.CredentialExpiry.Local().Format(time.RFC1123))
	}
	fmt.Printf("Signed in:  %v\n", resp.Authenticated)
	if resp.Attempts > 0 || resp.ReconnectPending {
		fmt.Printf("Reconnect:  attempt %d (pending: %v)\n", resp.Attempts, resp.ReconnectPending)
	}
	if resp.LastOpen != nil {
		fmt.Printf("Last open:  %s\n", resp.LastOpen.Local().Format(time.RFC1123))
	}
	if resp.AuthError != "" {
		fmt.Printf("Auth error: %s\n", resp.AuthError)
	}
	if resp.LastError != "" {
		fmt.Printf("Last error: %s\n", resp.LastError)
	}
	fmt.Printf("Uptime:     %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdConnect(ctx context.Context, c *client.Client, args []string, out printer) {
	var token string
	if len(args) > 0 {
		token = args[0]
	}
	if token == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fail(fmt.Errorf("read token: %w", err))
		}
		token = strings.TrimSpace(line)
	}
	resp, err := c.Session.Connect(ctx, &api.ConnectRequest{Token: token})
	if grpcstatus.Code(err) == codes.FailedPrecondition && token == "" {
		fmt.Fprintln(os.Stderr, "no usable credential stored; run: homecarectl connect <token>")
	}
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	if resp.Subject != "" {
		fmt.Printf("%s as %s\n", resp.State, resp.Subject)
		return
	}
	fmt.Println(resp.State)
}

func cmdDisconnect(ctx context.Context, c *client.Client, forget bool, out printer) {
	resp, err := c.Session.Disconnect(ctx, &api.DisconnectRequest{Forget: forget})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	if forget {
		fmt.Println("Disconnected; credential removed.")
		return
	}
	fmt.Println(resp.State)
}

func cmdConversations(ctx context.Context, c *client.Client, refresh bool, out printer) {
	resp, err := c.Chat.ListConversations(ctx, &api.ListConversationsRequest{Refresh: refresh})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	if len(resp.Conversations) == 0 {
		if resp.Loading {
			fmt.Println("Loading conversations...")
		} else {
			fmt.Println("No conversations.")
		}
		return
	}
	for _, conv := range resp.Conversations {
		marker := " "
		if conv.ID == resp.ActiveID {
			marker = "*"
		}
		peer := "?"
		if p, ok := conv.Counterpart(resp.SelfID); ok {
			peer = p.DisplayName()
		}
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Content
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", conv.UnreadCount)
		}
		fmt.Printf("%s %-24s %-20s %-5s %s\n", marker, conv.ID, truncate(peer, 20), unread, truncate(preview, 40))
	}
}

func cmdUsers(ctx context.Context, c *client.Client, refresh bool, out printer) {
	resp, err := c.Chat.ListUsers(ctx, &api.ListUsersRequest{Refresh: refresh})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	if len(resp.Users) == 0 {
		fmt.Println("No users.")
		return
	}
	for _, u := range resp.Users {
		fmt.Printf("%-24s %-24s %s\n", u.ID, truncate(u.DisplayName(), 24), onlineLabel(u.IsOnline))
	}
}

func cmdOpen(ctx context.Context, c *client.Client, req *api.OpenConversationRequest, out printer) {
	resp, err := c.Chat.OpenConversation(ctx, req)
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	fmt.Printf("Opened %s\n", resp.ActiveID)
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Warning)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, refresh bool, out printer) {
	resp, err := c.Chat.ListMessages(ctx, &api.ListMessagesRequest{Refresh: refresh})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	if resp.ActiveID == "" {
		fmt.Println("No conversation is open.")
		return
	}
	if len(resp.Messages) == 0 {
		if resp.Loading {
			fmt.Println("Loading messages...")
		} else {
			fmt.Println("No messages.")
		}
		return
	}
	for _, m := range resp.Messages {
		printMessage(m, resp.PeerID)
	}
}

func cmdSend(ctx context.Context, c *client.Client, peer, text string, out printer) {
	resp, err := c.Chat.SendMessage(ctx, &api.SendMessageRequest{PeerID: peer, Content: text})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	fmt.Println("Sent.")
}

func cmdEvents(ctx context.Context, c *client.Client, args []string, out printer) {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fail(fmt.Errorf("invalid limit %q", args[0]))
		}
		limit = n
	}
	resp, err := c.Session.RecentEvents(ctx, &api.RecentEventsRequest{Limit: limit})
	check(err)
	if out.json {
		out.value(resp)
		return
	}
	fmt.Println("Connection:")
	for _, e := range resp.Events {
		detail := e.Detail
		switch {
		case e.From != "" || e.To != "":
			detail = e.From + " -> " + e.To
		case e.Delay > 0:
			detail = fmt.Sprintf("attempt %d in %s", e.Attempt, e.Delay)
		}
		fmt.Printf("  %s  %-20s %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, detail)
	}
	fmt.Println("Outbound:")
	for _, o := range resp.Outbound {
		fmt.Printf("  %s  %-18s %-8s %s %s\n", o.CreatedAt.Local().Format(time.DateTime), o.Type, o.Outcome, o.Key, o.Reason)
	}
}

func cmdWatch(ctx context.Context, c *client.Client, prefixes []string, out printer) {
	stream, err := c.Chat.WatchEvents(ctx, &api.WatchEventsRequest{Prefixes: prefixes})
	check(err)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			check(err)
		}
		if out.json {
			out.compact(evt)
			continue
		}
		fmt.Printf("%s  %-28s %s\n", evt.At.Local().Format(time.TimeOnly), evt.Kind, evt.Payload)
	}
}

func printMessage(m wire.Message, peer string) {
	who := "me"
	if m.SenderID == peer {
		who = peer
	}
	state := ""
	if m.Read {
		state = " ✓"
	}
	body := m.Content
	if body == "" && m.Image != "" {
		body = "[image]"
	}
	fmt.Printf("%s  %-12s %s%s\n", m.CreatedAt.Local().Format(time.DateTime), truncate(who, 12), body, state)
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: homecarectl %s\n", usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	if st, ok := grpcstatus.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

type printer struct {
	json bool
}

func (printer) line(s string) { fmt.Println(s) }

func (printer) value(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func (printer) compact(v any) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
