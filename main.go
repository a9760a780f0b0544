package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"chat-client/internal/chat"
	"chat-client/internal/chattest"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/rest"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

func main() {
	devserver := flag.Bool("devserver", false, "run the in-memory dev backend instead of the client")
	flag.Parse()

	_ = godotenv.Load()

	if *devserver {
		runDevServer()
		return
	}

	token := os.Getenv("CHAT_TOKEN")
	userID := os.Getenv("CHAT_USER_ID")
	if token == "" || userID == "" {
		log.Fatal("CHAT_TOKEN and CHAT_USER_ID must be set")
	}
	apiURL := getEnv("CHAT_API_URL", "http://localhost:8083")
	wsURL := getEnv("CHAT_WS_URL", "ws://localhost:8083/ws")

	ctx := context.Background()

	shutdown, err := telemetry.Setup(ctx, "chat-client", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Fatalf("telemetry setup failed: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	publisher := observability.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "chat_events"))
	observability.SetPublisher(publisher)
	defer publisher.Close()

	api := rest.NewClient(apiURL, nil)

	var session *chat.Session
	channel := ws.NewChannel(wsURL, ws.EventHandlerFunc(func(ev models.ChannelEvent) {
		session.HandleChannelEvent(ev)
	}))
	session = chat.NewSession(chat.Config{
		UserID:  userID,
		Token:   token,
		API:     api,
		Channel: channel,
	})
	session.SetListener(printEvent)

	if err := session.Start(ctx); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer session.Close()

	fmt.Println("commands: /users /chats /open <conv> /msg <user> /read <msg> /del <msg> /quit")
	runLoop(ctx, session)
}

func runLoop(ctx context.Context, session *chat.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg := line, ""
		if i := strings.IndexByte(line, ' '); i > 0 {
			cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
		}

		switch cmd {
		case "/quit":
			return
		case "/users":
			users, err := session.Users(ctx)
			if err != nil {
				log.Printf("list users failed: %v", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("  %s  %s\n", u.ID, u.Username)
			}
		case "/chats":
			for _, view := range session.Conversations() {
				label := view.Title
				if label == "" {
					label = view.CounterpartID
				}
				fmt.Printf("  %s  %s  unread=%d  %s\n", view.ID, label, view.Unread, view.LastMessagePreview)
			}
		case "/open":
			if err := session.Select(ctx, arg); err != nil {
				log.Printf("open failed: %v", err)
				continue
			}
			for _, m := range session.Messages(arg) {
				fmt.Printf("  [%s] %s: %s\n", m.ID, m.SenderID, m.DisplayContent())
			}
		case "/msg":
			conv, err := session.StartDirectWith(ctx, arg)
			if err != nil {
				log.Printf("start direct failed: %v", err)
				continue
			}
			fmt.Printf("  conversation %s\n", conv.ID)
		case "/read":
			if err := session.MarkRead(ctx, arg); err != nil {
				log.Printf("mark read failed: %v", err)
			}
		case "/del":
			if err := session.Delete(ctx, arg); err != nil {
				log.Printf("delete failed: %v", err)
			}
		default:
			session.Draft(line)
			if err := session.Send(ctx, line); err != nil {
				log.Printf("send failed: %v", err)
			}
		}
	}
}

func printEvent(ev models.ChannelEvent) {
	switch ev.Type {
	case models.EventMessageCreated:
		fmt.Printf("<< [%s] %s: %s\n", ev.Message.ID, ev.Message.SenderID, ev.Message.DisplayContent())
	case models.EventMessageRead:
		fmt.Printf("<< read %s by %s\n", ev.MessageID, ev.UserID)
	case models.EventMessageDeleted:
		fmt.Printf("<< deleted %s\n", ev.MessageID)
	case models.EventTypingStarted:
		fmt.Printf("<< %s is typing...\n", ev.UserID)
	case models.EventTypingStopped:
		fmt.Printf("<< %s stopped typing\n", ev.UserID)
	}
}

func runDevServer() {
	server := chattest.NewServer()
	server.AddUser(models.User{ID: "alice", Username: "alice"}, "alice-token")
	server.AddUser(models.User{ID: "bob", Username: "bob"}, "bob-token")

	addr := ":" + getEnv("PORT", "8083")
	log.Printf("dev backend listening on %s (users: alice/alice-token, bob/bob-token)", addr)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatalf("dev backend error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
