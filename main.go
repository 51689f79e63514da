package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"chat-sync/internal/api"
	"chat-sync/internal/connection"
	"chat-sync/internal/devserver"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/reconcile"
	"chat-sync/internal/roomlist"
	"chat-sync/internal/session"
)

func main() {
	_ = godotenv.Load()

	if shutdown := setupTracing(); shutdown != nil {
		defer shutdown()
	}

	if amqpURL := getEnv("AMQP_URL", ""); amqpURL != "" {
		publisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EXCHANGE", "chat_sync_events"))
		if err != nil {
			log.Printf("amqp telemetry disabled: %v", err)
		} else {
			observability.SetPublisher(publisher)
			defer publisher.Close()
		}
	}

	token := getEnv("CHAT_TOKEN", "demo-token")
	userID := getEnvInt("CHAT_USER_ID", 1)
	peerID := userID + 1

	baseURL := getEnv("CHAT_BASE_URL", "")
	if baseURL == "" {
		port := getEnv("PORT", "8083")
		server := devserver.NewServer(map[string]int{token: userID, "peer-token": peerID})
		conv := server.SeedConversation(models.KindTeam, "general", userID, peerID)
		if _, err := server.SeedMessage(conv.ID, peerID, "welcome aboard"); err != nil {
			log.Fatalf("seed message: %v", err)
		}

		router := server.Router()
		go func() {
			if err := router.Run(":" + port); err != nil {
				log.Fatalf("dev server error: %v", err)
			}
		}()
		baseURL = "http://localhost:" + port
		log.Printf("dev server listening on %s", baseURL)
		time.Sleep(200 * time.Millisecond)
	}
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"

	tokens := session.StaticToken(token)
	apiClient := api.NewClient(baseURL, tokens)
	manager := connection.NewManager(wsURL, connection.NewWebsocketDialer(connection.DefaultDialerOptions()), tokens)

	reconciler := reconcile.NewReconciler(apiClient, userID, reconcile.Options{})
	rooms := roomlist.NewSynchronizer(apiClient, userID, roomlist.Options{})

	detachReconciler := reconciler.Attach(manager)
	defer detachReconciler()
	detachRooms := rooms.Attach(manager)
	defer detachRooms()

	// Re-issue the active join whenever the connection comes back.
	offStatus := manager.OnStatusChange(func(status connection.Status) {
		if status != connection.StatusConnected {
			return
		}
		if id := reconciler.ConversationID(); id != "" {
			manager.JoinConversation(id)
		}
	})
	defer offStatus()

	ctx := context.Background()
	if err := manager.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer manager.Disconnect()

	if err := rooms.Load(ctx); err != nil {
		log.Fatalf("load conversations: %v", err)
	}
	summaries := rooms.Rooms()
	if len(summaries) == 0 {
		log.Fatalf("no conversations visible for user %d", userID)
	}

	active := summaries[0]
	reconciler.Reset(active.ID)
	manager.JoinConversation(active.ID)
	rooms.SetActive(ctx, active.ID)

	if _, err := reconciler.LoadPage(ctx, "", 50); err != nil {
		log.Fatalf("load history: %v", err)
	}

	manager.SendTyping(active.ID, true)
	reconciler.Submit(ctx, "hello from chat-sync")
	manager.SendTyping(active.ID, false)

	time.Sleep(time.Second)

	for _, msg := range reconciler.Snapshot() {
		log.Printf("[%s] user %d: %s (%s)", msg.CreatedAt.Format(time.RFC3339), msg.AuthorID, msg.Content, msg.DeliveryState)
	}
	for _, room := range rooms.Rooms() {
		preview := ""
		if room.LastMessage != nil {
			preview = room.LastMessage.Preview
		}
		log.Printf("room %s (%s) unread=%v last=%q", room.ID, room.Kind, room.Unread, preview)
	}
}

// setupTracing installs an OTLP trace exporter when an endpoint is configured.
func setupTracing() func() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
		return nil
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() {
		_ = provider.Shutdown(context.Background())
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
