package wa

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/buddy/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp
// connection. It is the single implementation of the narrow interfaces
// the lifecycle manager, recovery engine, status watcher and membership
// reconciler consume.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Buddy", [3]uint32{1, 0, 0})

	dbPath := session.DeviceDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	// Reconnection is owned by the lifecycle manager, not the engine.
	client.EnableAutoReconnect = false

	return &Adapter{
		client:    client,
		container: container,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Self returns the JID assigned to this session, or the zero JID before
// pairing.
func (a *Adapter) Self() types.JID {
	if a.client.Store.ID == nil {
		return types.EmptyJID
	}
	return *a.client.Store.ID
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// SendText sends a plain text message to the given JID.
func (a *Adapter) SendText(ctx context.Context, to types.JID, text string) error {
	_, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendMessage sends a full message payload to the given JID. Used by
// delete-recovery to resend retained payloads (media messages keep
// their key and path, so a resend re-shares the media).
func (a *Adapter) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) error {
	_, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// MarkRead sends read receipts for the given message IDs.
func (a *Adapter) MarkRead(ctx context.Context, ids []types.MessageID, ts time.Time, chat, sender types.JID) error {
	if err := a.client.MarkRead(ctx, ids, ts, chat, sender); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// React posts an emoji reaction on the given message.
func (a *Adapter) React(ctx context.Context, chat, sender types.JID, id types.MessageID, emoji string) error {
	_, err := a.client.SendMessage(ctx, chat, a.client.BuildReaction(chat, sender, id, emoji))
	if err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

// JoinInvite accepts a group invite code and returns the group JID.
func (a *Adapter) JoinInvite(ctx context.Context, code string) (types.JID, error) {
	jid, err := a.client.JoinGroupWithLink(ctx, code)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("join invite: %w", err)
	}
	return jid, nil
}
