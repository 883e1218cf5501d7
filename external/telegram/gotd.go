package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	telegrampkg "github.com/foxseedlab/lecturerelay/internal/telegram"
	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

const (
	callbackAnswerTimeout = 10 * time.Second
	dialogWarmupLimit     = 100
)

var ErrUnknownChat = errors.New("chat is not known to this session")

// Client is a user-session MTProto transport. A user session is needed to
// read another bot's replies and press its inline buttons.
type Client struct {
	client *gotd.Client

	mu       sync.RWMutex
	api      *tg.Client
	resolver peer.Resolver
	peers    map[telegrampkg.ChatKey]tg.InputPeerClass
	handlers map[string]func(telegrampkg.CommandEvent)

	connected atomic.Bool
	cancel    context.CancelFunc
	errCh     chan error
	closeOnce sync.Once
}

func NewClient(appID int, appHash, sessionString string, logger *zap.Logger) (telegrampkg.Client, error) {
	data, err := session.TelethonSession(strings.TrimSpace(sessionString))
	if err != nil {
		return nil, fmt.Errorf("failed to decode session string: %w", err)
	}
	storage := &session.StorageMemory{}
	loader := session.Loader{Storage: storage}
	if err := loader.Save(context.Background(), data); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	c := &Client{
		peers:    make(map[telegrampkg.ChatKey]tg.InputPeerClass),
		handlers: make(map[string]func(telegrampkg.CommandEvent)),
		errCh:    make(chan error, 1),
	}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		c.handleMessage(e, update.Message)
		return nil
	})
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		c.handleMessage(e, update.Message)
		return nil
	})

	c.client = gotd.NewClient(appID, appHash, gotd.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
		Logger:         logger,
	})
	return c, nil
}

func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	ready := make(chan struct{})

	go func() {
		c.errCh <- c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to check authorization: %w", err)
			}
			if !status.Authorized {
				return errors.New("telegram session is not authorized")
			}
			api := c.client.API()
			c.mu.Lock()
			c.api = api
			c.resolver = peer.DefaultResolver(api)
			c.mu.Unlock()
			if err := c.warmPeers(ctx, api); err != nil {
				slog.Warn("failed to preload dialogs", "error", err)
			}
			c.connected.Store(true)
			slog.Info("telegram session authorized", "user_id", status.User.ID, "username", status.User.Username)
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		c.connected.Store(false)
	}()

	select {
	case <-ready:
		return nil
	case err := <-c.errCh:
		cancel()
		c.errCh <- err
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (c *Client) Run() error {
	err := <-c.errCh
	c.errCh <- err
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) RegisterCommandHandler(command string, handler func(telegrampkg.CommandEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[strings.ToLower(command)] = handler
}

func (c *Client) handleMessage(e tg.Entities, raw tg.MessageClass) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return
	}
	command, args, ok := telegrampkg.ParseCommand(msg.Message)
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.handlers[command]
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	primary, alt, title := c.rememberPeer(e, msg.PeerID)
	if primary == "" {
		return
	}
	slog.Info("command received", "command", command, "chat", primary, "alt_chat", alt, "message_id", msg.ID)
	handler(telegrampkg.CommandEvent{
		Chat:      primary,
		AltChat:   alt,
		ChatTitle: title,
		MessageID: msg.ID,
		Command:   command,
		Args:      args,
	})
}

// rememberPeer caches the input peer for the chat a message came from and
// returns its canonical keys.
func (c *Client) rememberPeer(e tg.Entities, p tg.PeerClass) (telegrampkg.ChatKey, telegrampkg.ChatKey, string) {
	switch p := p.(type) {
	case *tg.PeerChannel:
		numeric := telegrampkg.ChannelKey(p.ChannelID)
		input := tg.InputPeerClass(&tg.InputPeerChannel{ChannelID: p.ChannelID})
		var username, title string
		if ch, ok := e.Channels[p.ChannelID]; ok {
			input = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			username, title = ch.Username, ch.Title
		}
		primary, alt := telegrampkg.CanonicalChatKeys(username, numeric)
		c.storePeer(input, primary, alt)
		return primary, alt, title
	case *tg.PeerChat:
		key := telegrampkg.PeerKey(-p.ChatID)
		var title string
		if ch, ok := e.Chats[p.ChatID]; ok {
			title = ch.Title
		}
		c.storePeer(&tg.InputPeerChat{ChatID: p.ChatID}, key)
		return key, "", title
	case *tg.PeerUser:
		numeric := telegrampkg.PeerKey(p.UserID)
		input := tg.InputPeerClass(&tg.InputPeerUser{UserID: p.UserID})
		var username, title string
		if u, ok := e.Users[p.UserID]; ok {
			input = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
			username, title = u.Username, strings.TrimSpace(u.FirstName+" "+u.LastName)
		}
		primary, alt := telegrampkg.CanonicalChatKeys(username, numeric)
		c.storePeer(input, primary, alt)
		return primary, alt, title
	default:
		return "", "", ""
	}
}

func (c *Client) storePeer(input tg.InputPeerClass, keys ...telegrampkg.ChatKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if k != "" {
			c.peers[k] = input
		}
	}
}

func (c *Client) warmPeers(ctx context.Context, api *tg.Client) error {
	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogWarmupLimit,
	})
	if err != nil {
		return err
	}
	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	}
	for _, chat := range chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			primary, alt := telegrampkg.CanonicalChatKeys(ch.Username, telegrampkg.ChannelKey(ch.ID))
			c.storePeer(&tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, primary, alt)
		case *tg.Chat:
			c.storePeer(&tg.InputPeerChat{ChatID: ch.ID}, telegrampkg.PeerKey(-ch.ID))
		}
	}
	for _, user := range users {
		if u, ok := user.(*tg.User); ok {
			primary, alt := telegrampkg.CanonicalChatKeys(u.Username, telegrampkg.PeerKey(u.ID))
			c.storePeer(&tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}, primary, alt)
		}
	}
	slog.Debug("preloaded dialogs", "chats", len(chats), "users", len(users))
	return nil
}

func (c *Client) apiClient() (*tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil || !c.connected.Load() {
		return nil, errors.New("telegram client is not connected")
	}
	return c.api, nil
}

func (c *Client) resolvePeer(ctx context.Context, chat telegrampkg.ChatKey) (tg.InputPeerClass, error) {
	c.mu.RLock()
	p, ok := c.peers[chat]
	resolver := c.resolver
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !strings.HasPrefix(string(chat), "@") || resolver == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChat, chat)
	}
	p, err := resolver.ResolveDomain(ctx, strings.TrimPrefix(string(chat), "@"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", chat, err)
	}
	c.storePeer(p, chat)
	return p, nil
}

func (c *Client) SendMessage(ctx context.Context, chat telegrampkg.ChatKey, text string) (int, error) {
	api, err := c.apiClient()
	if err != nil {
		return 0, err
	}
	p, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return 0, err
	}
	randomID := rand.Int64()
	updates, err := api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     p,
		Message:  text,
		RandomID: randomID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to send message to %s: %w", chat, err)
	}
	return sentMessageID(updates, randomID), nil
}

func (c *Client) SendMedia(ctx context.Context, chat telegrampkg.ChatKey, media telegrampkg.MediaRef, caption string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	p, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}
	_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer: p,
		Media: &tg.InputMediaDocument{
			ID: &tg.InputDocument{
				ID:            media.ID,
				AccessHash:    media.AccessHash,
				FileReference: media.FileReference,
			},
		},
		Message:  caption,
		RandomID: rand.Int64(),
	})
	if err != nil {
		return fmt.Errorf("failed to send media to %s: %w", chat, err)
	}
	return nil
}

func (c *Client) DeleteMessages(ctx context.Context, chat telegrampkg.ChatKey, messageIDs ...int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	p, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}
	if ch, ok := p.(*tg.InputPeerChannel); ok {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      messageIDs,
		})
	} else {
		_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			Revoke: true,
			ID:     messageIDs,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to delete messages in %s: %w", chat, err)
	}
	return nil
}

func (c *Client) RecentMessages(ctx context.Context, chat telegrampkg.ChatKey, limit int) ([]telegrampkg.Message, error) {
	api, err := c.apiClient()
	if err != nil {
		return nil, err
	}
	p, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return nil, err
	}
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  p,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", chat, err)
	}
	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}
	out := make([]telegrampkg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, convertMessage(msg))
		}
	}
	return out, nil
}

func (c *Client) ClickButton(ctx context.Context, chat telegrampkg.ChatKey, messageID int, button telegrampkg.Button) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	p, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, callbackAnswerTimeout)
	defer cancel()
	_, err = api.MessagesGetBotCallbackAnswer(ctx, &tg.MessagesGetBotCallbackAnswerRequest{
		Peer:  p,
		MsgID: messageID,
		Data:  button.Data,
	})
	if err != nil {
		return fmt.Errorf("callback for %q in %s: %w", button.Text, chat, err)
	}
	return nil
}

func sentMessageID(updates tg.UpdatesClass, randomID int64) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		return messageIDFromUpdates(u.Updates, randomID)
	case *tg.UpdatesCombined:
		return messageIDFromUpdates(u.Updates, randomID)
	}
	return 0
}

func messageIDFromUpdates(updates []tg.UpdateClass, randomID int64) int {
	for _, update := range updates {
		if u, ok := update.(*tg.UpdateMessageID); ok && u.RandomID == randomID {
			return u.ID
		}
	}
	for _, update := range updates {
		switch u := update.(type) {
		case *tg.UpdateNewMessage:
			return u.Message.GetID()
		case *tg.UpdateNewChannelMessage:
			return u.Message.GetID()
		}
	}
	return 0
}

func convertMessage(msg *tg.Message) telegrampkg.Message {
	out := telegrampkg.Message{
		ID:   msg.ID,
		Date: time.Unix(int64(msg.Date), 0),
		Text: msg.Message,
	}
	out.Buttons = convertButtons(msg.ReplyMarkup)
	out.Media = convertMedia(msg.Media)
	return out
}

func convertButtons(markup tg.ReplyMarkupClass) []telegrampkg.Button {
	var rows []tg.KeyboardButtonRow
	switch m := markup.(type) {
	case *tg.ReplyInlineMarkup:
		rows = m.Rows
	case *tg.ReplyKeyboardMarkup:
		rows = m.Rows
	default:
		return nil
	}
	var out []telegrampkg.Button
	for r, row := range rows {
		for col, b := range row.Buttons {
			button := telegrampkg.Button{Text: b.GetText(), Row: r, Col: col}
			if cb, ok := b.(*tg.KeyboardButtonCallback); ok {
				button.Data = cb.Data
			}
			out = append(out, button)
		}
	}
	return out
}

func convertMedia(media tg.MessageMediaClass) *telegrampkg.Media {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		d, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		out := &telegrampkg.Media{
			Kind:     telegrampkg.MediaKindDocument,
			MimeType: d.MimeType,
			Size:     d.Size,
			IsVideo:  strings.HasPrefix(d.MimeType, "video/"),
			Ref: telegrampkg.MediaRef{
				ID:            d.ID,
				AccessHash:    d.AccessHash,
				FileReference: d.FileReference,
			},
		}
		for _, attr := range d.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				if !a.RoundMessage {
					out.Kind = telegrampkg.MediaKindVideo
					out.IsVideo = true
				}
			case *tg.DocumentAttributeFilename:
				out.FileName = a.FileName
			}
		}
		return out
	case *tg.MessageMediaPhoto:
		return &telegrampkg.Media{Kind: telegrampkg.MediaKindPhoto}
	case nil:
		return nil
	default:
		return &telegrampkg.Media{Kind: telegrampkg.MediaKindOther}
	}
}
