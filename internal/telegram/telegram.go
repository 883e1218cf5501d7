package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// ChatKey identifies a chat the way channel mappings do: "@handle" for public
// chats, the numeric id ("-100..." for channels) otherwise.
type ChatKey string

type MediaKind string

const (
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
	MediaKindPhoto    MediaKind = "photo"
	MediaKindOther    MediaKind = "other"
)

type MediaRef struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
}

type Media struct {
	Kind     MediaKind
	MimeType string
	FileName string
	Size     int64
	IsVideo  bool
	Ref      MediaRef
}

type Button struct {
	Text string
	Data []byte
	Row  int
	Col  int
}

type Message struct {
	ID      int
	Date    time.Time
	Text    string
	Buttons []Button
	Media   *Media
}

func (m Message) HasButtons() bool {
	return len(m.Buttons) > 0
}

type CommandEvent struct {
	Chat      ChatKey
	AltChat   ChatKey
	ChatTitle string
	MessageID int
	Command   string
	Args      string
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Run() error
	IsConnected() bool
	RegisterCommandHandler(command string, handler func(CommandEvent))
	SendMessage(ctx context.Context, chat ChatKey, text string) (int, error)
	DeleteMessages(ctx context.Context, chat ChatKey, messageIDs ...int) error
	RecentMessages(ctx context.Context, chat ChatKey, limit int) ([]Message, error)
	ClickButton(ctx context.Context, chat ChatKey, messageID int, button Button) error
	SendMedia(ctx context.Context, chat ChatKey, media MediaRef, caption string) error
}

// ClientFactory builds a transport bound to one session string.
type ClientFactory func(session string) (Client, error)

func HandleKey(username string) ChatKey {
	username = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		return ""
	}
	return ChatKey("@" + strings.ToLower(username))
}

func ChannelKey(channelID int64) ChatKey {
	return ChatKey("-100" + strconv.FormatInt(channelID, 10))
}

func PeerKey(id int64) ChatKey {
	return ChatKey(strconv.FormatInt(id, 10))
}

// CanonicalChatKeys returns the preferred key (public handle when present)
// and the numeric fallback.
func CanonicalChatKeys(username string, numeric ChatKey) (ChatKey, ChatKey) {
	if h := HandleKey(username); h != "" {
		return h, numeric
	}
	return numeric, ""
}

// NormalizeChatKey maps an operator supplied identifier onto a ChatKey.
func NormalizeChatKey(raw string) ChatKey {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ChatKey(raw)
	}
	raw = strings.TrimPrefix(raw, "https://t.me/")
	raw = strings.TrimPrefix(raw, "t.me/")
	return HandleKey(raw)
}

func ParseCommand(text string) (command, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	head = strings.ToLower(strings.TrimPrefix(head, "/"))
	if head == "" {
		return "", "", false
	}
	return head, strings.TrimSpace(rest), true
}
