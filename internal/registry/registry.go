package registry

import (
	"github.com/foxseedlab/lecturerelay/internal/telegram"
)

type ChannelMapping struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	BatchID   string `json:"batchId"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

// Snapshot is an immutable view of the channel mappings taken at one point in
// time. Later entries for the same chat replace earlier ones.
type Snapshot struct {
	byKey map[telegram.ChatKey]ChannelMapping
	order []telegram.ChatKey
	size  int
}

func NewSnapshot(channels []ChannelMapping) *Snapshot {
	s := &Snapshot{byKey: make(map[telegram.ChatKey]ChannelMapping, len(channels))}
	for _, ch := range channels {
		key := telegram.NormalizeChatKey(ch.ChannelID)
		if key == "" {
			continue
		}
		if _, seen := s.byKey[key]; !seen {
			s.order = append(s.order, key)
		}
		s.byKey[key] = ch
	}
	s.size = len(s.byKey)
	return s
}

// Lookup tries each key in order and returns the first mapping found.
func (s *Snapshot) Lookup(keys ...telegram.ChatKey) (ChannelMapping, bool) {
	if s == nil {
		return ChannelMapping{}, false
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if ch, ok := s.byKey[k]; ok {
			return ch, true
		}
	}
	return ChannelMapping{}, false
}

// Active returns the enabled mappings in the order their chats first appeared.
func (s *Snapshot) Active() []ChannelMapping {
	if s == nil {
		return nil
	}
	out := make([]ChannelMapping, 0, len(s.order))
	for _, key := range s.order {
		if ch := s.byKey[key]; ch.Active {
			out = append(out, ch)
		}
	}
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}
