package engine

import "sync"

const defaultHistorySize = 200

// History keeps the most recent run records.
type History struct {
	mu    sync.Mutex
	size  int
	items []HistoryItem
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{size: size}
}

func (h *History) Add(it HistoryItem) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.items = append(h.items, it)
	if len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
	h.mu.Unlock()
}

// Items returns a copy, oldest first.
func (h *History) Items() []HistoryItem {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryItem, len(h.items))
	copy(out, h.items)
	return out
}
