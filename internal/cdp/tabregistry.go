package cdp

import (
	"sort"
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabInfo describes a page target known to the daemon.
type TabInfo struct {
	ID        int       `json:"id"`
	TargetID  target.ID `json:"target_id"`
	URL       string    `json:"url"`
	BrowserID string    `json:"browser_id"`
}

// TabRegistry maps CDP target IDs to stable integer tab IDs. An ID is never
// reused within a process, so a stale ID cannot resolve to a different tab.
type TabRegistry struct {
	mu     sync.RWMutex
	byTgt  map[target.ID]*TabInfo
	byID   map[int]*TabInfo
	nextID int
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		byTgt: make(map[target.ID]*TabInfo),
		byID:  make(map[int]*TabInfo),
	}
}

// Register records targetID (or updates its URL) and returns a copy of its
// entry.
func (r *TabRegistry) Register(targetID target.ID, url string) TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.byTgt[targetID]; ok {
		info.URL = url
		return *info
	}

	r.nextID++
	info := &TabInfo{
		ID:        r.nextID,
		TargetID:  targetID,
		URL:       url,
		BrowserID: BrowserIDFromTargetID(string(targetID)),
	}
	r.byTgt[targetID] = info
	r.byID[info.ID] = info
	return *info
}

// Update sets the URL of an already registered target. It reports false,
// and registers nothing, when the target is unknown.
func (r *TabRegistry) Update(targetID target.ID, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byTgt[targetID]
	if ok {
		info.URL = url
	}
	return ok
}

func (r *TabRegistry) Get(targetID target.ID) (TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byTgt[targetID]
	if !ok {
		return TabInfo{}, false
	}
	return *info, true
}

func (r *TabRegistry) ByID(tabID int) (TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[tabID]
	if !ok {
		return TabInfo{}, false
	}
	return *info, true
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.byTgt[targetID]; ok {
		delete(r.byID, info.ID)
		delete(r.byTgt, targetID)
	}
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTgt)
}

// List returns every registered tab ordered by ID.
func (r *TabRegistry) List() []TabInfo {
	r.mu.RLock()
	out := make([]TabInfo, 0, len(r.byTgt))
	for _, info := range r.byTgt {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BrowserIDFromTargetID returns the short form of a target ID used in logs.
func BrowserIDFromTargetID(targetID string) string {
	if len(targetID) > 8 {
		return targetID[:8]
	}
	return targetID
}
