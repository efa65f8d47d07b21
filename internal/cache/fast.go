package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/conduit-ai/conduit/internal/provider"
)

// entryOverhead approximates per-entry bookkeeping cost beyond the content
// bytes. Charged once at insertion.
const entryOverhead = 256

// Entry is one cached response with its access bookkeeping.
type Entry struct {
	Fingerprint  string
	Response     provider.Response
	CreatedAt    time.Time
	LastAccessAt time.Time
	AccessCount  int
	SizeBytes    int
}

// fastTier is a mutex-guarded LRU bounded by a byte budget and an entry
// ceiling. Eviction drops the least recently accessed entry first.
type fastTier struct {
	mu         sync.Mutex
	maxBytes   int64
	maxEntries int
	curBytes   int64
	byKey      map[string]*list.Element
	order      *list.List // front = most recently used
}

func newFastTier(maxBytes int64, maxEntries int) *fastTier {
	return &fastTier{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		byKey:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// get returns a copy of the cached response and refreshes its LRU position.
func (f *fastTier) get(fp string) *provider.Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.byKey[fp]
	if !ok {
		return nil
	}
	e := el.Value.(*Entry)
	e.LastAccessAt = time.Now()
	e.AccessCount++
	f.order.MoveToFront(el)

	resp := e.Response
	if resp.Usage != nil {
		u := *resp.Usage
		resp.Usage = &u
	}
	return &resp
}

func (f *fastTier) put(fp string, resp provider.Response, createdAt time.Time) {
	// The entry owns its usage; detach it from the caller's copy.
	if resp.Usage != nil {
		u := *resp.Usage
		resp.Usage = &u
	}
	size := len(resp.Content) + entryOverhead

	f.mu.Lock()
	defer f.mu.Unlock()

	if el, ok := f.byKey[fp]; ok {
		e := el.Value.(*Entry)
		f.curBytes += int64(size) - int64(e.SizeBytes)
		e.Response = resp
		e.SizeBytes = size
		e.LastAccessAt = time.Now()
		f.order.MoveToFront(el)
	} else {
		e := &Entry{
			Fingerprint:  fp,
			Response:     resp,
			CreatedAt:    createdAt,
			LastAccessAt: createdAt,
			SizeBytes:    size,
		}
		f.byKey[fp] = f.order.PushFront(e)
		f.curBytes += int64(size)
	}

	for (f.curBytes > f.maxBytes || f.order.Len() > f.maxEntries) && f.order.Len() > 0 {
		f.evictOldest()
	}
}

// evictOldest removes the back (least recently used) entry. Caller holds the lock.
func (f *fastTier) evictOldest() {
	el := f.order.Back()
	if el == nil {
		return
	}
	e := f.order.Remove(el).(*Entry)
	delete(f.byKey, e.Fingerprint)
	f.curBytes -= int64(e.SizeBytes)
}

func (f *fastTier) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKey = make(map[string]*list.Element)
	f.order.Init()
	f.curBytes = 0
}

func (f *fastTier) stats() (entries int, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len(), f.curBytes
}
