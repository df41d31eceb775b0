package store

import "sync"

// Feed fans committed changes out to subscribers. Callbacks run synchronously on
// the writer's goroutine after the write, outside the feed's lock.
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	table Table
	kinds map[ChangeKind]bool
	fn    func(Change)
}

// Subscribe registers fn for changes on table.
func (f *Feed) Subscribe(table Table, fn func(Change), kinds ...ChangeKind) func() {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]subscription)
	}
	f.nextID++
	id := f.nextID
	sub := subscription{table: table, fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[ChangeKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	f.subs[id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers change to matching subscribers.
func (f *Feed) Publish(change Change) {
	f.mu.RLock()
	matched := make([]func(Change), 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.table != change.Table {
			continue
		}
		if sub.kinds != nil && !sub.kinds[change.Kind] {
			continue
		}
		matched = append(matched, sub.fn)
	}
	f.mu.RUnlock()

	for _, fn := range matched {
		fn(change)
	}
}
