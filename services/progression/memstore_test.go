package progression

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"guild-leveling/services/guild"
)

// memStore is an in-memory Store with the same compare-and-swap contract as the gorm store.
type memStore struct {
	mu       sync.Mutex
	rows     map[string]UserProgress
	policies map[string]*guild.Policy
	seq      int

	// hooks
	beforeSave func(p *UserProgress, expected int64) error
	loadFn     func(ctx context.Context) error
	saves      int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]UserProgress{}, policies: map[string]*guild.Policy{}}
}

func memKey(guildID, userID string) string { return guildID + "/" + userID }

func (m *memStore) LoadProgress(ctx context.Context, guildID, userID string) (*UserProgress, error) {
	if m.loadFn != nil {
		if err := m.loadFn(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memKey(guildID, userID)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memStore) SaveProgress(ctx context.Context, p *UserProgress, expected int64) error {
	if m.beforeSave != nil {
		if err := m.beforeSave(p, expected); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(p.GuildID, p.UserID)
	row, ok := m.rows[key]
	switch {
	case expected == 0 && ok:
		return ErrConcurrentWrite
	case expected != 0 && (!ok || row.Version != expected):
		return ErrConcurrentWrite
	}
	if p.ID == "" {
		m.seq++
		p.ID = fmt.Sprint(m.seq)
	}
	p.Version = expected + 1
	m.rows[key] = *p
	m.saves++
	return nil
}

func (m *memStore) LoadPolicy(ctx context.Context, guildID string) (*guild.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.policies[guildID]; ok {
		cp := *p
		return &cp, nil
	}
	return guild.DefaultPolicy(guildID), nil
}

func (m *memStore) sorted(guildID string) []*UserProgress {
	var out []*UserProgress
	for _, r := range m.rows {
		if guildID == "" || r.GuildID == guildID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		if a.GuildID != b.GuildID {
			return a.GuildID < b.GuildID
		}
		return a.UserID < b.UserID
	})
	return out
}

func (m *memStore) QueryGuild(ctx context.Context, guildID string, limit, offset int) ([]*UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sorted(guildID)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) QueryGlobal(ctx context.Context, limit int) ([]*UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sorted("")
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) CountAhead(ctx context.Context, p *UserProgress) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.sorted(p.GuildID) {
		if r.UserID == p.UserID {
			break
		}
		n++
	}
	return n, nil
}

func (m *memStore) get(guildID, userID string) (UserProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[memKey(guildID, userID)]
	return r, ok
}

func (m *memStore) put(p UserProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	m.rows[memKey(p.GuildID, p.UserID)] = p
}

func (m *memStore) setPolicy(p *guild.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.GuildID] = p
}
