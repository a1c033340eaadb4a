package sync

import (
	"time"

	"github.com/matheus3301/homecare/internal/wire"
)

// PresenceEntry is the last known online flag for one user.
type PresenceEntry struct {
	Online   bool
	LastSeen *time.Time
}

// Presence maps user id to presence. It is only written by status change
// events and by the self announcement on auth_success.
type Presence map[string]PresenceEntry

func (p Presence) clone() Presence {
	out := make(Presence, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// apply merges the entry for u.ID into u.
func (p Presence) apply(u wire.User) wire.User {
	if e, ok := p[u.ID]; ok {
		u.IsOnline = e.Online
		if e.LastSeen != nil {
			u.LastSeen = e.LastSeen
		}
	}
	return u
}

// mergePresence recomputes the presence fields on directory entries and
// conversation participants.
func (s *State) mergePresence() {
	for i, u := range s.Users {
		s.Users[i] = s.Presence.apply(u)
	}
	for i := range s.Conversations {
		for j, p := range s.Conversations[i].Participants {
			s.Conversations[i].Participants[j] = s.Presence.apply(p)
		}
	}
}

// upsertPresence records a status flip for u and folds it into the directory
// and every conversation in one step. u may carry only an id.
func (s *State) upsertPresence(u wire.User, online bool, now time.Time) {
	entry := PresenceEntry{Online: online, LastSeen: u.LastSeen}
	if !online && entry.LastSeen == nil {
		t := now
		entry.LastSeen = &t
	}
	s.Presence[u.ID] = entry

	found := false
	for i, existing := range s.Users {
		if existing.ID != u.ID {
			continue
		}
		found = true
		if existing.FirstName == "" {
			existing.FirstName = u.FirstName
		}
		if existing.LastName == "" {
			existing.LastName = u.LastName
		}
		if existing.Email == "" {
			existing.Email = u.Email
		}
		s.Users[i] = existing
	}
	if !found {
		s.Users = append(s.Users, u)
	}
	s.mergePresence()
}
