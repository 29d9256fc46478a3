package relay

import "time"

// maxSeats bounds room membership. The game is strictly two-player, so a
// third distinct peer is turned away at the door.
const maxSeats = 2

// Room is a rendezvous point for the peers sharing one short numeric code.
type Room struct {
	Code    string
	Members map[string]*Client
	Created time.Time
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		Code:    code,
		Members: make(map[string]*Client, maxSeats),
		Created: now,
	}
}

// others returns every member except the named peer.
func (r *Room) others(peer string) []*Client {
	out := make([]*Client, 0, len(r.Members))
	for id, c := range r.Members {
		if id != peer {
			out = append(out, c)
		}
	}
	return out
}

// peerIDs returns the ids of every member except the named peer.
func (r *Room) peerIDs(except string) []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		if id != except {
			ids = append(ids, id)
		}
	}
	return ids
}
