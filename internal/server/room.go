package server

// Room is the broadcast registry for one room: the set of sessions
// currently joined to it. It is owned by the coordinator goroutine and is
// never touched from connection handlers, so it needs no lock. The room's
// authoritative state (history, password) lives in the room store; a Room
// here exists only while at least one session is joined.
type Room struct {
	name    string
	clients map[*Client]struct{}
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		clients: make(map[*Client]struct{}),
	}
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *Room) removeClient(c *Client) {
	delete(r.clients, c)
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// broadcast queues msg on every joined session, skipping msg.SkipClient.
// Delivery is best-effort: a slow consumer's full send buffer drops the
// message rather than stalling the room.
func (r *Room) broadcast(msg *ServerMessage) {
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
