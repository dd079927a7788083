package passport

// Handler keeps at most one pending and one confirmed packet per type.
//
// Handler does not lock. It is owned by a single Passport.
type Handler struct {
	pending   map[PacketType]Packet
	confirmed map[PacketType]Packet
}

// NewHandler returns an empty handler.
func NewHandler() *Handler {
	return &Handler{
		pending:   make(map[PacketType]Packet),
		confirmed: make(map[PacketType]Packet),
	}
}

// AddPending stores p as the pending packet of its type, replacing any
// earlier pending packet of that type.
func (h *Handler) AddPending(p Packet) error {
	if err := validatePacket(p); err != nil {
		return err
	}
	h.pending[p.Type()] = p
	return nil
}

// Confirm promotes the pending packet of type t to confirmed and clears the
// pending slot. Other types are not touched.
func (h *Handler) Confirm(t PacketType) error {
	p, ok := h.pending[t]
	if !ok {
		return newError(KindNothingPending, t, "no pending packet to confirm")
	}
	h.confirmed[t] = p
	delete(h.pending, t)
	return nil
}

// Get returns the confirmed or pending packet of type t.
func (h *Handler) Get(t PacketType, confirmed bool) (Packet, bool) {
	slots := h.pending
	if confirmed {
		slots = h.confirmed
	}
	p, ok := slots[t]
	return p, ok
}

// Clear drops every packet.
func (h *Handler) Clear() {
	h.pending = make(map[PacketType]Packet)
	h.confirmed = make(map[PacketType]Packet)
}

func (h *Handler) signing(t PacketType, confirmed bool) (*SignaturePacket, bool) {
	p, ok := h.Get(t, confirmed)
	if !ok {
		return nil, false
	}
	sp, ok := p.(*SignaturePacket)
	return sp, ok
}
