package socket

import "github.com/danmuck/sockframe/internal/protocol/frame"

// PeerState is the only shape accepted on the structured-state code. A peer
// can set these fields and nothing else.
type PeerState struct {
	ID   *int    `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
	Note *string `json:"note,omitempty"`
}

// Merge overlays every non-nil field of in onto s.
func (s *PeerState) Merge(in PeerState) {
	if in.ID != nil {
		id := *in.ID
		s.ID = &id
	}
	if in.Name != nil {
		name := *in.Name
		s.Name = &name
	}
	if in.Note != nil {
		note := *in.Note
		s.Note = &note
	}
}

// Clone returns a deep copy.
func (s PeerState) Clone() PeerState {
	var out PeerState
	out.Merge(s)
	return out
}

// DecodePeerState strictly decodes a code 0 payload.
func DecodePeerState(payload []byte) (PeerState, error) {
	var st PeerState
	if err := frame.DecodeStructuredStrict(payload, &st); err != nil {
		return PeerState{}, err
	}
	return st, nil
}

func intPtr(v int) *int { return &v }
