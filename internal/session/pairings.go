package session

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyPaired is returned when either side of a Pair call already has a partner.
	ErrAlreadyPaired = errors.New("client already paired")
	// ErrClientGone is returned when either side of a Pair call is disconnected.
	ErrClientGone = errors.New("client disconnected")
	// ErrSelfPair is returned when a client is paired with itself.
	ErrSelfPair = errors.New("client cannot pair with itself")
)

// Pairings guards the symmetric visit relation between clients. Every read or
// write of Client.partner happens under mu, so both sides change together.
type Pairings struct {
	mu sync.Mutex
}

// NewPairings creates an empty pairing table.
func NewPairings() *Pairings {
	return &Pairings{}
}

// Pair links a and b.
//
// Precondition: a and b must be non-nil.
// Postcondition: Either both name each other as partner, or neither changed and an error is returned.
func (p *Pairings) Pair(a, b *Client) error {
	if a == b {
		return ErrSelfPair
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if a.Disconnected() || b.Disconnected() {
		return ErrClientGone
	}
	if a.partner != nil || b.partner != nil {
		return ErrAlreadyPaired
	}
	a.partner = b
	b.partner = a
	return nil
}

// Unpair clears c's pairing on both sides.
//
// Postcondition: Returns the former partner (nil if c was unpaired); neither side names the other.
func (p *Pairings) Unpair(c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	partner := c.partner
	if partner == nil {
		return nil
	}
	if partner.partner == c {
		partner.partner = nil
	}
	c.partner = nil
	return partner
}

// PartnerOf returns c's current partner, or nil.
func (p *Pairings) PartnerOf(c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.partner
}

// IsPaired reports whether c currently has a partner.
func (p *Pairings) IsPaired(c *Client) bool {
	return p.PartnerOf(c) != nil
}
