package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/colony/internal/mods"
	"github.com/cory-johannsen/colony/internal/protocol"
	"github.com/cory-johannsen/colony/internal/session"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

var errStoreDown = errors.New("store unavailable")

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]postgres.User
	saved   []postgres.User
	saveErr error
	getErr  error
}

func newFakeUsers(users ...postgres.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]postgres.User)}
	for _, u := range users {
		f.users[u.Username] = u
	}
	return f
}

func (f *fakeUsers) UserByUsername(_ context.Context, username string) (postgres.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return postgres.User{}, f.getErr
	}
	u, ok := f.users[username]
	if !ok {
		return postgres.User{}, postgres.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) SaveUser(_ context.Context, u postgres.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, u)
	f.users[u.Username] = u
	return nil
}

func (f *fakeUsers) Saved() []postgres.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postgres.User(nil), f.saved...)
}

type fakeWorld struct {
	mu          sync.Mutex
	settlements map[string]string // tile → owner
	sites       map[string]string
	maps        map[string]json.RawMessage
	err         error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		settlements: make(map[string]string),
		sites:       make(map[string]string),
		maps:        make(map[string]json.RawMessage),
	}
}

func (f *fakeWorld) SettlementByTile(_ context.Context, tile string) (postgres.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return postgres.Settlement{}, f.err
	}
	owner, ok := f.settlements[tile]
	if !ok {
		return postgres.Settlement{}, postgres.ErrSettlementNotFound
	}
	return postgres.Settlement{Tile: tile, Owner: owner}, nil
}

func (f *fakeWorld) SiteByTile(_ context.Context, tile string) (postgres.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.sites[tile]
	if !ok {
		return postgres.Site{}, postgres.ErrSiteNotFound
	}
	return postgres.Site{Tile: tile, Owner: owner}, nil
}

func (f *fakeWorld) MapByTile(_ context.Context, tile string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.maps[tile]
	if !ok {
		return nil, postgres.ErrMapNotFound
	}
	return data, nil
}

// setSettlement records owner on tile while a server may be reading.
func (f *fakeWorld) setSettlement(tile, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements[tile] = owner
}

type fakePolicy struct {
	manifest mods.Manifest
}

func (f fakePolicy) Manifest() mods.Manifest { return f.manifest }

// recordingTransport captures every line written to a client.
type recordingTransport struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	fail   bool
	ip     string
}

func (r *recordingTransport) WriteLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("use of closed connection")
	}
	if r.fail {
		return errors.New("i/o timeout")
	}
	r.lines = append(r.lines, line)
	return nil
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingTransport) RemoteIP() string {
	if r.ip == "" {
		return "10.0.0.1"
	}
	return r.ip
}

// FailWrites makes every later write return an error.
func (r *recordingTransport) FailWrites() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = true
}

func (r *recordingTransport) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Packets decodes every captured line.
func (r *recordingTransport) Packets(t *testing.T) []protocol.Packet {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Packet, 0, len(r.lines))
	for _, line := range r.lines {
		p, err := protocol.Decode(line)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// Commands returns only the packets with the given command.
func (r *recordingTransport) Commands(t *testing.T, command string) []protocol.Packet {
	t.Helper()
	var out []protocol.Packet
	for _, p := range r.Packets(t) {
		if p.Command == command {
			out = append(out, p)
		}
	}
	return out
}

func (r *recordingTransport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

// testWorld bundles the shared state a handler test needs.
type testWorld struct {
	t        *testing.T
	logger   *zap.Logger
	registry *session.Registry
	pairings *session.Pairings
	store    *fakeWorld
	visits   *VisitHandler
	raids    *RaidHandler
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := session.NewRegistry(logger)
	pairings := session.NewPairings()
	store := newFakeWorld()
	return &testWorld{
		t:        t,
		logger:   logger,
		registry: registry,
		pairings: pairings,
		store:    store,
		visits:   NewVisitHandler(store, registry, pairings),
		raids:    NewRaidHandler(store, registry),
	}
}

// login registers a client named username whose settlement sits on tile.
func (w *testWorld) login(username, tile string) (*session.Client, *recordingTransport) {
	w.t.Helper()
	tr := &recordingTransport{}
	c := session.NewClient("sess-"+username, tr, w.logger)
	c.SetProfile(session.Profile{Username: username})
	w.registry.Add(c)
	if tile != "" {
		w.store.settlements[tile] = username
	}
	return c, tr
}

func visit(t *testing.T, d protocol.VisitDetails) protocol.Packet {
	t.Helper()
	p, err := protocol.NewPacket(protocol.CmdVisit, d)
	require.NoError(t, err)
	return p
}

func raid(t *testing.T, d protocol.RaidDetails) protocol.Packet {
	t.Helper()
	p, err := protocol.NewPacket(protocol.CmdRaid, d)
	require.NoError(t, err)
	return p
}

func decodeVisit(t *testing.T, p protocol.Packet) protocol.VisitDetails {
	t.Helper()
	var d protocol.VisitDetails
	require.NoError(t, protocol.DecodePayload(p, 0, &d))
	return d
}

func decodeRaid(t *testing.T, p protocol.Packet) protocol.RaidDetails {
	t.Helper()
	var d protocol.RaidDetails
	require.NoError(t, protocol.DecodePayload(p, 0, &d))
	return d
}
