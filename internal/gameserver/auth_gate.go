package gameserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/mods"
	"github.com/cory-johannsen/colony/internal/protocol"
	"github.com/cory-johannsen/colony/internal/session"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

var (
	// ErrInvalidLogin is returned for an unknown username or a wrong password hash.
	ErrInvalidLogin = errors.New("invalid login")
	// ErrBanned is returned when the account is banned.
	ErrBanned = errors.New("account banned")
	// ErrWrongMods is returned when a non-admin client's mods conflict with the server's.
	ErrWrongMods = errors.New("mod mismatch")
)

// AuthRejected is a handshake refusal. errors.Is matches it against
// ErrInvalidLogin, ErrBanned or ErrWrongMods according to Reason.
type AuthRejected struct {
	Reason    protocol.LoginResult
	Conflicts []string
}

func (e *AuthRejected) Error() string {
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("login rejected: %s", e.Reason)
	}
	return fmt.Sprintf("login rejected: %s [%s]", e.Reason, strings.Join(e.Conflicts, ", "))
}

// Is reports whether target is the sentinel for e.Reason.
func (e *AuthRejected) Is(target error) bool {
	switch e.Reason {
	case protocol.LoginInvalid:
		return target == ErrInvalidLogin
	case protocol.LoginBanned:
		return target == ErrBanned
	case protocol.LoginWrongMods:
		return target == ErrWrongMods
	}
	return false
}

// Response is the LoginResponsePacket payload telling the client why it was refused.
func (e *AuthRejected) Response() protocol.LoginResponse {
	return protocol.LoginResponse{Response: e.Reason, Details: e.Conflicts}
}

// AuthGate decides whether a freshly connected client becomes a live session.
type AuthGate struct {
	users    UserStore
	mods     ModPolicy
	registry *session.Registry
	logger   *zap.Logger
}

// NewAuthGate creates an AuthGate.
//
// Precondition: users, policy, registry and logger must be non-nil.
func NewAuthGate(users UserStore, policy ModPolicy, registry *session.Registry, logger *zap.Logger) *AuthGate {
	return &AuthGate{
		users:    users,
		mods:     policy,
		registry: registry,
		logger:   logger,
	}
}

// Authenticate looks up username and compares the stored hash with passwordHash.
//
// Postcondition: Returns the user record, or an *AuthRejected matching ErrInvalidLogin.
func (g *AuthGate) Authenticate(ctx context.Context, username, passwordHash string) (postgres.User, error) {
	invalid := &AuthRejected{Reason: protocol.LoginInvalid}
	if username == "" {
		return postgres.User{}, invalid
	}

	u, err := g.users.UserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, postgres.ErrUserNotFound) {
			g.logger.Error("looking up user", zap.String("username", username), zap.Error(err))
		}
		return postgres.User{}, invalid
	}
	if subtle.ConstantTimeCompare([]byte(u.PasswordHash), []byte(passwordHash)) != 1 {
		return postgres.User{}, invalid
	}
	return u, nil
}

// CheckBanned rejects banned accounts.
//
// Postcondition: Returns nil, or an *AuthRejected matching ErrBanned.
func (g *AuthGate) CheckBanned(u postgres.User) error {
	if u.IsBanned {
		return &AuthRejected{Reason: protocol.LoginBanned}
	}
	return nil
}

// CheckMods compares declared against the loaded mod policy. Admins are let
// through any conflict with a warning.
//
// Postcondition: Returns nil, or an *AuthRejected matching ErrWrongMods carrying the conflict report.
func (g *AuthGate) CheckMods(u postgres.User, declared []string) error {
	report := mods.CheckCompatibility(declared, g.mods.Manifest())
	if len(report) == 0 {
		return nil
	}
	if u.IsAdmin {
		g.logger.Warn("mod bypass",
			zap.String("username", u.Username),
			zap.Strings("conflicts", report),
		)
		return nil
	}
	return &AuthRejected{Reason: protocol.LoginWrongMods, Conflicts: report}
}

// Admit runs the handshake checks for c in order. On success c is populated
// from the user record and registered, and every client receives a fresh
// player recount. On rejection c receives one LoginResponsePacket; closing the
// connection is left to the caller.
//
// Postcondition: Returns nil if c is now a live session, otherwise an *AuthRejected.
func (g *AuthGate) Admit(ctx context.Context, c *session.Client, details protocol.LoginDetails) error {
	u, err := g.Authenticate(ctx, details.Username, details.Password)
	if err == nil {
		err = g.CheckBanned(u)
	}
	if err == nil {
		err = g.CheckMods(u, details.RunningMods)
	}
	if err != nil {
		var rejected *AuthRejected
		if errors.As(err, &rejected) {
			g.reject(c, details.Username, rejected)
		}
		return err
	}

	c.SetProfile(session.Profile{
		UID:          u.UID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		FactionName:  u.FactionName,
		HasFaction:   u.HasFaction,
		IsAdmin:      u.IsAdmin,
		IsBanned:     u.IsBanned,
		Allies:       u.Allies,
		Enemies:      u.Enemies,
		Mods:         details.RunningMods,
	})

	u.SavedIP = c.RemoteIP()
	if err := g.users.SaveUser(ctx, u); err != nil {
		c.Logger().Error("saving user ip", zap.Error(err))
	}

	if replaced := g.registry.Add(c); replaced != nil {
		replaced.Logger().Info("closing session replaced by a new login")
		replaced.Close()
	}

	c.Logger().Info("handshake complete",
		zap.String("saved_ip", u.SavedIP),
		zap.String("client_version", details.ClientVersion),
		zap.Bool("admin", u.IsAdmin),
	)
	SendPlayerRecount(g.registry)
	return nil
}

func (g *AuthGate) reject(c *session.Client, username string, rejected *AuthRejected) {
	c.Logger().Info("login rejected",
		zap.String("claimed_username", username),
		zap.Stringer("reason", rejected.Reason),
		zap.Strings("conflicts", rejected.Conflicts),
	)
	p, err := protocol.NewPacket(protocol.CmdLoginResponse, rejected.Response())
	if err != nil {
		c.Logger().Error("building login response", zap.Error(err))
		return
	}
	c.Send(p)
}

// SendPlayerRecount broadcasts the live player count and names to every
// registered client.
func SendPlayerRecount(registry *session.Registry) {
	var names []string
	for _, c := range registry.Snapshot() {
		if !c.Disconnected() {
			names = append(names, c.Username())
		}
	}
	sort.Strings(names)

	recount := protocol.PlayerRecount{
		CurrentPlayers:     fmt.Sprint(len(names)),
		CurrentPlayerNames: append([]string{}, names...),
	}
	registry.Broadcast(protocol.MustPacket(protocol.CmdPlayerRecount, recount))
}
