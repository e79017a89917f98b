package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/profile"
)

// AuthProvider is the part of the auth client the controller depends on.
type AuthProvider interface {
	Subscribe(ctx context.Context, fn auth.Listener) auth.Subscription
	SignOut(ctx context.Context) error
}

// ProfileStore is the read side of the profile store.
type ProfileStore interface {
	GetRoleDocument(ctx context.Context, uid uuid.UUID) (*profile.RoleDocument, error)
	GetProfileDocument(ctx context.Context, collection profile.Collection, uid uuid.UUID) (profile.Profile, error)
}

type navOptions struct {
	reset bool
}

type NavOption func(*navOptions)

// Reset makes NavigateTo replace the history instead of pushing onto it.
func Reset(o *navOptions) { o.reset = true }

// Snapshot is a copy of the controller state at one point in time.
type Snapshot struct {
	View           View
	Screen         Screen
	History        []View
	Identity       *auth.Identity
	Profile        profile.Profile
	Specialization *profile.Department
	LoginMessage   string
	Loading        bool
	CanGoBack      bool
}

// Controller owns the navigation state of one browser session: current view,
// back stack, signed-in profile and the selected specialization. All state
// changes go through its methods.
//
// Auth events may be delivered concurrently. Each carries a sequence number;
// the controller remembers the newest one it has seen and only applies the
// outcome of a profile lookup if no newer event arrived while it ran.
type Controller struct {
	auth    AuthProvider
	store   ProfileStore
	log     *logrus.Entry
	metrics metrics.Recorder

	mu             sync.Mutex
	history        History
	identity       *auth.Identity
	profile        profile.Profile
	specialization *profile.Department
	loginMessage   string
	loading        bool
	latestSeq      uint64
	seenEvent      bool
	sub            auth.Subscription
	closed         bool
}

func NewController(provider AuthProvider, store ProfileStore, log *logrus.Entry, rec metrics.Recorder) *Controller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Controller{
		auth:    provider,
		store:   store,
		log:     log.WithField("component", "navigation"),
		metrics: rec,
		history: NewHistory(Login),
		loading: true,
	}
}

// Start subscribes to auth changes. The provider delivers the current auth
// state before Start returns.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sub != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub := c.auth.Subscribe(ctx, c.OnAuthChange)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sub != nil {
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	return nil
}

// Close unsubscribes from the auth provider. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// NavigateTo moves to view. With Reset the history becomes [view]; otherwise
// view is pushed unless it is already current.
func (c *Controller) NavigateTo(view View, opts ...NavOption) error {
	if !view.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	var o navOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.navigateLocked(view, o.reset)
	return nil
}

func (c *Controller) navigateLocked(view View, reset bool) {
	if reset {
		c.history.Reset(view)
		c.metrics.Navigation("reset")
		c.noteGateLocked()
		return
	}
	if c.history.Push(view) {
		c.metrics.Navigation("push")
		c.noteGateLocked()
	}
}

// noteGateLocked counts the current view once, on entry, when the signed-in
// profile cannot see it.
func (c *Controller) noteGateLocked() {
	if c.identity == nil || c.loading {
		return
	}
	view := c.history.Current()
	if RenderGate(view, c.profile) != view {
		c.metrics.GateSubstitution(string(view))
	}
}

// GoBack pops the history. It does nothing when only one view is left.
func (c *Controller) GoBack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history.Pop() {
		c.metrics.Navigation("back")
		c.noteGateLocked()
	}
}

// SelectSpecialization records the department a doctor is working in and
// opens the doctor portal.
func (c *Controller) SelectSpecialization(d profile.Department) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dept := d
	c.specialization = &dept
	c.navigateLocked(DoctorPortal, false)
}

func (c *Controller) SetLoginMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginMessage = msg
}

// Logout signs out and returns to the login screen. A failed sign-out is
// logged and otherwise ignored; the navigation reset happens regardless.
func (c *Controller) Logout(ctx context.Context) {
	if err := c.auth.SignOut(ctx); err != nil {
		c.log.WithError(err).Error("sign out failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.specialization = nil
	c.loginMessage = ""
	c.navigateLocked(Login, true)
}

// OnAuthChange handles an auth state change. It is the listener passed to
// the auth provider, and blocks until the profile lookup finishes.
func (c *Controller) OnAuthChange(ctx context.Context, ev auth.Event) {
	c.metrics.AuthEvent(ev.Identity != nil)

	if !c.begin(ev.Seq) {
		c.metrics.StaleAuthResult()
		return
	}

	if ev.Identity == nil {
		c.applySignedOut(ev.Seq)
		return
	}

	p, err := c.resolveProfile(ctx, ev.Identity.ID)
	if err != nil {
		entry := c.log.WithError(err).WithField("user_id", ev.Identity.ID)
		switch {
		case errors.Is(err, profile.ErrRoleDocumentNotFound):
			c.metrics.CorruptSession("missing_role_document")
			entry.Error("no role document for signed in user")
		case errors.Is(err, profile.ErrProfileDocumentNotFound):
			c.metrics.CorruptSession("missing_profile_document")
			entry.Error("no profile document for signed in user")
		default:
			c.metrics.CorruptSession("lookup_failed")
			entry.Error("profile lookup failed")
		}

		if !c.isLatest(ev.Seq) {
			c.metrics.StaleAuthResult()
			return
		}
		if err := c.auth.SignOut(ctx); err != nil {
			c.log.WithError(err).Error("sign out of corrupt session failed")
			c.applySignedOut(ev.Seq)
			return
		}
		// A provider that reports the sign-out has already reset the state
		// through a newer event.
		if c.isLatest(ev.Seq) {
			c.applySignedOut(ev.Seq)
		}
		return
	}

	c.applySignedIn(ev.Seq, ev.Identity, p)
}

// begin records seq as the newest event unless an even newer one was
// already seen.
func (c *Controller) begin(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.seenEvent && seq < c.latestSeq {
		return false
	}
	c.latestSeq = seq
	c.seenEvent = true
	return true
}

func (c *Controller) isLatest(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && seq == c.latestSeq
}

func (c *Controller) resolveProfile(ctx context.Context, uid uuid.UUID) (profile.Profile, error) {
	doc, err := c.store.GetRoleDocument(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get role document: %w", err)
	}

	collection, err := profile.CollectionFor(doc.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrRoleDocumentNotFound, err)
	}

	p, err := c.store.GetProfileDocument(ctx, collection, uid)
	if err != nil {
		return nil, fmt.Errorf("get %s profile: %w", collection, err)
	}
	if profile.RoleOf(p) != doc.Role {
		return nil, fmt.Errorf("%w: %s holds a %q profile", profile.ErrProfileDocumentNotFound, collection, profile.RoleOf(p))
	}
	return p, nil
}

func (c *Controller) applySignedIn(seq uint64, id *auth.Identity, p profile.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq != c.latestSeq {
		c.metrics.StaleAuthResult()
		return
	}

	cp := *id
	c.identity = &cp
	c.profile = p
	c.specialization = nil
	c.loading = false

	landing := profile.Match(p,
		func(*profile.DoctorProfile) View { return DoctorSpecialization },
		func(*profile.PatientProfile) View { return PatientPortal },
		func() View { return Login },
	)
	c.navigateLocked(landing, true)

	c.log.WithFields(logrus.Fields{
		"user_id": id.ID,
		"role":    profile.RoleOf(p),
	}).Info("session signed in")
}

func (c *Controller) applySignedOut(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq != c.latestSeq {
		c.metrics.StaleAuthResult()
		return
	}

	c.identity = nil
	c.profile = nil
	c.specialization = nil
	c.loading = false
	c.navigateLocked(Login, true)
}

// Snapshot returns the current state, including the screen the client
// should render for it.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := c.history.Current()
	s := Snapshot{
		View:         view,
		History:      c.history.Views(),
		Profile:      c.profile,
		LoginMessage: c.loginMessage,
		Loading:      c.loading,
		CanGoBack:    c.history.Len() > 1,
	}
	if c.identity != nil {
		id := *c.identity
		s.Identity = &id
	}
	if c.specialization != nil {
		d := *c.specialization
		s.Specialization = &d
	}

	switch {
	case c.loading:
		s.Screen = ScreenLoading
	case c.identity == nil:
		if view.Public() {
			s.Screen = Screen(view)
		} else {
			s.Screen = Screen(Login)
		}
	default:
		s.Screen = Screen(RenderGate(view, c.profile))
	}

	return s
}
