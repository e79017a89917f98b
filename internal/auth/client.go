package auth

import (
	"context"
	"fmt"
	"sync"
)

var _ Provider = (*Client)(nil)

// Client is the auth state of one browser session. Listeners are called on
// the goroutine that caused the change, after the client's own state has been
// updated and without any client lock held, so a listener may call back into
// the client (for example to sign out).
type Client struct {
	sessionID string
	accounts  *Service
	store     SessionStore

	mu        sync.Mutex
	current   *Identity
	seq       uint64
	listeners map[uint64]Listener
	nextID    uint64
}

// NewClient restores the persisted sign-in for sessionID, if any.
func NewClient(ctx context.Context, sessionID string, accounts *Service, store SessionStore) (*Client, error) {
	id, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Client{
		sessionID: sessionID,
		accounts:  accounts,
		store:     store,
		current:   id,
		listeners: make(map[uint64]Listener),
	}, nil
}

// Current returns the signed-in identity or nil.
func (c *Client) Current() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIdentity(c.current)
}

// Subscribe registers fn and immediately calls it with the current state.
func (c *Client) Subscribe(ctx context.Context, fn Listener) Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	ev := Event{Seq: c.seq, Identity: copyIdentity(c.current)}
	c.mu.Unlock()

	fn(ctx, ev)

	return &subscription{client: c, id: id}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.store.Save(ctx, c.sessionID, *id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknown, err)
	}

	c.emit(ctx, id)
	return copyIdentity(id), nil
}

// SignUp creates the account but leaves the session signed out; the user
// signs in afterwards.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	return c.accounts.Register(ctx, email, password)
}

// SignOut clears the persisted sign-in. On failure the session stays signed
// in and no event is emitted.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.sessionID); err != nil {
		return err
	}
	c.emit(ctx, nil)
	return nil
}

func (c *Client) emit(ctx context.Context, id *Identity) {
	c.mu.Lock()
	c.current = copyIdentity(id)
	c.seq++
	ev := Event{Seq: c.seq, Identity: copyIdentity(id)}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(ctx, ev)
	}
}

func (c *Client) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

type subscription struct {
	client *Client
	id     uint64
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.unsubscribe(s.id)
	})
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
