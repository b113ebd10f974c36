package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
)

// Directory is the part of the backend AppContext reads from.
type Directory interface {
	ListChannels(ctx context.Context) ([]channel.Channel, error)
	ListProjects(ctx context.Context) ([]api.Project, error)
}

// User is the signed-in user.
type User struct {
	ID   string
	Name string
}

// AppContext is the explicit application state every component receives:
// who the user is and which channels and projects they can see.
type AppContext struct {
	User User

	dir Directory

	mu       sync.RWMutex
	channels []channel.Channel
	projects map[string]api.Project
}

// NewAppContext creates an empty context for user.
func NewAppContext(user User, dir Directory) *AppContext {
	return &AppContext{User: user, dir: dir, projects: map[string]api.Project{}}
}

// Load creates a context and fetches its directory.
func Load(ctx context.Context, user User, dir Directory) (*AppContext, error) {
	a := NewAppContext(user, dir)
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Refresh re-reads channels and projects. Projects only feed headers, so a
// failure there keeps the previous set.
func (a *AppContext) Refresh(ctx context.Context) error {
	channels, err := a.dir.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	projects, perr := a.dir.ListProjects(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.channels = channels
	if perr == nil {
		a.projects = make(map[string]api.Project, len(projects))
		for _, p := range projects {
			a.projects[p.ID] = p
		}
	}
	return nil
}

// Channels returns the visible channels.
func (a *AppContext) Channels() []channel.Channel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]channel.Channel(nil), a.channels...)
}

// Channel returns the channel with key.
func (a *AppContext) Channel(key channel.Key) (channel.Channel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, c := range a.channels {
		if c.Key() == key {
			return c, true
		}
	}
	return channel.Channel{}, false
}

// Find resolves a key, id or name to a channel.
func (a *AppContext) Find(ref string) (channel.Channel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channel.Find(a.channels, ref)
}

// Project returns the project with id.
func (a *AppContext) Project(id string) (api.Project, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.projects[id]
	return p, ok
}
