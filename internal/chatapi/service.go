package chatapi

import (
	"context"
	"fmt"
	"sync"
)

// Service implements the channel collaborator surface the realtime core
// consumes: list refresh, selection, and catch-up page loads. The fetched
// data is held in memory for the UI layer to read; durable message
// storage is out of scope here.
type Service struct {
	client *Client

	mu       sync.RWMutex
	channels map[string][]Channel    // by socket
	selected map[string]string       // channel id by socket
	pages    map[string]*MessagePage // by socket + channel id
	members  map[string][]Member     // by socket + channel id
}

// NewService creates a Service backed by the given API client.
func NewService(client *Client) *Service {
	return &Service{
		client:   client,
		channels: make(map[string][]Channel),
		selected: make(map[string]string),
		pages:    make(map[string]*MessagePage),
		members:  make(map[string][]Member),
	}
}

func pageKey(socket, channelID string) string {
	return socket + "/" + channelID
}

// RefreshChannels reloads the channel list for a server.
func (s *Service) RefreshChannels(ctx context.Context, socket string) error {
	channels, err := s.client.ListChannels(ctx, socket)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.channels[socket] = channels

	// Drop a selection that no longer exists on the server.
	if sel := s.selected[socket]; sel != "" && !containsChannel(channels, sel) {
		delete(s.selected, socket)
	}
	s.mu.Unlock()

	return nil
}

func containsChannel(channels []Channel, id string) bool {
	for _, ch := range channels {
		if ch.ID == id {
			return true
		}
	}

	return false
}

// Channels returns the cached channel list for a server.
func (s *Service) Channels(socket string) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.channels[socket]
}

// SelectedChannel returns the id of the currently selected channel for
// the server, or "" when none is selected.
func (s *Service) SelectedChannel(socket string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selected[socket]
}

// SelectChannel records the user's channel selection.
func (s *Service) SelectChannel(socket, channelID string) {
	s.mu.Lock()
	s.selected[socket] = channelID
	s.mu.Unlock()
}

// SelectDefaultChannel picks the first channel in the cached list and
// returns its id, or "" when the server has no channels.
func (s *Service) SelectDefaultChannel(_ context.Context, socket string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := s.channels[socket]
	if len(channels) == 0 {
		return "", nil
	}

	id := channels[0].ID
	s.selected[socket] = id

	return id, nil
}

// LoadLatestPage fetches the most recent message page of a channel.
func (s *Service) LoadLatestPage(ctx context.Context, socket, channelID string) error {
	page, err := s.client.LatestPage(ctx, socket, channelID)
	if err != nil {
		return fmt.Errorf("loading latest page of %s: %w", channelID, err)
	}

	s.mu.Lock()
	s.pages[pageKey(socket, channelID)] = page
	s.mu.Unlock()

	return nil
}

// LatestPageOf returns the cached latest page, or nil.
func (s *Service) LatestPageOf(socket, channelID string) *MessagePage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pages[pageKey(socket, channelID)]
}

// LoadMemberRail fetches the member list of a channel.
func (s *Service) LoadMemberRail(ctx context.Context, socket, channelID string) error {
	members, err := s.client.Members(ctx, socket, channelID)
	if err != nil {
		return fmt.Errorf("loading member rail of %s: %w", channelID, err)
	}

	s.mu.Lock()
	s.members[pageKey(socket, channelID)] = members
	s.mu.Unlock()

	return nil
}

// MembersOf returns the cached member rail, or nil.
func (s *Service) MembersOf(socket, channelID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.members[pageKey(socket, channelID)]
}
