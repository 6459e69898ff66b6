package realtime

import (
	"context"
	"crypto/tls"
	"sync"
)

// fakeChannels is an in-memory ChannelService recording calls.
type fakeChannels struct {
	mu             sync.Mutex
	refreshCalls   []string
	pageCalls      []string
	memberCalls    []string
	selected       map[string]string
	defaultChannel string
	refreshErr     error
	pageErr        error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{selected: make(map[string]string)}
}

func (f *fakeChannels) RefreshChannels(_ context.Context, socket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls = append(f.refreshCalls, socket)

	return f.refreshErr
}

func (f *fakeChannels) SelectedChannel(socket string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.selected[socket]
}

func (f *fakeChannels) SelectDefaultChannel(_ context.Context, socket string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.defaultChannel != "" {
		f.selected[socket] = f.defaultChannel
	}

	return f.defaultChannel, nil
}

func (f *fakeChannels) LoadLatestPage(_ context.Context, socket, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageCalls = append(f.pageCalls, socket+"/"+channelID)

	return f.pageErr
}

func (f *fakeChannels) LoadMemberRail(_ context.Context, socket, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.memberCalls = append(f.memberCalls, socket+"/"+channelID)

	return nil
}

func (f *fakeChannels) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.refreshCalls)
}

func (f *fakeChannels) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pageCalls)
}

func (f *fakeChannels) setSelected(socket, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.selected[socket] = channelID
}

// fakeSessions is an in-memory SessionSource.
type fakeSessions struct {
	mu         sync.Mutex
	socket     string
	token      string
	refreshErr error
	refreshed  int
	listeners  []func(socket, token string)
}

func (f *fakeSessions) Current() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.socket, f.token
}

func (f *fakeSessions) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshed++

	return f.refreshErr
}

func (f *fakeSessions) Subscribe(fn func(socket, token string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listeners = append(f.listeners, fn)

	return func() {}
}

func (f *fakeSessions) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.listeners)
}

// fakePolicies returns a fixed policy for every socket.
type fakePolicies struct {
	policy TrustPolicy
}

func (f *fakePolicies) PolicyFor(string) TrustPolicy { return f.policy }

// fakeHandshaker scripts connect outcomes: errs[n] is the result of the
// n-th attempt; attempts beyond the script succeed.
type fakeHandshaker struct {
	mu       sync.Mutex
	errs     []error
	attempts int
	block    chan struct{} // when non-nil, Connect waits on it first
}

func (f *fakeHandshaker) Connect(ctx context.Context, _ string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.attempts
	f.attempts++

	if n < len(f.errs) {
		return f.errs[n]
	}

	return nil
}

func (f *fakeHandshaker) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}

// fakeCursors is an in-memory CursorStore.
type fakeCursors struct {
	mu      sync.Mutex
	cursors map[string]string
	getErr  error
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{cursors: make(map[string]string)}
}

func (f *fakeCursors) Cursor(socket string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return "", f.getErr
	}

	return f.cursors[socket], nil
}

func (f *fakeCursors) SetCursor(socket, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if CompareEventIDs(eventID, f.cursors[socket]) > 0 {
		f.cursors[socket] = eventID
	}

	return nil
}

func (f *fakeCursors) get(socket string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cursors[socket]
}

// fakeTLS hands out a plain TLS config for any socket.
type fakeTLS struct{}

func (fakeTLS) TLSClientConfig(string) (*tls.Config, error) {
	return &tls.Config{MinVersion: tls.VersionTLS12}, nil
}
