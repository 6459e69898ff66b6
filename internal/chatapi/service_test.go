package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer is a minimal in-memory chat API for Service tests.
type chatServer struct {
	channels []Channel
	messages map[string][]Message
	members  map[string][]Member
}

func newChatServerService(t *testing.T, channels []Channel) (*Service, string, *chatServer) {
	t.Helper()

	cs := &chatServer{
		channels: channels,
		messages: map[string][]Message{},
		members:  map[string][]Member{},
	}

	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case r.URL.Path == "/api/channels":
			_ = json.NewEncoder(w).Encode(ChannelListResponse{Channels: cs.channels})

		case strings.HasSuffix(r.URL.Path, "/messages/latest"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/channels/"), "/messages/latest")
			_ = json.NewEncoder(w).Encode(MessagePage{ChannelID: id, Messages: cs.messages[id]})

		case strings.HasSuffix(r.URL.Path, "/members"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/channels/"), "/members")
			_ = json.NewEncoder(w).Encode(MemberListResponse{Members: cs.members[id]})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.Client(), func() string { return "tok" })
	client.scheme = "http"

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	return NewService(client), u.Host, cs
}

func TestService_RefreshChannels(t *testing.T) {
	svc, socket, _ := newChatServerService(t, []Channel{
		{ID: "general", Name: "General"},
		{ID: "ops", Name: "Ops"},
	})

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))

	channels := svc.Channels(socket)
	require.Len(t, channels, 2)
	assert.Equal(t, "general", channels[0].ID)
}

func TestService_SelectDefaultChannel(t *testing.T) {
	svc, socket, _ := newChatServerService(t, []Channel{
		{ID: "general", Name: "General"},
		{ID: "ops", Name: "Ops"},
	})

	// Nothing cached yet: no channel to pick.
	id, err := svc.SelectDefaultChannel(context.Background(), socket)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))

	id, err = svc.SelectDefaultChannel(context.Background(), socket)
	require.NoError(t, err)
	assert.Equal(t, "general", id)
	assert.Equal(t, "general", svc.SelectedChannel(socket))
}

func TestService_RefreshDropsVanishedSelection(t *testing.T) {
	svc, socket, _ := newChatServerService(t, []Channel{{ID: "general"}})

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))

	// The user had a channel selected that the server since deleted.
	svc.SelectChannel(socket, "retired")

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))
	assert.Empty(t, svc.SelectedChannel(socket))
}

func TestService_RefreshKeepsLiveSelection(t *testing.T) {
	svc, socket, _ := newChatServerService(t, []Channel{{ID: "general"}, {ID: "ops"}})

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))
	svc.SelectChannel(socket, "ops")

	require.NoError(t, svc.RefreshChannels(context.Background(), socket))
	assert.Equal(t, "ops", svc.SelectedChannel(socket))
}

func TestService_LoadLatestPage(t *testing.T) {
	svc, socket, _ := newChatServerService(t, []Channel{{ID: "general"}})

	assert.Nil(t, svc.LatestPageOf(socket, "general"))

	require.NoError(t, svc.LoadLatestPage(context.Background(), socket, "general"))

	page := svc.LatestPageOf(socket, "general")
	require.NotNil(t, page)
	assert.Equal(t, "general", page.ChannelID)
}

func TestService_LoadMemberRail(t *testing.T) {
	svc, socket, cs := newChatServerService(t, []Channel{{ID: "general"}})
	cs.members["general"] = []Member{
		{ID: "u1", Name: "Ada", Online: true},
		{ID: "u2", Name: "Lin"},
	}

	require.NoError(t, svc.LoadMemberRail(context.Background(), socket, "general"))

	members := svc.MembersOf(socket, "general")
	require.Len(t, members, 2)
	assert.True(t, members[0].Online)
}

func TestService_StateIsPerSocket(t *testing.T) {
	svcA, socketA, _ := newChatServerService(t, []Channel{{ID: "a1"}})

	require.NoError(t, svcA.RefreshChannels(context.Background(), socketA))

	_, err := svcA.SelectDefaultChannel(context.Background(), socketA)
	require.NoError(t, err)

	assert.Equal(t, "a1", svcA.SelectedChannel(socketA))
	assert.Empty(t, svcA.SelectedChannel("other:443"))
	assert.Nil(t, svcA.Channels("other:443"))
}
