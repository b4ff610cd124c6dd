package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwell-app/threadwell/internal/presence"
)

type fakeTracker struct {
	beats  []string
	online []presence.OnlineUser
}

func (f *fakeTracker) Heartbeat(ctx context.Context, userID, username string) error {
	f.beats = append(f.beats, userID)
	return nil
}

func (f *fakeTracker) Online(ctx context.Context) ([]presence.OnlineUser, error) {
	return f.online, nil
}

func (f *fakeTracker) OnlineCount(ctx context.Context) (int, error) {
	return len(f.online), nil
}

type fakePrefStore struct {
	prefs map[string]string
}

func (f *fakePrefStore) Get(ctx context.Context, userID string) (string, error) {
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return presence.PrefDefault, nil
}

func (f *fakePrefStore) Set(ctx context.Context, userID, pref string) error {
	if !presence.ValidPreference(pref) {
		return presence.ErrInvalidPreference
	}
	if f.prefs == nil {
		f.prefs = make(map[string]string)
	}
	f.prefs[userID] = pref
	return nil
}

func newPresenceApp(tracker *fakeTracker, prefs *fakePrefStore) *fiber.App {
	app := fiber.New()
	verifier := &fakeVerifier{token: testToken, userID: "u1", username: "ada"}
	authed := AuthMiddleware(verifier)
	handler := NewPresenceHandler(tracker, prefs)

	app.Post("/api/heartbeat", authed, handler.Heartbeat)
	app.Get("/api/users/online", authed, handler.Online)
	app.Get("/api/users/notification-preference", authed, handler.GetPreference)
	app.Put("/api/users/notification-preference", authed, handler.SetPreference)
	return app
}

func TestPresenceHandler_HeartbeatReturnsOnlineCount(t *testing.T) {
	tracker := &fakeTracker{online: []presence.OnlineUser{
		{UserID: "u1", Username: "ada"},
		{UserID: "u2", Username: "grace"},
	}}
	app := newPresenceApp(tracker, &fakePrefStore{})

	status, body := doRequest(t, app, "POST", "/api/heartbeat", nil, true)
	require.Equal(t, fiber.StatusOK, status)

	var resp struct {
		OnlineCount int `json:"onlineCount"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 2, resp.OnlineCount)
	assert.Equal(t, []string{"u1"}, tracker.beats)
}

func TestPresenceHandler_Online(t *testing.T) {
	tracker := &fakeTracker{online: []presence.OnlineUser{{UserID: "u2", Username: "grace"}}}
	app := newPresenceApp(tracker, &fakePrefStore{})

	status, body := doRequest(t, app, "GET", "/api/users/online", nil, true)
	require.Equal(t, fiber.StatusOK, status)

	var resp struct {
		Users []presence.OnlineUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "grace", resp.Users[0].Username)
}

func TestPresenceHandler_PreferenceRoundTrip(t *testing.T) {
	prefs := &fakePrefStore{}
	app := newPresenceApp(&fakeTracker{}, prefs)

	status, body := doRequest(t, app, "GET", "/api/users/notification-preference", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"preference":"default"}`, string(body))

	status, _ = doRequest(t, app, "PUT", "/api/users/notification-preference", fiber.Map{"preference": "granted"}, true)
	require.Equal(t, fiber.StatusOK, status)

	status, body = doRequest(t, app, "GET", "/api/users/notification-preference", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"preference":"granted"}`, string(body))
}

func TestPresenceHandler_InvalidPreference(t *testing.T) {
	app := newPresenceApp(&fakeTracker{}, &fakePrefStore{})
	status, _ := doRequest(t, app, "PUT", "/api/users/notification-preference", fiber.Map{"preference": "loudly"}, true)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
