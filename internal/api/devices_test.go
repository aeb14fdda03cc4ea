package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nerrad567/remoterelay-bridge/internal/auth"
	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
)

func devicePath(id, suffix string) string {
	if suffix == "" {
		return "/api/v1/devices/" + id
	}
	return "/api/v1/devices/" + id + "/" + suffix
}

func TestListDevices_Empty(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/devices", nil, auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if count := decodeBody(t, w)["count"]; count != float64(0) {
		t.Errorf("count = %v, want 0", count)
	}
}

func TestListAndGetDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices", nil, auth.RoleViewer)
	resp := decodeBody(t, w)
	if resp["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", resp["count"])
	}
	devices, _ := resp["devices"].([]any)
	first, _ := devices[0].(map[string]any)
	if first["device_id"] != "dev-1" {
		t.Errorf("device_id = %v, want dev-1", first["device_id"])
	}
	if first["title"] != "Office PC" {
		t.Errorf("title = %v, want Office PC", first["title"])
	}

	// Entry id and device id both address the device.
	for _, key := range []string{id, "dev-1"} {
		t.Run(key, func(t *testing.T) {
			w := env.do(t, http.MethodGet, devicePath(key, ""), nil, auth.RoleViewer)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			view := decodeBody(t, w)
			if view["entry_id"] != id {
				t.Errorf("entry_id = %v, want %q", view["entry_id"], id)
			}
			if view["state"] != string(remoterelay.MediaOn) {
				t.Errorf("state = %v, want %q", view["state"], remoterelay.MediaOn)
			}
			if view["source"] != "HDMI 1" {
				t.Errorf("source = %v, want HDMI 1", view["source"])
			}
		})
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, devicePath("missing", ""), nil, auth.RoleViewer)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if code := decodeBody(t, w)["code"]; code != ErrCodeNotFound {
		t.Errorf("code = %v, want %q", code, ErrCodeNotFound)
	}
}

func TestSendCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodPost, devicePath(id, "commands"), map[string]any{
		"commands":    []string{"up", "Select"},
		"num_repeats": 2,
	}, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	sent := env.transport.sentCommands()
	if len(sent) != 4 {
		t.Fatalf("sent %d commands, want 4", len(sent))
	}
	wantKeys := []string{"up", "ok", "up", "ok"}
	for i, want := range wantKeys {
		if sent[i]["key"] != want {
			t.Errorf("sent[%d] key = %v, want %q", i, sent[i]["key"], want)
		}
	}
}

func TestSendCommands_SingleString(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodPost, devicePath(id, "commands"), `{"commands":"vol_up"}`, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	sent := env.transport.sentCommands()
	if len(sent) != 1 || sent[0]["command"] != remoterelay.CmdVolumeUp {
		t.Errorf("sent = %v, want one volume_up", sent)
	}
}

func TestSendCommands_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"unsupported anywhere in list", map[string]any{"commands": []string{"up", "launch"}}},
		{"select_source in list", map[string]any{"commands": []string{"select_source"}}},
		{"empty list", map[string]any{"commands": []string{}}},
		{"negative repeats", map[string]any{"commands": []string{"up"}, "num_repeats": -1}},
		{"wrong type", `{"commands": 5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			id := env.addDevice(t)

			w := env.do(t, http.MethodPost, devicePath(id, "commands"), tt.body, auth.RoleOperator)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if sent := env.transport.sentCommands(); len(sent) != 0 {
				t.Errorf("sent %d commands, want 0", len(sent))
			}
		})
	}
}

func TestDeviceActions(t *testing.T) {
	tests := []struct {
		name        string
		suffix      string
		body        any
		wantCommand string
		wantKey     string
	}{
		{"navigate", "navigate", map[string]string{"key": " HOME "}, "navigate", "home"},
		{"mute on", "mute", map[string]bool{"mute": true}, remoterelay.CmdMuteToggle, ""},
		{"mute off", "mute", map[string]bool{"mute": false}, remoterelay.CmdMuteToggle, ""},
		{"turn off", "turn_off", nil, remoterelay.CmdPowerOff, ""},
		{"select source", "source", map[string]string{"source": "HDMI 1"}, remoterelay.CmdSelectSource, ""},
		{"play", "media/play", nil, remoterelay.CmdPlayPause, ""},
		{"next track", "media/next_track", nil, remoterelay.CmdNextTrack, ""},
		{"volume down", "media/volume_down", nil, remoterelay.CmdVolumeDown, ""},
		{"press button", "buttons/back/press", nil, "navigate", "back"},
		{"press direct button", "buttons/previous_track/press", nil, remoterelay.CmdPreviousTrack, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			id := env.addDevice(t)

			w := env.do(t, http.MethodPost, devicePath(id, tt.suffix), tt.body, auth.RoleOperator)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
			}
			sent := env.transport.sentCommands()
			if len(sent) != 1 {
				t.Fatalf("sent %d commands, want 1", len(sent))
			}
			if sent[0]["command"] != tt.wantCommand {
				t.Errorf("command = %v, want %q", sent[0]["command"], tt.wantCommand)
			}
			if tt.wantKey != "" && sent[0]["key"] != tt.wantKey {
				t.Errorf("key = %v, want %q", sent[0]["key"], tt.wantKey)
			}
		})
	}
}

func TestDeviceActions_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		body   any
	}{
		{"unknown media action", "media/rewind", nil},
		{"navigate alias", "navigate", map[string]string{"key": "enter"}},
		{"unknown source", "source", map[string]string{"source": "DVD"}},
		{"unknown button", "buttons/self_destruct/press", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			id := env.addDevice(t)

			w := env.do(t, http.MethodPost, devicePath(id, tt.suffix), tt.body, auth.RoleOperator)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if code := decodeBody(t, w)["code"]; code != ErrCodeValidation {
				t.Errorf("code = %v, want %q", code, ErrCodeValidation)
			}
			if sent := env.transport.sentCommands(); len(sent) != 0 {
				t.Errorf("sent %d commands, want 0", len(sent))
			}
		})
	}
}

func TestTurnOn(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	// Wake-on-LAN works with the daemon down.
	env.transport.setProfileErr(&remoterelay.APIError{Kind: remoterelay.KindTransport, Message: "connection refused"})

	w := env.do(t, http.MethodPost, devicePath(id, "turn_on"), nil, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if sent := decodeBody(t, w)["sent"]; sent != float64(1) {
		t.Errorf("sent = %v, want 1", sent)
	}
	if got := env.waker.woken(); len(got) != 1 || got[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("woken = %v, want [AA:BB:CC:DD:EE:FF]", got)
	}
}

func TestRefreshDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodPost, devicePath(id, "refresh"), nil, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	env.transport.setProfileErr(&remoterelay.APIError{Kind: remoterelay.KindHTTP, Status: 500, Message: "HTTP 500"})
	w = env.do(t, http.MethodPost, devicePath(id, "refresh"), nil, auth.RoleOperator)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if code := decodeBody(t, w)["code"]; code != ErrCodeUpstream {
		t.Errorf("code = %v, want %q", code, ErrCodeUpstream)
	}

	// The failed poll is reflected in the view.
	view := decodeBody(t, env.do(t, http.MethodGet, devicePath(id, ""), nil, auth.RoleViewer))
	if view["state"] != string(remoterelay.MediaOff) {
		t.Errorf("state = %v, want %q", view["state"], remoterelay.MediaOff)
	}
	if view["last_update_success"] != false {
		t.Errorf("last_update_success = %v, want false", view["last_update_success"])
	}
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodPatch, devicePath(id, ""), map[string]string{
		"title":             "Den PC",
		"broadcast_address": "192.168.1.255",
	}, auth.RoleAdmin)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if title := decodeBody(t, w)["title"]; title != "Den PC" {
		t.Errorf("title = %v, want Den PC", title)
	}

	stored, err := env.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Title != "Den PC" {
		t.Errorf("stored title = %q, want %q", stored.Title, "Den PC")
	}
	if stored.Config.BroadcastAddress != "192.168.1.255" {
		t.Errorf("stored broadcast = %q, want %q", stored.Config.BroadcastAddress, "192.168.1.255")
	}
}

func TestUpdateDevice_Invalid(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", map[string]string{}},
		{"blank title", map[string]string{"title": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPatch, devicePath(id, ""), tt.body, auth.RoleAdmin)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestDeleteDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	w := env.do(t, http.MethodDelete, devicePath(id, ""), nil, auth.RoleAdmin)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	if _, err := env.manager.Get(id); !errors.Is(err, remoterelay.ErrEntryNotLoaded) {
		t.Errorf("manager.Get after delete error = %v, want ErrEntryNotLoaded", err)
	}
	if _, err := env.repo.GetByID(context.Background(), id); !errors.Is(err, entry.ErrEntryNotFound) {
		t.Errorf("GetByID after delete error = %v, want ErrEntryNotFound", err)
	}
	if got := env.relay.removed; len(got) != 1 || got[0] != "dev-1" {
		t.Errorf("relay removed = %v, want [dev-1]", got)
	}

	if w := env.do(t, http.MethodDelete, devicePath(id, ""), nil, auth.RoleAdmin); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCommandLog(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addDevice(t)

	env.do(t, http.MethodPost, devicePath(id, "commands"), map[string]any{"commands": []string{"up"}}, auth.RoleOperator)
	env.do(t, http.MethodPost, devicePath(id, "turn_off"), nil, auth.RoleOperator)

	w := env.do(t, http.MethodGet, devicePath(id, "commands"), nil, auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	records, _ := resp["commands"].([]any)
	newest, _ := records[0].(map[string]any)
	if newest["ok"] != true {
		t.Errorf("newest ok = %v, want true", newest["ok"])
	}

	w = env.do(t, http.MethodGet, devicePath(id, "commands")+"?limit=1", nil, auth.RoleViewer)
	if count := decodeBody(t, w)["count"]; count != float64(1) {
		t.Errorf("limited count = %v, want 1", count)
	}

	w = env.do(t, http.MethodGet, devicePath(id, "commands")+"?limit=abc", nil, auth.RoleViewer)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
