package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/remoterelay-bridge/internal/audit"
	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
)

// maxCommandLogLimit caps GET /devices/{id}/commands.
const maxCommandLogLimit = 200

// deviceUpdateRequest is the PATCH body. Nil fields are left alone.
type deviceUpdateRequest struct {
	Title            *string `json:"title"`
	BroadcastAddress *string `json:"broadcast_address"`
}

type commandsRequest struct {
	Commands   remoterelay.CommandList `json:"commands"`
	NumRepeats int                     `json:"num_repeats"`
	DelaySecs  float64                 `json:"delay_secs"`
}

type navigateRequest struct {
	Key string `json:"key"`
}

type sourceRequest struct {
	Source string `json:"source"`
}

type muteRequest struct {
	Mute bool `json:"mute"`
}

// deviceResponse is a view plus the entry title.
type deviceResponse struct {
	remoterelay.View
	Title string `json:"title"`
}

func toDeviceResponse(rt *remoterelay.Runtime) deviceResponse {
	return deviceResponse{View: rt.View(), Title: rt.Title}
}

// runtimeFor resolves {id} as an entry id, then as a device id.
func (s *Server) runtimeFor(r *http.Request) (*remoterelay.Runtime, error) {
	id := chi.URLParam(r, "id")
	rt, err := s.manager.Get(id)
	if err == nil {
		return rt, nil
	}
	if byDevice, ok := s.manager.FindByDeviceID(id); ok {
		return byDevice, nil
	}
	return nil, err
}

// handleListDevices returns the view of every loaded entry.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	runtimes := s.manager.List()
	devices := make([]deviceResponse, 0, len(runtimes))
	for _, rt := range runtimes {
		devices = append(devices, toDeviceResponse(rt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device view.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(rt))
}

// handleUpdateDevice renames an entry or changes its Wake-on-LAN broadcast
// address.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}

	var req deviceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Title == nil && req.BroadcastAddress == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	ctx := r.Context()
	if req.BroadcastAddress != nil {
		if err := rt.Coordinator.SetBroadcastAddress(ctx, *req.BroadcastAddress); err != nil {
			s.writeDomainError(w, err, "failed to update broadcast address")
			return
		}
	}

	if req.Title != nil {
		if err := s.entries.UpdateTitle(ctx, rt.EntryID, strings.TrimSpace(*req.Title)); err != nil {
			s.writeDomainError(w, err, "failed to update title")
			return
		}
		// Reload so the runtime carries the new title.
		stored, err := s.entries.GetByID(ctx, rt.EntryID)
		if err != nil {
			s.writeDomainError(w, err, "failed to reload device")
			return
		}
		if rt, err = s.manager.Setup(ctx, stored.Stored()); err != nil {
			s.writeDomainError(w, err, "failed to reload device")
			return
		}
	}

	details := map[string]any{}
	if req.Title != nil {
		details["title"] = strings.TrimSpace(*req.Title)
	}
	if req.BroadcastAddress != nil {
		details["broadcast_address"] = strings.TrimSpace(*req.BroadcastAddress)
	}
	s.recordAudit(ctx, audit.ActionUpdated, rt.EntryID, rt.DeviceID(), details)

	writeJSON(w, http.StatusOK, toDeviceResponse(rt))
}

// handleDeleteDevice unloads and forgets an entry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var deviceID string
	if rt, err := s.runtimeFor(r); err == nil {
		id = rt.EntryID
		deviceID = rt.DeviceID()
		s.manager.Unload(id)
	}

	if err := s.entries.Delete(ctx, id); err != nil {
		// A runtime without a row is still gone after Unload.
		if !(errors.Is(err, entry.ErrEntryNotFound) && deviceID != "") {
			s.writeDomainError(w, err, "failed to delete device")
			return
		}
	}

	if deviceID != "" && s.relay != nil {
		s.relay.PublishRemoved(deviceID)
	}
	s.hub.Broadcast(EventDeviceRemoved, map[string]string{"entry_id": id, "device_id": deviceID})
	s.recordAudit(ctx, audit.ActionRemoved, id, deviceID, nil)
	s.logger.Info("device removed", "entry", id, "device_id", deviceID)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshDevice polls the daemon now.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}
	if err := rt.Coordinator.Refresh(r.Context()); err != nil {
		s.writeDomainError(w, err, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(rt))
}

// handleListCommandLog returns recent command bursts, newest first.
func (s *Server) handleListCommandLog(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}

	limit := entry.DefaultCommandHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > maxCommandLogLimit {
			writeBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxCommandLogLimit))
			return
		}
		limit = n
	}

	records, err := s.entries.RecentCommands(r.Context(), rt.EntryID, limit)
	if err != nil {
		s.writeDomainError(w, err, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": records, "count": len(records)})
}

// handleSendCommands sends a remote burst.
func (s *Server) handleSendCommands(w http.ResponseWriter, r *http.Request) {
	var req commandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Commands) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "commands is required")
		return
	}
	if req.NumRepeats < 0 || req.DelaySecs < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "num_repeats and delay_secs must not be negative")
		return
	}
	s.execute(w, r, remoterelay.RelayCommand{
		Commands:   req.Commands,
		NumRepeats: req.NumRepeats,
		DelaySecs:  req.DelaySecs,
	})
}

// handleNavigate sends one navigate key.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.execute(w, r, remoterelay.RelayCommand{Action: "navigate", Key: req.Key})
}

// handleSelectSource switches input by source name.
func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.execute(w, r, remoterelay.RelayCommand{Action: "select_source", Source: req.Source})
}

// handleMute toggles mute. The daemon only knows a toggle, so the
// requested value is not sent.
func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.execute(w, r, remoterelay.RelayCommand{Action: "mute", Mute: req.Mute})
}

// handleTurnOn sends Wake-on-LAN to every known MAC.
func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}
	sent, err := rt.TurnOn(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "wake-on-lan failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sent": sent})
}

// handleTurnOff sends power_off.
func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, remoterelay.RelayCommand{Action: "turn_off"})
}

// handleMediaAction runs a media-player control.
func (s *Server) handleMediaAction(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}

	ctx := r.Context()
	d := rt.Dispatcher
	action := chi.URLParam(r, "action")
	switch action {
	case "play_pause":
		err = d.PlayPause(ctx)
	case "play":
		err = d.Play(ctx)
	case "pause":
		err = d.Pause(ctx)
	case "next_track":
		err = d.NextTrack(ctx)
	case "previous_track":
		err = d.PreviousTrack(ctx)
	case "volume_up":
		err = d.VolumeUp(ctx)
	case "volume_down":
		err = d.VolumeDown(ctx)
	default:
		err = fmt.Errorf("%w: media action %q", remoterelay.ErrUnsupportedCommand, action)
	}
	if err != nil {
		s.writeDomainError(w, err, "command failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePressButton presses a catalogue button.
func (s *Server) handlePressButton(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, remoterelay.RelayCommand{Action: "press", Key: chi.URLParam(r, "key")})
}

// execute runs cmd on the addressed runtime with the same routing the MQTT
// relay uses.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd remoterelay.RelayCommand) {
	rt, err := s.runtimeFor(r)
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}

	started := time.Now()
	if err := remoterelay.ExecuteCommand(r.Context(), rt, cmd); err != nil {
		s.logger.Debug("device command failed", "entry", rt.EntryID, "action", cmd.Action, "error", err)
		s.writeDomainError(w, err, "command failed")
		return
	}
	s.logger.Debug("device command sent", "entry", rt.EntryID, "action", cmd.Action,
		"duration_ms", time.Since(started).Milliseconds())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
