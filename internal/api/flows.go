package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/remoterelay-bridge/internal/audit"
	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
)

// flowResponse is a pairing step plus the entry created when it paired.
type flowResponse struct {
	remoterelay.Step
	EntryID string `json:"entry_id,omitempty"`
}

type menuRequest struct {
	Menu string `json:"menu"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// handleCreateFlow starts a pairing flow. An optional {menu} picks the
// branch straight away.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req menuRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	flow := s.flows.Create()
	step := flow.Current()
	if req.Menu != "" {
		var err error
		step, err = chooseMenu(flow, req.Menu)
		if err != nil {
			s.flows.Remove(flow.ID())
			s.writeDomainError(w, err, "failed to start pairing flow")
			return
		}
	}

	s.logger.Info("pairing flow started", "flow", flow.ID(), "menu", req.Menu)
	writeJSON(w, http.StatusCreated, flowResponse{Step: redactStep(step)})
}

// handleGetFlow returns the current step of a flow.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get pairing flow")
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Step: redactStep(flow.Current())})
}

// handleDeleteFlow abandons a flow.
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.flows.Get(id); err != nil {
		s.writeDomainError(w, err, "failed to delete pairing flow")
		return
	}
	s.flows.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleFlowMenu picks the discovery or manual branch.
func (s *Server) handleFlowMenu(w http.ResponseWriter, r *http.Request) {
	var req menuRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.stepFlow(w, r, func(_ context.Context, flow *remoterelay.Flow) (remoterelay.Step, error) {
		return chooseMenu(flow, req.Menu)
	})
}

// handleFlowManual submits the manual address form.
func (s *Server) handleFlowManual(w http.ResponseWriter, r *http.Request) {
	var req remoterelay.ManualInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.stepFlow(w, r, func(_ context.Context, flow *remoterelay.Flow) (remoterelay.Step, error) {
		return flow.SubmitManual(req)
	})
}

// handleFlowDiscovery feeds a service advertisement into the flow.
func (s *Server) handleFlowDiscovery(w http.ResponseWriter, r *http.Request) {
	var req remoterelay.DiscoveryInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.stepFlow(w, r, func(ctx context.Context, flow *remoterelay.Flow) (remoterelay.Step, error) {
		return flow.Discover(ctx, req)
	})
}

// handleFlowCode exchanges the pairing code. A paired flow becomes an entry.
func (s *Server) handleFlowCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.stepFlow(w, r, func(ctx context.Context, flow *remoterelay.Flow) (remoterelay.Step, error) {
		return flow.SubmitCode(ctx, req.Code)
	})
}

// stepFlow runs one transition and settles terminal outcomes.
func (s *Server) stepFlow(w http.ResponseWriter, r *http.Request, step func(context.Context, *remoterelay.Flow) (remoterelay.Step, error)) {
	ctx := r.Context()
	flow, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get pairing flow")
		return
	}

	result, err := step(ctx, flow)
	if err != nil {
		s.writeDomainError(w, err, "pairing step failed")
		return
	}

	resp := flowResponse{Step: redactStep(result)}
	switch result.State {
	case remoterelay.StatePaired:
		created, err := s.completePairing(ctx, flow)
		if err != nil {
			s.writeDomainError(w, err, "failed to store paired device")
			return
		}
		resp.EntryID = created.ID
		s.flows.Remove(flow.ID())
		writeJSON(w, http.StatusCreated, resp)
		return
	case remoterelay.StateAborted:
		if result.AddressUpdate != nil {
			s.applyAddressUpdate(ctx, *result.AddressUpdate)
		}
		s.logger.Info("pairing flow aborted", "flow", flow.ID(), "reason", result.Reason)
		s.flows.Remove(flow.ID())
	}
	writeJSON(w, http.StatusOK, resp)
}

// completePairing persists a paired flow and starts its runtime.
func (s *Server) completePairing(ctx context.Context, flow *remoterelay.Flow) (*entry.Entry, error) {
	title, cfg, ok := flow.Result()
	if !ok {
		return nil, remoterelay.ErrInvalidTransition
	}

	e := &entry.Entry{Title: title, Config: cfg}
	if err := s.entries.Create(ctx, e); err != nil {
		return nil, err
	}

	rt, err := s.manager.Setup(ctx, e.Stored())
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(EventDeviceAdded, rt.View())
	s.recordAudit(ctx, audit.ActionPaired, e.ID, e.DeviceID(), map[string]any{
		"title":    e.Title,
		"base_url": e.Config.BaseURL,
	})
	s.logger.Info("device paired", "entry", e.ID, "device_id", e.DeviceID(), "title", e.Title)
	return e, nil
}

// applyAddressUpdate moves an existing entry to a rediscovered address.
// Entries without a live runtime get a short-lived coordinator for the write.
func (s *Server) applyAddressUpdate(ctx context.Context, update remoterelay.AddressUpdate) {
	err := s.manager.ApplyAddressUpdate(ctx, update)
	if errors.Is(err, remoterelay.ErrEntryNotLoaded) {
		err = s.updateStoredAddress(ctx, update)
	}
	if err != nil {
		s.logger.Warn("applying rediscovered address failed", "entry", update.EntryID, "error", err)
		return
	}
	s.recordAudit(ctx, audit.ActionAddressChanged, update.EntryID, update.DeviceID, map[string]any{
		"host": update.Host,
		"port": update.Port,
	})
	s.logger.Info("device address updated", "entry", update.EntryID, "host", update.Host, "port", update.Port)
}

// updateStoredAddress hands an unloaded entry to the manager, which writes
// the new address through a coordinator.
func (s *Server) updateStoredAddress(ctx context.Context, update remoterelay.AddressUpdate) error {
	e, err := s.entries.GetByID(ctx, update.EntryID)
	if err != nil {
		return err
	}
	return s.manager.ApplyStoredAddress(ctx, e.Stored(), update.Host, update.Port)
}

func chooseMenu(flow *remoterelay.Flow, menu string) (remoterelay.Step, error) {
	switch menu {
	case remoterelay.MenuWaitForDiscovery:
		return flow.ChooseDiscovery()
	case remoterelay.MenuManual:
		return flow.ChooseManual()
	default:
		return remoterelay.Step{}, fmt.Errorf("%w: menu must be wait_for_discovery or manual", remoterelay.ErrInvalidInput)
	}
}

// redactStep strips the access token from a paired step.
func redactStep(step remoterelay.Step) remoterelay.Step {
	if step.Config != nil {
		cfg := step.Config.Redacted()
		step.Config = &cfg
	}
	return step
}

// decodeOptionalJSON decodes the body into v, accepting an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
