package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/remoterelay-bridge/internal/audit"
)

// recordAudit writes one lifecycle record. Failures are logged, never
// returned: the change itself already happened.
func (s *Server) recordAudit(ctx context.Context, action, entryID, deviceID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	actor := ""
	if claims := claimsFromContext(ctx); claims != nil {
		actor = claims.Subject
	}

	rec := &audit.Record{
		Action:   action,
		EntryID:  entryID,
		DeviceID: deviceID,
		Actor:    actor,
		Source:   audit.SourceAPI,
		Details:  details,
	}
	if err := s.audit.Create(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("audit write failed",
			"action", action,
			"entry", entryID,
			"error", err,
		)
	}
}

// handleListAudit returns lifecycle records, newest first.
//
// Query parameters:
//   - action: paired, updated, address_changed or removed
//   - entry_id: one entry
//   - limit: default 50, max 200
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, &audit.ListResult{Records: []audit.Record{}})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		EntryID: q.Get("entry_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err, "failed to list audit records")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
