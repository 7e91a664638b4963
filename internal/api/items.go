package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// ItemView is the JSON form of a catalog item and its current reading.
type ItemView struct {
	Name      string     `json:"name"`
	ID        uint8      `json:"item_id"`
	Shape     string     `json:"shape"`
	Slot      string     `json:"slot"`
	Kind      string     `json:"kind"`
	Unit      string     `json:"unit,omitempty"`
	Writable  bool       `json:"writable"`
	Command   string     `json:"command,omitempty"`
	Seen      bool       `json:"seen"`
	Valid     bool       `json:"valid"`
	Value     any        `json:"value,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func newItemView(it opentherm.Item, r registry.Reading, seen bool) ItemView {
	v := ItemView{
		Name:     it.Name,
		ID:       it.ID,
		Shape:    it.Shape.String(),
		Slot:     it.Slot.String(),
		Kind:     string(it.Kind),
		Unit:     it.Unit,
		Writable: it.Writable,
		Command:  it.Command,
		Seen:     seen,
	}
	if seen {
		v.Valid = r.Valid
		v.Value = r.Value.Any()
		ts := r.UpdatedAt.UTC()
		v.UpdatedAt = &ts
	}
	return v
}

// TransactionView describes a queued or finished request.
type TransactionView struct {
	ID       string `json:"id"`
	Request  string `json:"request"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

// Transaction statuses.
const (
	TransactionQueued    = "queued"
	TransactionCompleted = "completed"
)

// writeItemRequest is the body of POST /items/{name}.
type writeItemRequest struct {
	Value    *float64 `json:"value"`
	Priority *int     `json:"priority,omitempty"`
}

// handleListItems returns every catalog item. ?seen=true limits the list to
// items the gateway has reported.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	onlySeen := r.URL.Query().Get("seen") == "true"

	readings := make(map[string]registry.Reading)
	for _, rd := range s.engine.Readings() {
		readings[rd.Item.Name] = rd
	}

	items := s.engine.Catalog().Items()
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		rd, seen := readings[it.Name]
		if onlySeen && !seen {
			continue
		}
		out = append(out, newItemView(it, rd, seen))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"count": len(out),
	})
}

// handleGetItem returns one catalog item with its reading.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	it, ok := s.engine.Catalog().Lookup(name)
	if !ok {
		writeNotFound(w, "unknown item: "+name)
		return
	}
	rd, seen := s.engine.Reading(name)
	writeJSON(w, http.StatusOK, newItemView(it, rd, seen))
}

// handleListData returns the raw master and slave slots of every data id.
func (s *Server) handleListData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": s.engine.Snapshot(),
	})
}

// handleWriteItem queues a write of a catalog item.
func (s *Server) handleWriteItem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req writeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	if math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0) {
		writeBadRequest(w, "value must be finite")
		return
	}
	priority := s.priority
	if req.Priority != nil {
		priority = *req.Priority
	}

	h, err := s.engine.SubmitWriteNamed(name, *req.Value, priority)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.Info("api item write",
		"item", name,
		"value", *req.Value,
		"request", h.Request.Key(),
		"subject", subject(r),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	s.respondTransaction(w, r, h)
}

// handleCommand queues a raw gateway command such as "HW=P".
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command  string `json:"command"`
		Priority *int   `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, err := opentherm.ParseCommand(req.Command)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	priority := s.priority
	if req.Priority != nil {
		priority = *req.Priority
	}

	h, err := s.engine.SubmitCommand(cmd, priority)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.Info("api gateway command",
		"command", cmd.String(),
		"subject", subject(r),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	s.respondTransaction(w, r, h)
}

// respondTransaction answers 202 with the queued transaction, or with
// ?wait=true blocks until it finishes.
func (s *Server) respondTransaction(w http.ResponseWriter, r *http.Request, h *sequencer.Handle) {
	view := TransactionView{
		ID:      h.ID.String(),
		Request: h.Request.Key(),
		Status:  TransactionQueued,
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")) //nolint:errcheck // absent or invalid means false
	if !wait {
		writeJSON(w, http.StatusAccepted, view)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandWait())
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view.Status = TransactionCompleted
	view.Attempts = res.Attempts
	view.Reply = res.Reply.Value
	writeJSON(w, http.StatusOK, view)
}
