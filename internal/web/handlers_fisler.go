package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/export"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

type listResponse struct {
	Success    bool            `json:"success"`
	Data       []core.Fis      `json:"data"`
	Pagination core.Pagination `json:"pagination"`
	Filters    core.FilterEcho `json:"filters"`
}

type fisResponse struct {
	Success  bool     `json:"success"`
	Data     core.Fis `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

// detailResponse adds the display date: tarih_saat, or created_at when the
// receipt carried none.
type detailResponse struct {
	fisResponse
	Date        time.Time `json:"date"`
	DisplayDate string    `json:"displayDate"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Count      int               `json:"count"`
	DeletedIDs []string          `json:"deletedIds"`
	MissingIDs []string          `json:"missingIds"`
	Partial    bool              `json:"partial"`
	Method     core.DeleteMethod `json:"method"`
}

// handleListFis serves one filtered page of receipts.
func (s *Server) handleListFis(w http.ResponseWriter, r *http.Request) {
	params, err := core.ParseFilterParams(r.URL.Query(), core.DefaultAPILimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.ListFis(r.Context(), params)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, listResponse{
		Success:    true,
		Data:       res.Records,
		Pagination: res.Pagination,
		Filters:    res.Filters,
	})
}

func (s *Server) handleGetFis(w http.ResponseWriter, r *http.Request) {
	f, err := s.service.GetFis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	date := f.EffectiveDate()
	writeJSON(w, r, http.StatusOK, detailResponse{
		fisResponse: fisResponse{Success: true, Data: f},
		Date:        date,
		DisplayDate: export.FormatDate(date, export.TurkeyTime()),
	})
}

// handleCreateFis is the workflow write-back: the body is validated
// against the ingestion schema before anything is stored.
func (s *Server) handleCreateFis(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		s.respondError(w, r, &core.ValidationError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}

	f, warnings, err := s.service.IngestFis(r.Context(), body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, fisResponse{Success: true, Data: f, Warnings: warnings})
}

func (s *Server) handleUpdateFis(w http.ResponseWriter, r *http.Request) {
	var u core.FisUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := s.service.UpdateFis(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, fisResponse{Success: true, Data: f})
}

// handleDeleteFis removes the receipts named in {"ids": [...]}. Missing or
// empty ids are rejected before the store is touched. Identifiers that were
// already gone are reported in missingIds; the request still succeeds.
func (s *Server) handleDeleteFis(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.DeleteFis(r.Context(), req.IDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	msg := fmt.Sprintf("%d fis deleted", len(res.Deleted))
	if res.Partial() {
		msg = fmt.Sprintf("%d of %d fis deleted; %d not found", len(res.Deleted), len(res.Requested), len(res.Missing))
	}
	writeJSON(w, r, http.StatusOK, deleteResponse{
		Success:    true,
		Message:    msg,
		Count:      len(res.Deleted),
		DeletedIDs: res.Deleted,
		MissingIDs: res.Missing,
		Partial:    res.Partial(),
		Method:     res.Method,
	})
}

// decodeJSON strictly decodes a bounded JSON body into v. Any failure is a
// *core.ValidationError.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &core.ValidationError{Field: "body", Message: "invalid request body: empty"}
		}
		return &core.ValidationError{Field: "body", Message: "invalid request body: " + err.Error()}
	}
	return nil
}
