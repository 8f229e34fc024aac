package web

import (
	"fmt"
	"net/http"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/export"
	"github.com/JonMunkholm/fisler/internal/logging"
)

// handleExportFiltered downloads every receipt matching the listing
// filters. Paging parameters are ignored.
func (s *Server) handleExportFiltered(w http.ResponseWriter, r *http.Request) {
	params, err := core.ParseFilterParams(r.URL.Query(), core.DefaultAPILimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	records, err := s.service.ExportFiltered(r.Context(), params)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeWorkbook(w, r, records)
}

// handleExportSelection downloads the receipts named in {"ids": [...]}.
func (s *Server) handleExportSelection(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	records, err := s.service.ExportSelection(r.Context(), req.IDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeWorkbook(w, r, records)
}

// writeWorkbook builds the workbook before sending headers so build errors
// still get the JSON envelope.
func (s *Server) writeWorkbook(w http.ResponseWriter, r *http.Request, records []core.Fis) {
	x, err := s.exporter.Build(records)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer x.Close()

	name := s.exporter.FileName()
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)

	n, err := x.WriteTo(w)
	if err != nil {
		logging.FromContext(r.Context()).Error("export write failed", "file", name, "error", err)
		return
	}
	logging.FromContext(r.Context()).Info("export sent",
		"file", name,
		"records", len(records),
		"bytes", n,
	)
}
