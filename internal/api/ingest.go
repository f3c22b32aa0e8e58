// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/tomtom215/civicdupe/internal/models"
	"github.com/tomtom215/civicdupe/internal/validation"
)

// maxIngestBodyBytes bounds the multipart form civicdupe will buffer for one
// ingestion request: up to three photos plus a generous description.
const maxIngestBodyBytes = 12 << 20

// maxPhotoCount is the spec's "1..3 photo uploads" bound.
const maxPhotoCount = 3

// IngestReport handles POST /v1/reports: a multipart form carrying the
// report fields plus 1..3 photo uploads under the "photos" field name.
func (h *Handler) IngestReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)
	if err := r.ParseMultipartForm(maxIngestBodyBytes); err != nil {
		rw.BadRequest("malformed multipart form: " + err.Error())
		return
	}

	lat, err := strconv.ParseFloat(r.FormValue("lat"), 64)
	if err != nil {
		rw.BadRequest("lat must be a valid number")
		return
	}
	lon, err := strconv.ParseFloat(r.FormValue("lon"), 64)
	if err != nil {
		rw.BadRequest("lon must be a valid number")
		return
	}

	req := models.IngestRequest{
		ReporterID:  r.FormValue("reporter_id"),
		Location:    models.Location{Lat: lat, Lon: lon},
		Category:    r.FormValue("category"),
		Severity:    r.FormValue("severity"),
		Description: r.FormValue("description"),
	}

	if r.MultipartForm != nil {
		files := r.MultipartForm.File["photos"]
		if len(files) > maxPhotoCount {
			rw.BadRequest("please provide 1-3 photos")
			return
		}
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				rw.BadRequest("could not read photo upload: " + err.Error())
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				rw.BadRequest("could not read photo upload: " + err.Error())
				return
			}
			req.Photos = append(req.Photos, data)
			req.ContentTypes = append(req.ContentTypes, fh.Header.Get("Content-Type"))
		}
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	disposition, err := h.Engine.Ingest(r.Context(), req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Created(disposition)
}
