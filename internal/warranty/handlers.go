package warranty

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/warrantyocr/warranty-ocr/internal/validation"
)

// maxUploadSize matches the largest invoice the OCR pre-flight accepts
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v as a JSON body with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// notFoundOr maps ErrNotFound to 404 and anything else to code
func notFoundOr(w http.ResponseWriter, err error, code int, message string) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, "Warranty not found", http.StatusNotFound)
		return
	}
	slog.Error(message, "error", err)
	writeError(w, message, code)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListWarranties returns all warranties, optionally filtered by status
func (s *Server) handleListWarranties(w http.ResponseWriter, r *http.Request) {
	status := validation.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, "Unknown status", http.StatusBadRequest)
		return
	}

	warranties, err := s.service.List(status)
	if err != nil {
		slog.Error("Error listing warranties", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, warranties)
}

// handleSubmitWarranty handles a warranty submission with its invoice
func (s *Server) handleSubmitWarranty(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	installation, err := civil.ParseDate(strings.TrimSpace(r.FormValue("installation_date")))
	if err != nil {
		writeError(w, "installation_date must be formatted as YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("invoice")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No invoice provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No invoice was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	created, err := s.service.Submit(r.Context(), Submission{
		Filename:         header.Filename,
		Data:             data,
		ContentType:      strings.ToLower(strings.TrimSpace(contentType)),
		SerialNumber:     r.FormValue("serial_number"),
		ProductModel:     r.FormValue("product_model"),
		InstallerID:      r.FormValue("installer_id"),
		InstallationDate: installation,
	})
	if err != nil {
		slog.Error("Error submitting warranty", "filename", header.Filename, "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidSubmission) {
			code = http.StatusBadRequest
		}
		writeError(w, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// contentTypeFor guesses the MIME type from the file extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// handleGetWarranty returns a single warranty
func (s *Server) handleGetWarranty(w http.ResponseWriter, r *http.Request) {
	warranty, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		notFoundOr(w, err, http.StatusInternalServerError, "Error getting warranty")
		return
	}

	writeJSON(w, http.StatusOK, warranty)
}

// handleGetInvoice returns the invoice file of a warranty
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Warranty not found", http.StatusNotFound)
			return
		}
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteWarranty deletes a warranty
func (s *Server) handleDeleteWarranty(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.PathValue("id")); err != nil {
		notFoundOr(w, err, http.StatusInternalServerError, "Error deleting warranty")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevalidate runs OCR validation again
func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	warranty, err := s.service.Revalidate(r.Context(), r.PathValue("id"))
	if err != nil {
		notFoundOr(w, err, http.StatusInternalServerError, "Error revalidating warranty")
		return
	}

	writeJSON(w, http.StatusOK, warranty)
}

// handleSetStatus records a manual review decision
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status validation.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	warranty, err := s.service.SetStatus(r.PathValue("id"), validation.Status(strings.ToUpper(string(req.Status))))
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		notFoundOr(w, err, http.StatusInternalServerError, "Error setting status")
		return
	}

	writeJSON(w, http.StatusOK, warranty)
}
