package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/luca-patrignani/edu-ledger/digest"
	"github.com/luca-patrignani/edu-ledger/ledger"
)

type recordRequest struct {
	Name string `json:"name"`
	Roll string `json:"roll"`
	GPA  string `json:"gpa"`
}

type blockResponse struct {
	Fingerprint string       `json:"fingerprint"`
	Block       ledger.Block `json:"block"`
}

type lookupResponse struct {
	Fingerprint string  `json:"fingerprint"`
	Found       bool    `json:"found"`
	Index       int     `json:"index,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"blocks": s.chain.Len()})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Blocks())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	report := s.chain.Validate()
	if !report.Valid {
		s.logger.Warn("chain validation failed", "index", report.Index, "reason", report.Reason)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := parseRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.chain.AddRecord(rec.Name, rec.Roll, rec.GPA)
	if err != nil {
		s.logger.Error("failed to commit record", "index", b.Index, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("record appended but not persisted"))
		return
	}
	s.logger.Info("record added", "index", b.Index, "fingerprint", digest.Fingerprint(b.Payload).Short())
	writeJSON(w, http.StatusCreated, blockResponse{Fingerprint: b.Payload, Block: b})
}

func (s *Server) handleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := parseRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := lookupResponse{Fingerprint: digest.Record(rec.Name, rec.Roll, rec.GPA).String()}
	if b, ok := s.chain.FindRecord(rec.Name, rec.Roll, rec.GPA); ok {
		resp.Found, resp.Index, resp.Timestamp = true, b.Index, b.Timestamp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddCertificate(w http.ResponseWriter, r *http.Request) {
	fp, err := s.uploadedFingerprint(w, r)
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}
	b, err := s.chain.Commit(ledger.KindCertificate, fp.String())
	if err != nil {
		s.logger.Error("failed to commit certificate", "index", b.Index, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("certificate appended but not persisted"))
		return
	}
	s.logger.Info("certificate added", "index", b.Index, "fingerprint", fp.Short())
	writeJSON(w, http.StatusCreated, blockResponse{Fingerprint: fp.String(), Block: b})
}

// handleVerifyCertificate accepts either an uploaded file or a fingerprint
// form value.
func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var fp digest.Fingerprint
	var err error
	if isMultipart(r) {
		fp, err = s.uploadedFingerprint(w, r)
	} else {
		fp, err = digest.Parse(r.FormValue("fingerprint"))
	}
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}
	resp := lookupResponse{Fingerprint: fp.String()}
	if b, ok := s.chain.FindCertificate(fp); ok {
		resp.Found, resp.Index, resp.Timestamp = true, b.Index, b.Timestamp
	}
	writeJSON(w, http.StatusOK, resp)
}

// uploadedFingerprint hashes the multipart "file" field while streaming it.
func (s *Server) uploadedFingerprint(w http.ResponseWriter, r *http.Request) (digest.Fingerprint, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	mr, err := r.MultipartReader()
	if err != nil {
		return "", fmt.Errorf("expected a multipart upload: %w", err)
	}
	for {
		part, err := mr.NextPart()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", fmt.Errorf("upload exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		if err != nil {
			return "", errors.New(`missing "file" field`)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		return digest.Reader(part)
	}
}

// uploadStatus maps upload errors to 413 when the size limit was hit.
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func parseRecord(r *http.Request) (recordRequest, error) {
	var rec recordRequest
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			return rec, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		rec = recordRequest{
			Name: r.FormValue("name"),
			Roll: r.FormValue("roll"),
			GPA:  r.FormValue("gpa"),
		}
	}
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Roll = strings.TrimSpace(rec.Roll)
	rec.GPA = strings.TrimSpace(rec.GPA)

	var missing []string
	for _, f := range []struct{ name, value string }{{"name", rec.Name}, {"roll", rec.Roll}, {"gpa", rec.GPA}} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return rec, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	return rec, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
