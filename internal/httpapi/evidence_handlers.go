package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/evidence"
)

const (
	multipartMemory = 32 << 20

	fieldPermitID = "permit_id"
	fieldMetadata = "evidences_data"
	fieldPhase    = "phase"
	fieldFiles    = "files"
	fieldFile     = "file"
)

type evidenceUpdateRequest struct {
	Category    evidence.Category `json:"category"`
	Description string            `json:"description"`
}

type uploadedFile struct {
	URL string `json:"url"`
}

func parseMultipart(r *http.Request) error {
	const op = "httpapi.multipart"
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(op, err, "request body too large")
		}
		return apperr.Validation(op, err, "invalid multipart form")
	}
	return nil
}

func formPermitID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.FormValue(fieldPermitID))
	if raw == "" {
		return 0, apperr.Validation("httpapi.multipart", evidence.ErrMissingField, "permit_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("httpapi.multipart", err, "invalid permit_id %q", raw)
	}
	return id, nil
}

// readParts loads the named parts in upload order. Each read stops one byte
// past limit so the size check can still reject it.
func readParts(headers []*multipart.FileHeader, limit int64) ([]evidence.File, error) {
	out := make([]evidence.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, limit)
		if err != nil {
			return nil, apperr.Validation("httpapi.multipart", err, "failed to read %s", fh.Filename)
		}
		out = append(out, evidence.File{Name: fh.Filename, Data: data})
	}
	return out, nil
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

func (a *API) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(r); err != nil {
		a.respondError(w, r, err)
		return
	}
	permitID, err := formPermitID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	id, err := a.authorizePermit(r.Context(), auth.ActEvidenceUpload, permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	files, err := readParts(r.MultipartForm.File[fieldFiles], evidence.KindEvidence.MaxBytes)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := a.deps.Evidence.UploadBatch(r.Context(), evidence.BatchRequest{
		PermitID:    permitID,
		Phase:       evidence.Phase(strings.TrimSpace(r.FormValue(fieldPhase))),
		Files:       files,
		RawMetadata: r.FormValue(fieldMetadata),
		UploadedBy:  id.ID,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "evidence uploaded", out)
}

func (a *API) listEvidence(w http.ResponseWriter, r *http.Request) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), auth.ActEvidenceRead, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	list, err := a.deps.Evidence.ListByPermit(r.Context(), permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []evidence.Evidence{}
	}
	respondOK(w, http.StatusOK, "", list)
}

func (a *API) evidenceStats(w http.ResponseWriter, r *http.Request) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), auth.ActEvidenceRead, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	stats, err := a.deps.Evidence.Stats(r.Context(), permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", stats)
}

// authorizeEvidence resolves the evidence row's permit and checks act against its owner.
func (a *API) authorizeEvidence(r *http.Request, act auth.Action) (int64, error) {
	evidenceID, err := pathID(r, "id")
	if err != nil {
		return 0, err
	}
	if _, err := caller(r.Context()); err != nil {
		return 0, err
	}
	e, err := a.deps.Evidence.Get(r.Context(), evidenceID)
	if err != nil {
		return 0, err
	}
	if _, err := a.authorizePermit(r.Context(), act, e.PermitID); err != nil {
		return 0, err
	}
	return evidenceID, nil
}

func (a *API) updateEvidence(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := a.authorizeEvidence(r, auth.ActEvidenceUpdate)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in evidenceUpdateRequest
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.deps.Evidence.UpdateDetails(r.Context(), evidenceID, in.Category, in.Description); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "evidence updated", nil)
}

func (a *API) deleteEvidence(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := a.authorizeEvidence(r, auth.ActEvidenceDelete)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.deps.Evidence.Delete(r.Context(), evidenceID); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "evidence deleted", nil)
}

// singlePart returns the one file sent under the "file" field.
func singlePart(r *http.Request, limit int64) (evidence.File, error) {
	headers := r.MultipartForm.File[fieldFile]
	if len(headers) == 0 {
		return evidence.File{}, apperr.Validation("httpapi.multipart", evidence.ErrNoFiles, "no file uploaded")
	}
	if len(headers) > 1 {
		return evidence.File{}, apperr.Validation("httpapi.multipart", nil, "exactly one file is accepted")
	}
	files, err := readParts(headers, limit)
	if err != nil {
		return evidence.File{}, err
	}
	return files[0], nil
}

func (a *API) uploadSWMS(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(r); err != nil {
		a.respondError(w, r, err)
		return
	}
	permitID, err := formPermitID(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.authorizePermit(r.Context(), auth.ActUploadDocument, permitID); err != nil {
		a.respondError(w, r, err)
		return
	}
	f, err := singlePart(r, evidence.KindSWMS.MaxBytes)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	url, err := a.deps.Evidence.UploadSWMS(r.Context(), permitID, f)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "swms uploaded", uploadedFile{URL: url})
}

func (a *API) uploadSignature(w http.ResponseWriter, r *http.Request) {
	if _, err := a.authorize(r.Context(), auth.ActUploadDocument, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := parseMultipart(r); err != nil {
		a.respondError(w, r, err)
		return
	}
	f, err := singlePart(r, evidence.KindSignature.MaxBytes)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	url, err := a.deps.Evidence.UploadSignature(r.Context(), f)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "signature uploaded", uploadedFile{URL: url})
}

// serveFile streams a stored upload with its sniffed media type.
func (a *API) serveFile(w http.ResponseWriter, r *http.Request) {
	ref := blob.Ref{Kind: blob.Kind(chi.URLParam(r, "kind")), Name: chi.URLParam(r, "name")}
	data, mime, err := a.deps.Evidence.Open(r.Context(), ref)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
