package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/permit"
	"safeworks.org/ptw/internal/report"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) listPermits(w http.ResponseWriter, r *http.Request) {
	id, err := a.authorize(r.Context(), auth.ActPermitRead, 0)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	f, err := permitFilter(r, id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	list, err := a.deps.Workflow.List(r.Context(), f)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []permit.Permit{}
	}
	respondOK(w, http.StatusOK, "", list)
}

func permitFilter(r *http.Request, id auth.Identity) (permit.Filter, error) {
	const op = "httpapi.permit_filter"
	q := r.URL.Query()
	var f permit.Filter
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, permit.Status(s))
			}
		}
	}
	if raw := q.Get("site_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return f, apperr.Validation(op, err, "invalid site_id %q", raw)
		}
		f.SiteID = v
	}
	if mine, _ := strconv.ParseBool(q.Get("mine")); mine {
		f.CreatedBy = id.ID
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			return f, apperr.Validation(op, err, "limit must be between 1 and 1000")
		}
		f.Limit = v
	}
	return f, nil
}

func (a *API) createPermit(w http.ResponseWriter, r *http.Request) {
	id, err := a.authorize(r.Context(), auth.ActPermitCreate, 0)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in permit.Input
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	d, err := a.deps.Workflow.Create(r.Context(), id, in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "permit created", d)
}

func (a *API) getPermit(w http.ResponseWriter, r *http.Request) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), auth.ActPermitRead, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	d, err := a.deps.Workflow.Get(r.Context(), permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", d)
}

func (a *API) updatePermit(w http.ResponseWriter, r *http.Request) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	id, err := a.authorizePermit(r.Context(), auth.ActPermitUpdate, permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in permit.Input
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	d, err := a.deps.Workflow.Update(r.Context(), id, permitID, in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "permit updated", d)
}

func (a *API) deletePermit(w http.ResponseWriter, r *http.Request) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	id, err := a.authorizePermit(r.Context(), auth.ActPermitDelete, permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.deps.Workflow.Delete(r.Context(), id, permitID); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "permit deleted", nil)
}

// transition runs one lifecycle trigger after authorizing act on the permit.
func (a *API) transition(w http.ResponseWriter, r *http.Request, act auth.Action, message string,
	run func(id auth.Identity, permitID int64) (*permit.Details, error)) {
	permitID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	id, err := a.authorizePermit(r.Context(), act, permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	d, err := run(id, permitID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, message, d)
}

func (a *API) submitPermit(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, auth.ActPermitSubmit, "permit submitted for approval", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Submit(r.Context(), id, permitID)
	})
}

func (a *API) approvePermit(w http.ResponseWriter, r *http.Request) {
	var in permit.ApproveInput
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitApprove, "approval recorded", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Approve(r.Context(), id, permitID, in)
	})
}

func (a *API) rejectPermit(w http.ResponseWriter, r *http.Request) {
	var in permit.RejectInput
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitReject, "permit rejected", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Reject(r.Context(), id, permitID, in)
	})
}

func (a *API) requestExtension(w http.ResponseWriter, r *http.Request) {
	var in permit.ExtensionInput
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitExtend, "extension requested", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.RequestExtension(r.Context(), id, permitID, in)
	})
}

func (a *API) approveExtension(w http.ResponseWriter, r *http.Request) {
	var in permit.DecisionInput
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitDecideExtend, "extension approved", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.ApproveExtension(r.Context(), id, permitID, in)
	})
}

func (a *API) rejectExtension(w http.ResponseWriter, r *http.Request) {
	var in permit.DecisionInput
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitDecideExtend, "extension rejected", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.RejectExtension(r.Context(), id, permitID, in)
	})
}

func (a *API) suspendPermit(w http.ResponseWriter, r *http.Request) {
	var in reasonRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitSuspend, "permit suspended", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Suspend(r.Context(), id, permitID, in.Reason)
	})
}

func (a *API) resumePermit(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, auth.ActPermitResume, "permit resumed", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Resume(r.Context(), id, permitID)
	})
}

func (a *API) closePermit(w http.ResponseWriter, r *http.Request) {
	var in permit.CloseInput
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitClose, "permit closed", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Close(r.Context(), id, permitID, in)
	})
}

func (a *API) cancelPermit(w http.ResponseWriter, r *http.Request) {
	var in reasonRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.transition(w, r, auth.ActPermitCancel, "permit cancelled", func(id auth.Identity, permitID int64) (*permit.Details, error) {
		return a.deps.Workflow.Cancel(r.Context(), id, permitID, in.Reason)
	})
}

func (a *API) exportPermits(w http.ResponseWriter, r *http.Request) {
	id, err := a.authorize(r.Context(), auth.ActReportExport, 0)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	f, err := permitFilter(r, id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	list, err := a.deps.Workflow.List(r.Context(), f)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Register(&buf, list); err != nil {
		a.respondError(w, r, apperr.E(apperr.KindInternal, "httpapi.export", err, "failed to build permit register"))
		return
	}
	name := fmt.Sprintf("permit-register-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
