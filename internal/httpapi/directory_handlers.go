package httpapi

import (
	"context"
	"net/http"

	"safeworks.org/ptw/internal/auth"
)

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	res, err := a.deps.Directory.Login(r.Context(), req.LoginID, req.Password)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "login successful", res)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	u, err := a.deps.Directory.User(r.Context(), id.ID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", u)
}

// createResource decodes the body into In and stores it through create.
func createResource[In, Out any](a *API, w http.ResponseWriter, r *http.Request, message string,
	create func(context.Context, In) (Out, error)) {
	if _, err := a.authorize(r.Context(), auth.ActDirectoryWrite, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	var in In
	if err := decodeJSON(r, &in); err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := create(r.Context(), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, message, out)
}

func getResource[Out any](a *API, w http.ResponseWriter, r *http.Request,
	get func(context.Context, int64) (Out, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), auth.ActDirectoryRead, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := get(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", out)
}

func listResource[T any](a *API, w http.ResponseWriter, r *http.Request,
	list func(context.Context) ([]T, error)) {
	if _, err := a.authorize(r.Context(), auth.ActDirectoryRead, 0); err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := list(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if out == nil {
		out = []T{}
	}
	respondOK(w, http.StatusOK, "", out)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	createResource(a, w, r, "user created", a.deps.Directory.CreateUser)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	getResource(a, w, r, a.deps.Directory.User)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	listResource(a, w, r, a.deps.Directory.Users)
}

func (a *API) createSite(w http.ResponseWriter, r *http.Request) {
	createResource(a, w, r, "site created", a.deps.Directory.CreateSite)
}

func (a *API) getSite(w http.ResponseWriter, r *http.Request) {
	getResource(a, w, r, a.deps.Directory.Site)
}

func (a *API) listSites(w http.ResponseWriter, r *http.Request) {
	listResource(a, w, r, a.deps.Directory.Sites)
}

func (a *API) createVendor(w http.ResponseWriter, r *http.Request) {
	createResource(a, w, r, "vendor created", a.deps.Directory.CreateVendor)
}

func (a *API) getVendor(w http.ResponseWriter, r *http.Request) {
	getResource(a, w, r, a.deps.Directory.Vendor)
}

func (a *API) listVendors(w http.ResponseWriter, r *http.Request) {
	listResource(a, w, r, a.deps.Directory.Vendors)
}
