package memstore

import (
	"context"
	"sort"
	"strings"

	"safeworks.org/ptw/internal/directory"
)

type directoryRepo struct{ s *Store }

func (r directoryRepo) CreateUser(ctx context.Context, u *directory.User) error {
	return r.s.inTx(ctx, func(st *state) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.LoginID, u.LoginID) {
				return directory.ErrDuplicate
			}
		}
		u.ID = st.nextID()
		st.users[u.ID] = *u
		return nil
	})
}

func (r directoryRepo) UserByID(_ context.Context, id int64) (*directory.User, error) {
	var (
		u  directory.User
		ok bool
	)
	r.s.read(func(st *state) { u, ok = st.users[id] })
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &u, nil
}

func (r directoryRepo) UserByLogin(_ context.Context, loginID string) (*directory.User, error) {
	var found *directory.User
	r.s.read(func(st *state) {
		for _, u := range st.users {
			if strings.EqualFold(u.LoginID, loginID) {
				found = &u
				return
			}
		}
	})
	if found == nil {
		return nil, directory.ErrNotFound
	}
	return found, nil
}

func (r directoryRepo) ListUsers(context.Context) ([]directory.User, error) {
	out := []directory.User{}
	r.s.read(func(st *state) {
		for _, u := range st.users {
			out = append(out, u)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r directoryRepo) CreateSite(ctx context.Context, s *directory.Site) error {
	return r.s.inTx(ctx, func(st *state) error {
		for _, existing := range st.sites {
			if strings.EqualFold(existing.Code, s.Code) {
				return directory.ErrDuplicate
			}
		}
		s.ID = st.nextID()
		st.sites[s.ID] = *s
		return nil
	})
}

func (r directoryRepo) SiteByID(_ context.Context, id int64) (*directory.Site, error) {
	var (
		s  directory.Site
		ok bool
	)
	r.s.read(func(st *state) { s, ok = st.sites[id] })
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &s, nil
}

func (r directoryRepo) ListSites(context.Context) ([]directory.Site, error) {
	out := []directory.Site{}
	r.s.read(func(st *state) {
		for _, s := range st.sites {
			out = append(out, s)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r directoryRepo) CreateVendor(ctx context.Context, v *directory.Vendor) error {
	return r.s.inTx(ctx, func(st *state) error {
		v.ID = st.nextID()
		st.vendors[v.ID] = *v
		return nil
	})
}

func (r directoryRepo) VendorByID(_ context.Context, id int64) (*directory.Vendor, error) {
	var (
		v  directory.Vendor
		ok bool
	)
	r.s.read(func(st *state) { v, ok = st.vendors[id] })
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &v, nil
}

func (r directoryRepo) ListVendors(context.Context) ([]directory.Vendor, error) {
	out := []directory.Vendor{}
	r.s.read(func(st *state) {
		for _, v := range st.vendors {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
