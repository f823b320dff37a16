package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"safeworks.org/ptw/internal/permit"
)

type permitRepo struct{ s *Store }

type permitTx struct{ st *state }

func (r permitRepo) InTx(ctx context.Context, fn func(tx permit.Tx) error) error {
	return r.s.inTx(ctx, func(st *state) error { return fn(permitTx{st}) })
}

func (r permitRepo) Get(_ context.Context, id int64) (*permit.Permit, error) {
	var (
		p  permit.Permit
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.permits[id] })
	if !ok {
		return nil, permit.ErrNotFound
	}
	return &p, nil
}

func (r permitRepo) Details(_ context.Context, id int64) (*permit.Details, error) {
	var d *permit.Details
	r.s.read(func(st *state) {
		p, ok := st.permits[id]
		if !ok {
			return
		}
		d = &permit.Details{
			Permit:     p,
			Team:       append([]permit.TeamMember{}, st.team[id]...),
			Approvals:  []permit.Approval{},
			Extensions: []permit.Extension{},
		}
		for _, a := range st.approvals {
			if a.PermitID == id {
				d.Approvals = append(d.Approvals, a)
			}
		}
		sort.Slice(d.Approvals, func(i, j int) bool { return d.Approvals[i].ID < d.Approvals[j].ID })
		for _, e := range st.extensions {
			if e.PermitID == id {
				d.Extensions = append(d.Extensions, e)
			}
		}
		sort.Slice(d.Extensions, func(i, j int) bool { return d.Extensions[i].ID < d.Extensions[j].ID })
		if c, ok := st.closures[id]; ok {
			d.Closure = &c
		}
	})
	if d == nil {
		return nil, permit.ErrNotFound
	}
	return d, nil
}

func (r permitRepo) List(_ context.Context, f permit.Filter) ([]permit.Permit, error) {
	out := []permit.Permit{}
	r.s.read(func(st *state) {
		for _, p := range st.permits {
			if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
				continue
			}
			if f.SiteID > 0 && p.SiteID != f.SiteID {
				continue
			}
			if f.CreatedBy > 0 && p.CreatedBy != f.CreatedBy {
				continue
			}
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// checkRefs enforces site and vendor references once any are registered.
func (t permitTx) checkRefs(p *permit.Permit) error {
	if len(t.st.sites) > 0 {
		if _, ok := t.st.sites[p.SiteID]; !ok {
			return fmt.Errorf("%w: site %d", permit.ErrUnknownReference, p.SiteID)
		}
	}
	if p.VendorID != nil && len(t.st.vendors) > 0 {
		if _, ok := t.st.vendors[*p.VendorID]; !ok {
			return fmt.Errorf("%w: vendor %d", permit.ErrUnknownReference, *p.VendorID)
		}
	}
	return nil
}

func (t permitTx) setTeam(permitID int64, team []permit.TeamMember) {
	members := make([]permit.TeamMember, 0, len(team))
	for _, m := range team {
		m.ID = t.st.nextID()
		m.PermitID = permitID
		members = append(members, m)
	}
	t.st.team[permitID] = members
}

func (t permitTx) Create(_ context.Context, p *permit.Permit, team []permit.TeamMember) error {
	if err := t.checkRefs(p); err != nil {
		return err
	}
	p.ID = t.st.nextID()
	t.st.permits[p.ID] = *p
	t.setTeam(p.ID, team)
	return nil
}

func (t permitTx) GetForUpdate(_ context.Context, id int64) (*permit.Permit, error) {
	p, ok := t.st.permits[id]
	if !ok {
		return nil, permit.ErrNotFound
	}
	return &p, nil
}

func (t permitTx) UpdateDraft(_ context.Context, p *permit.Permit, team []permit.TeamMember) error {
	cur, ok := t.st.permits[p.ID]
	if !ok {
		return permit.ErrNotFound
	}
	if cur.Status != permit.StatusDraft {
		return permit.ErrConcurrentUpdate
	}
	if err := t.checkRefs(p); err != nil {
		return err
	}
	t.st.permits[p.ID] = *p
	t.setTeam(p.ID, team)
	return nil
}

func (t permitTx) Delete(_ context.Context, id int64) ([]string, error) {
	p, ok := t.st.permits[id]
	if !ok {
		return nil, permit.ErrNotFound
	}
	var files []string
	if p.SWMSPath != "" {
		files = append(files, p.SWMSPath)
	}
	for eid, e := range t.st.evidence {
		if e.PermitID == id {
			files = append(files, e.FilePath)
			delete(t.st.evidence, eid)
		}
	}
	for aid, a := range t.st.approvals {
		if a.PermitID == id {
			delete(t.st.approvals, aid)
		}
	}
	for xid, x := range t.st.extensions {
		if x.PermitID == id {
			delete(t.st.extensions, xid)
		}
	}
	delete(t.st.closures, id)
	delete(t.st.team, id)
	delete(t.st.permits, id)
	sort.Strings(files)
	return files, nil
}

func (t permitTx) CompareAndSetStatus(_ context.Context, id int64, expected, next permit.Status, change permit.StatusChange) error {
	p, ok := t.st.permits[id]
	if !ok || p.Status != expected {
		return permit.ErrConcurrentUpdate
	}
	p.Status = next
	if change.RejectionReason != nil {
		p.RejectionReason = *change.RejectionReason
	}
	if change.EndTime != nil {
		p.EndTime = *change.EndTime
	}
	p.UpdatedAt = time.Now().UTC()
	t.st.permits[id] = p
	return nil
}

func (t permitTx) CreateApprovals(_ context.Context, permitID int64, roles []permit.ApproverRole) error {
	for _, a := range t.st.approvals {
		if a.PermitID == permitID && a.Status == permit.DecisionPending && slices.Contains(roles, a.Role) {
			return fmt.Errorf("%w: pending approval for %s exists", permit.ErrConcurrentUpdate, a.Role)
		}
	}
	now := time.Now().UTC()
	for _, role := range roles {
		id := t.st.nextID()
		t.st.approvals[id] = permit.Approval{
			ID:        id,
			PermitID:  permitID,
			Role:      role,
			Status:    permit.DecisionPending,
			CreatedAt: now,
		}
	}
	return nil
}

func (t permitTx) Approvals(_ context.Context, permitID int64) ([]permit.Approval, error) {
	var out []permit.Approval
	for _, a := range t.st.approvals {
		if a.PermitID == permitID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t permitTx) DecideApproval(_ context.Context, approvalID int64, decision permit.Decision, approverID int64, comments, signature string, at time.Time) error {
	a, ok := t.st.approvals[approvalID]
	if !ok || a.Status != permit.DecisionPending {
		return permit.ErrConcurrentUpdate
	}
	a.Status = decision
	a.ApproverID = &approverID
	a.Comments = comments
	a.Signature = signature
	a.ApprovedAt = &at
	t.st.approvals[approvalID] = a
	return nil
}

func (t permitTx) InsertClosure(_ context.Context, c *permit.Closure) error {
	if _, ok := t.st.closures[c.PermitID]; ok {
		return permit.ErrAlreadyClosed
	}
	c.ID = t.st.nextID()
	t.st.closures[c.PermitID] = *c
	return nil
}

func (t permitTx) InsertExtension(_ context.Context, e *permit.Extension) error {
	for _, x := range t.st.extensions {
		if x.PermitID == e.PermitID && x.Status == permit.DecisionPending {
			return fmt.Errorf("%w: extension %d is pending", permit.ErrConcurrentUpdate, x.ID)
		}
	}
	e.ID = t.st.nextID()
	t.st.extensions[e.ID] = *e
	return nil
}

func (t permitTx) PendingExtension(_ context.Context, permitID int64) (*permit.Extension, error) {
	for _, x := range t.st.extensions {
		if x.PermitID == permitID && x.Status == permit.DecisionPending {
			return &x, nil
		}
	}
	return nil, permit.ErrNotFound
}

func (t permitTx) DecideExtension(_ context.Context, extensionID int64, decision permit.Decision, deciderID int64, comments string, at time.Time) error {
	x, ok := t.st.extensions[extensionID]
	if !ok || x.Status != permit.DecisionPending {
		return permit.ErrConcurrentUpdate
	}
	x.Status = decision
	x.DecidedBy = &deciderID
	x.DecidedAt = &at
	x.Comments = comments
	t.st.extensions[extensionID] = x
	return nil
}
