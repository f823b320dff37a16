package memstore

import (
	"context"
	"sort"

	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/permit"
)

type evidenceRepo struct{ s *Store }

type evidenceTx struct {
	st    *state
	hooks Hooks
}

func (r evidenceRepo) InTx(ctx context.Context, fn func(tx evidence.Tx) error) error {
	return r.s.inTx(ctx, func(st *state) error { return fn(evidenceTx{st: st, hooks: r.s.Hooks}) })
}

func (r evidenceRepo) Get(_ context.Context, id int64) (*evidence.Evidence, error) {
	var (
		e  evidence.Evidence
		ok bool
	)
	r.s.read(func(st *state) { e, ok = st.evidence[id] })
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return &e, nil
}

func (r evidenceRepo) ListByPermit(_ context.Context, permitID int64) ([]evidence.Evidence, error) {
	out := []evidence.Evidence{}
	r.s.read(func(st *state) {
		for _, e := range st.evidence {
			if e.PermitID == permitID {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r evidenceRepo) Stats(_ context.Context, permitID int64) (evidence.Stats, error) {
	counts := map[evidence.Category]int{}
	total := 0
	r.s.read(func(st *state) {
		for _, e := range st.evidence {
			if e.PermitID == permitID {
				counts[e.Category]++
				total++
			}
		}
	})
	stats := evidence.Stats{Total: total, ByCategory: make([]evidence.CategoryCount, 0, len(counts))}
	for c, n := range counts {
		stats.ByCategory = append(stats.ByCategory, evidence.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(stats.ByCategory, func(i, j int) bool {
		a, b := stats.ByCategory[i], stats.ByCategory[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})
	return stats, nil
}

func permitRef(p permit.Permit) *evidence.PermitRef {
	return &evidence.PermitRef{ID: p.ID, CreatedBy: p.CreatedBy, Status: string(p.Status), SWMSPath: p.SWMSPath}
}

func (r evidenceRepo) Permit(_ context.Context, permitID int64) (*evidence.PermitRef, error) {
	var (
		p  permit.Permit
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.permits[permitID] })
	if !ok {
		return nil, permit.ErrNotFound
	}
	return permitRef(p), nil
}

func (t evidenceTx) LockPermit(_ context.Context, permitID int64) (*evidence.PermitRef, error) {
	p, ok := t.st.permits[permitID]
	if !ok {
		return nil, permit.ErrNotFound
	}
	return permitRef(p), nil
}

func (t evidenceTx) Insert(_ context.Context, e *evidence.Evidence) error {
	if _, ok := t.st.permits[e.PermitID]; !ok {
		return permit.ErrNotFound
	}
	for _, other := range t.st.evidence {
		if other.FilePath == e.FilePath {
			return evidence.ErrDuplicatePath
		}
	}
	if t.hooks.BeforeEvidenceInsert != nil {
		if err := t.hooks.BeforeEvidenceInsert(e); err != nil {
			return err
		}
	}
	e.ID = t.st.nextID()
	t.st.evidence[e.ID] = *e
	return nil
}

func (t evidenceTx) GetForUpdate(_ context.Context, id int64) (*evidence.Evidence, error) {
	e, ok := t.st.evidence[id]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return &e, nil
}

func (t evidenceTx) UpdateDetails(_ context.Context, id int64, category evidence.Category, description string) error {
	e, ok := t.st.evidence[id]
	if !ok {
		return evidence.ErrNotFound
	}
	e.Category = category
	e.Description = description
	t.st.evidence[id] = e
	return nil
}

func (t evidenceTx) Delete(_ context.Context, id int64) error {
	if _, ok := t.st.evidence[id]; !ok {
		return evidence.ErrNotFound
	}
	delete(t.st.evidence, id)
	return nil
}

func (t evidenceTx) SetSWMSPath(_ context.Context, permitID int64, path string) error {
	p, ok := t.st.permits[permitID]
	if !ok {
		return permit.ErrNotFound
	}
	p.SWMSPath = path
	t.st.permits[permitID] = p
	return nil
}
