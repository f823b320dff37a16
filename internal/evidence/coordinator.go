package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/audit"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/obs"
	"safeworks.org/ptw/internal/permit"
)

// Coordinator validates upload batches, stores the files and records them
// transactionally.
type Coordinator struct {
	repo     Repository
	store    blob.Store
	validate *validator.Validate
	now      func() time.Time
	logger   *logrus.Entry
}

// NewCoordinator wires the coordinator to its repository and file store.
func NewCoordinator(repo Repository, store blob.Store) *Coordinator {
	return &Coordinator{
		repo:     repo,
		store:    store,
		validate: apperr.NewValidator(),
		now:      time.Now,
		logger:   obs.Component("evidence"),
	}
}

// BatchRequest is one multipart evidence upload.
type BatchRequest struct {
	PermitID    int64
	Phase       Phase
	Files       []File
	RawMetadata string
	UploadedBy  int64
}

type prepared struct {
	file     File
	mime     string
	meta     Metadata
	category Category
	at       time.Time
}

// UploadBatch stores every file and inserts one evidence row per file in
// one transaction. Files written before a failure are left in storage and
// logged as orphans; no row references them.
func (c *Coordinator) UploadBatch(ctx context.Context, req BatchRequest) ([]Evidence, error) {
	const op = "evidence.upload"
	ctx, span := obs.StartSpan(ctx, op,
		attribute.Int64("permit.id", req.PermitID),
		attribute.Int("evidence.files", len(req.Files)),
	)
	defer span.End()

	out, err := c.uploadBatch(ctx, req)
	if err != nil {
		obs.UploadFailures.WithLabelValues(apperr.KindOf(err).String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	obs.EvidenceUploaded.WithLabelValues(string(req.Phase)).Add(float64(len(out)))
	_ = audit.LogEvent(ctx, "evidence.uploaded", map[string]any{
		"permit_id": req.PermitID,
		"phase":     req.Phase,
		"count":     len(out),
	})
	return out, nil
}

func (c *Coordinator) uploadBatch(ctx context.Context, req BatchRequest) ([]Evidence, error) {
	const op = "evidence.upload"
	if req.Phase == "" {
		req.Phase = PhaseWorking
	}
	if !req.Phase.Valid() {
		return nil, apperr.Validation(op, nil, "unknown evidence phase %q", req.Phase)
	}

	// (a) files present and non-empty.
	if len(req.Files) == 0 {
		return nil, apperr.Validation(op, ErrNoFiles, "no files uploaded")
	}
	for _, f := range req.Files {
		if len(f.Data) == 0 {
			return nil, apperr.Validation(op, ErrNoFiles, "%s is empty", f.Name)
		}
	}

	var (
		out     []Evidence
		written []blob.Ref
	)
	err := c.repo.InTx(ctx, func(tx Tx) error {
		// (b) permit exists.
		if _, err := tx.LockPermit(ctx, req.PermitID); err != nil {
			return err
		}
		// Size and media checks run before anything is stored.
		mimes := make([]string, len(req.Files))
		for i, f := range req.Files {
			m, err := KindEvidence.Check(f)
			if err != nil {
				return apperr.Validation(op, err, "%s", err.Error())
			}
			mimes[i] = m
		}
		// (c)-(e) metadata.
		items, err := c.prepare(op, req, mimes)
		if err != nil {
			return err
		}

		out = make([]Evidence, 0, len(items))
		for _, it := range items {
			now := c.now().UTC()
			ref := blob.Ref{Kind: KindEvidence.Blob, Name: StoredName(it.file.Name, now)}
			if err := c.store.Put(ctx, ref, it.file.Data, it.mime); err != nil {
				return apperr.Storage(op, err, "failed to store %s", it.file.Name)
			}
			written = append(written, ref)

			e := Evidence{
				PermitID:    req.PermitID,
				FilePath:    ref.URL(),
				Phase:       req.Phase,
				Category:    it.category,
				Description: strings.TrimSpace(it.meta.Description),
				Timestamp:   it.at,
				Latitude:    it.meta.Latitude,
				Longitude:   it.meta.Longitude,
				CreatedAt:   now,
			}
			if req.UploadedBy > 0 {
				by := req.UploadedBy
				e.UploadedBy = &by
			}
			if err := tx.Insert(ctx, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		if len(written) > 0 {
			keys := make([]string, len(written))
			for i, r := range written {
				keys[i] = r.Key()
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				"permit_id": req.PermitID,
				"orphans":   keys,
			}).Warn("upload rolled back, stored files orphaned")
		}
		return nil, classify(op, err)
	}
	return out, nil
}

func (c *Coordinator) prepare(op string, req BatchRequest, mimes []string) ([]prepared, error) {
	var metas []Metadata
	if err := json.Unmarshal([]byte(req.RawMetadata), &metas); err != nil {
		return nil, apperr.Validation(op, fmt.Errorf("%w: %v", ErrInvalidMetadata, err), "evidences_data must be a JSON array of metadata objects")
	}
	if len(metas) != len(req.Files) {
		return nil, apperr.Validation(op, ErrBatchSizeMismatch,
			"number of files (%d) does not match number of metadata entries (%d)", len(req.Files), len(metas)).
			WithDetail("files", len(req.Files)).
			WithDetail("metadata", len(metas))
	}

	items := make([]prepared, len(metas))
	for i, m := range metas {
		if err := c.validate.Struct(m); err != nil {
			ve := apperr.FromValidation(op, fmt.Errorf("%w: %w", ErrMissingField, err))
			ve.Message = fmt.Sprintf("evidence %d: %s", i+1, ve.Message)
			return nil, ve.WithDetail("index", i)
		}
		cat := Category(strings.TrimSpace(m.Category))
		if !req.Phase.Allows(cat) {
			return nil, apperr.Validation(op, ErrInvalidMetadata, "evidence %d: category %q is not valid for %s evidence", i+1, cat, req.Phase).
				WithDetail("index", i).
				WithDetail("allowed", req.Phase.Categories())
		}
		at, err := NormalizeTimestamp(m.Timestamp)
		if err != nil {
			return nil, apperr.Validation(op, fmt.Errorf("%w: %w", ErrInvalidMetadata, err), "evidence %d: %s", i+1, err.Error()).
				WithDetail("index", i)
		}
		items[i] = prepared{file: req.Files[i], mime: mimes[i], meta: m, category: cat, at: at}
	}
	return items, nil
}

// ListByPermit returns the permit's evidence, newest capture first.
func (c *Coordinator) ListByPermit(ctx context.Context, permitID int64) ([]Evidence, error) {
	const op = "evidence.list"
	if _, err := c.repo.Permit(ctx, permitID); err != nil {
		return nil, classify(op, err)
	}
	out, err := c.repo.ListByPermit(ctx, permitID)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// Stats counts the permit's evidence by category.
func (c *Coordinator) Stats(ctx context.Context, permitID int64) (Stats, error) {
	const op = "evidence.stats"
	if _, err := c.repo.Permit(ctx, permitID); err != nil {
		return Stats{}, classify(op, err)
	}
	s, err := c.repo.Stats(ctx, permitID)
	if err != nil {
		return Stats{}, classify(op, err)
	}
	if s.ByCategory == nil {
		s.ByCategory = []CategoryCount{}
	}
	return s, nil
}

// Get returns one evidence record.
func (c *Coordinator) Get(ctx context.Context, id int64) (*Evidence, error) {
	e, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, classify("evidence.get", err)
	}
	return e, nil
}

// Owner returns the permit an evidence record belongs to.
func (c *Coordinator) Owner(ctx context.Context, permitID int64) (*PermitRef, error) {
	p, err := c.repo.Permit(ctx, permitID)
	if err != nil {
		return nil, classify("evidence.owner", err)
	}
	return p, nil
}

// UpdateDetails edits the category and description of committed evidence.
func (c *Coordinator) UpdateDetails(ctx context.Context, id int64, category Category, description string) (*Evidence, error) {
	const op = "evidence.update"
	category = Category(strings.TrimSpace(string(category)))
	if category == "" {
		return nil, apperr.Validation(op, ErrMissingField, "category is required")
	}
	var updated *Evidence
	err := c.repo.InTx(ctx, func(tx Tx) error {
		e, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !e.Phase.Allows(category) {
			return apperr.Validation(op, ErrInvalidMetadata, "category %q is not valid for %s evidence", category, e.Phase)
		}
		description = strings.TrimSpace(description)
		if err := tx.UpdateDetails(ctx, id, category, description); err != nil {
			return err
		}
		e.Category = category
		e.Description = description
		updated = e
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	_ = audit.LogEvent(ctx, "evidence.updated", map[string]any{"evidence_id": id, "category": category})
	return updated, nil
}

// Delete removes the evidence row. A stored file that cannot be removed is
// logged and does not block deletion; only a failed row lookup aborts.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	const op = "evidence.delete"
	err := c.repo.InTx(ctx, func(tx Tx) error {
		e, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		c.removeFile(ctx, e.FilePath)
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return classify(op, err)
	}
	_ = audit.LogEvent(ctx, "evidence.deleted", map[string]any{"evidence_id": id})
	return nil
}

func (c *Coordinator) removeFile(ctx context.Context, url string) {
	ref, err := blob.ParseURL(url)
	if err == nil {
		err = c.store.Delete(ctx, ref)
	}
	if err == nil {
		return
	}
	entry := c.logger.WithError(err).WithField("file", url)
	if errors.Is(err, blob.ErrNotFound) {
		entry.Info("stored file already absent")
		return
	}
	entry.Warn("stored file not removed")
}

// UploadSWMS stores the permit's safe work method statement, replacing any previous one.
func (c *Coordinator) UploadSWMS(ctx context.Context, permitID int64, f File) (string, error) {
	const op = "evidence.upload_swms"
	mime, err := KindSWMS.Check(f)
	if err != nil {
		obs.UploadFailures.WithLabelValues(apperr.KindValidation.String()).Inc()
		return "", apperr.Validation(op, err, "%s", err.Error())
	}
	var (
		url      string
		previous string
		ref      blob.Ref
		stored   bool
	)
	err = c.repo.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockPermit(ctx, permitID)
		if err != nil {
			return err
		}
		previous = p.SWMSPath
		ref = blob.Ref{Kind: KindSWMS.Blob, Name: StoredName(f.Name, c.now())}
		if err := c.store.Put(ctx, ref, f.Data, mime); err != nil {
			return apperr.Storage(op, err, "failed to store %s", f.Name)
		}
		stored = true
		url = ref.URL()
		return tx.SetSWMSPath(ctx, permitID, url)
	})
	if err != nil {
		if stored {
			c.logger.WithError(err).WithField("orphans", []string{ref.Key()}).Warn("swms upload rolled back, stored file orphaned")
		}
		obs.UploadFailures.WithLabelValues(apperr.KindOf(classify(op, err)).String()).Inc()
		return "", classify(op, err)
	}
	if previous != "" && previous != url {
		c.removeFile(ctx, previous)
	}
	_ = audit.LogEvent(ctx, "permit.swms_uploaded", map[string]any{"permit_id": permitID, "file": url})
	return url, nil
}

// UploadSignature stores a signature image and returns its URL.
func (c *Coordinator) UploadSignature(ctx context.Context, f File) (string, error) {
	const op = "evidence.upload_signature"
	mime, err := KindSignature.Check(f)
	if err != nil {
		obs.UploadFailures.WithLabelValues(apperr.KindValidation.String()).Inc()
		return "", apperr.Validation(op, err, "%s", err.Error())
	}
	ref := blob.Ref{Kind: KindSignature.Blob, Name: StoredName(f.Name, c.now())}
	if err := c.store.Put(ctx, ref, f.Data, mime); err != nil {
		obs.UploadFailures.WithLabelValues(apperr.KindStorage.String()).Inc()
		return "", apperr.Storage(op, err, "failed to store signature")
	}
	return ref.URL(), nil
}

// Open reads a stored file and sniffs its media type.
func (c *Coordinator) Open(ctx context.Context, ref blob.Ref) ([]byte, string, error) {
	const op = "evidence.open"
	if err := ref.Validate(); err != nil {
		return nil, "", apperr.NotFound(op, err, "file not found")
	}
	data, err := c.store.Get(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", apperr.NotFound(op, err, "file not found")
	}
	if err != nil {
		return nil, "", apperr.Storage(op, err, "failed to read file")
	}
	return data, Sniff(data), nil
}

func classify(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, permit.ErrNotFound):
		return apperr.NotFound(op, err, "permit not found")
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, err, "evidence not found")
	case errors.Is(err, ErrDuplicatePath):
		return apperr.Conflict(op, err, "stored file is already linked to evidence")
	}
	return apperr.Persistence(op, err, "evidence storage failed")
}
