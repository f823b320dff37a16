package permit

import (
	"context"
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
	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/ids"
	"safeworks.org/ptw/internal/notify"
	"safeworks.org/ptw/internal/obs"
)

// SerialPrefix prefixes human-readable permit serials.
const SerialPrefix = "PTW"

// Workflow advances permits through their lifecycle.
type Workflow struct {
	repo     Repository
	policy   ApprovalPolicy
	events   notify.Emitter
	files    blob.Store
	validate *validator.Validate
	now      func() time.Time
	logger   *logrus.Entry
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithFiles lets Delete remove stored files of deleted permits.
func WithFiles(s blob.Store) Option {
	return func(w *Workflow) { w.files = s }
}

// NewWorkflow wires the orchestrator. A nil emitter discards events.
func NewWorkflow(repo Repository, policy ApprovalPolicy, events notify.Emitter, opts ...Option) *Workflow {
	w := &Workflow{
		repo:     repo,
		policy:   policy,
		events:   events,
		validate: apperr.NewValidator(),
		now:      time.Now,
		logger:   obs.Component("workflow"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Input is the editable content of a permit.
type Input struct {
	SiteID            int64        `json:"site_id" validate:"gt=0"`
	VendorID          *int64       `json:"vendor_id" validate:"omitempty,gt=0"`
	Type              Type         `json:"permit_type" validate:"required"`
	Location          string       `json:"location"`
	Description       string       `json:"description"`
	StartTime         time.Time    `json:"start_time" validate:"required"`
	EndTime           time.Time    `json:"end_time" validate:"required,gtfield=StartTime"`
	ReceiverName      string       `json:"receiver_name"`
	ReceiverSignature string       `json:"receiver_signature"`
	Team              []TeamMember `json:"team" validate:"dive"`
}

// ApproveInput signs one approval. Role may be empty when the caller maps to a single role.
type ApproveInput struct {
	Role      ApproverRole `json:"role"`
	Comments  string       `json:"comments"`
	Signature string       `json:"signature"`
}

// RejectInput rejects a pending permit.
type RejectInput struct {
	Role      ApproverRole `json:"role"`
	Reason    string       `json:"reason"`
	Signature string       `json:"signature"`
}

// ExtensionInput requests a later end time.
type ExtensionInput struct {
	NewEndTime time.Time `json:"new_end_time" validate:"required"`
	Reason     string    `json:"reason" validate:"required"`
}

// CloseInput is the closure checklist.
type CloseInput struct {
	Checklist
	Remarks string `json:"remarks"`
}

func (w *Workflow) check(op string, in Input) error {
	if err := w.validate.Struct(in); err != nil {
		return apperr.FromValidation(op, err)
	}
	if !in.Type.Valid() {
		return apperr.Validation(op, nil, "unknown permit type %q", in.Type)
	}
	return nil
}

func (w *Workflow) apply(p *Permit, in Input) {
	p.SiteID = in.SiteID
	p.VendorID = in.VendorID
	p.Type = in.Type
	p.Location = strings.TrimSpace(in.Location)
	p.Description = strings.TrimSpace(in.Description)
	p.StartTime = in.StartTime.UTC()
	p.EndTime = in.EndTime.UTC()
	p.ReceiverName = strings.TrimSpace(in.ReceiverName)
	p.ReceiverSignature = in.ReceiverSignature
}

// Create stores a new Draft permit owned by the actor.
func (w *Workflow) Create(ctx context.Context, actor auth.Identity, in Input) (*Details, error) {
	const op = "permit.create"
	if err := w.check(op, in); err != nil {
		return nil, err
	}
	now := w.now().UTC()
	p := &Permit{
		Serial:    ids.Serial(SerialPrefix, now),
		CreatedBy: actor.ID,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.apply(p, in)

	err := w.repo.InTx(ctx, func(tx Tx) error {
		return tx.Create(ctx, p, in.Team)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	_ = audit.LogEvent(ctx, "permit.created", map[string]any{"permit_id": p.ID, "serial": p.Serial})
	return w.repo.Details(ctx, p.ID)
}

// Update rewrites a Draft permit.
func (w *Workflow) Update(ctx context.Context, actor auth.Identity, id int64, in Input) (*Details, error) {
	const op = "permit.update"
	if err := w.check(op, in); err != nil {
		return nil, err
	}
	err := w.repo.InTx(ctx, func(tx Tx) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return ErrNotEditable
		}
		w.apply(p, in)
		p.UpdatedAt = w.now().UTC()
		return tx.UpdateDraft(ctx, p, in.Team)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	_ = audit.LogEvent(ctx, "permit.updated", map[string]any{"permit_id": id, "actor_id": actor.ID})
	return w.repo.Details(ctx, id)
}

// Delete removes a Draft or Cancelled permit with its children. Stored
// files are removed best-effort after commit.
func (w *Workflow) Delete(ctx context.Context, actor auth.Identity, id int64) error {
	const op = "permit.delete"
	var files []string
	err := w.repo.InTx(ctx, func(tx Tx) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft && p.Status != StatusCancelled {
			return ErrNotEditable
		}
		files, err = tx.Delete(ctx, id)
		return err
	})
	if err != nil {
		return classify(op, err)
	}
	if w.files != nil {
		for _, u := range files {
			ref, err := blob.ParseURL(u)
			if err == nil {
				err = w.files.Delete(ctx, ref)
			}
			if err != nil {
				w.logger.WithError(err).WithField("file", u).Warn("stored file not removed")
			}
		}
	}
	_ = audit.LogEvent(ctx, "permit.deleted", map[string]any{"permit_id": id, "actor_id": actor.ID})
	return nil
}

// Get returns a permit with approvals, team, extensions and closure.
func (w *Workflow) Get(ctx context.Context, id int64) (*Details, error) {
	d, err := w.repo.Details(ctx, id)
	if err != nil {
		return nil, classify("permit.get", err)
	}
	return d, nil
}

// List returns permits matching f.
func (w *Workflow) List(ctx context.Context, f Filter) ([]Permit, error) {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, apperr.Validation("permit.list", nil, "unknown status %q", s)
		}
	}
	out, err := w.repo.List(ctx, f)
	if err != nil {
		return nil, classify("permit.list", err)
	}
	return out, nil
}

// step is what a trigger handler decides inside the transaction.
type step struct {
	next   Status
	change StatusChange
	events []notify.Event
	audit  map[string]any
}

type stepFunc func(ctx context.Context, tx Tx, p *Permit) (step, error)

// fire runs one trigger: lock, check the table, run the handler, CAS the status.
// Events are emitted only after commit.
func (w *Workflow) fire(ctx context.Context, actor auth.Identity, id int64, trigger Trigger, fn stepFunc) (*Details, error) {
	op := "permit." + string(trigger)
	ctx, span := obs.StartSpan(ctx, op,
		attribute.Int64("permit.id", id),
		attribute.String("permit.trigger", string(trigger)),
	)
	defer span.End()

	var (
		from Status
		res  step
	)
	err := w.repo.InTx(ctx, func(tx Tx) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = p.Status
		if _, err := Next(p.Status, trigger); err != nil {
			return err
		}
		res, err = fn(ctx, tx, p)
		if err != nil {
			return err
		}
		if res.next != p.Status || res.change != (StatusChange{}) {
			if err := tx.CompareAndSetStatus(ctx, id, p.Status, res.next, res.change); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		obs.Transitions.WithLabelValues(string(trigger), "rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(op, err)
	}
	obs.Transitions.WithLabelValues(string(trigger), "ok").Inc()
	span.SetAttributes(attribute.String("permit.status", string(res.next)))

	fields := map[string]any{"permit_id": id, "from": from, "to": res.next}
	for k, v := range res.audit {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, op, fields)

	if w.events != nil {
		for _, ev := range res.events {
			w.events.Emit(ev)
		}
	}
	return w.repo.Details(ctx, id)
}

func (w *Workflow) event(kind notify.Kind, p *Permit, status Status, actor auth.Identity, recipients ...string) notify.Event {
	ev := notify.NewEvent(kind, p.ID, p.Serial, string(status), actor.ID)
	ev.Recipients = recipients
	return ev
}

func creator(p *Permit) string { return fmt.Sprintf("user:%d", p.CreatedBy) }

// MissingForSubmit lists the fields a permit lacks before it can be submitted.
func MissingForSubmit(p *Permit) []string {
	var missing []string
	if p.SiteID <= 0 {
		missing = append(missing, "site_id")
	}
	if !p.Type.Valid() {
		missing = append(missing, "permit_type")
	}
	if strings.TrimSpace(p.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() || !p.EndTime.After(p.StartTime) {
		missing = append(missing, "start_time/end_time")
	}
	if strings.TrimSpace(p.ReceiverName) == "" {
		missing = append(missing, "receiver_name")
	}
	return missing
}

// Submit sends a Draft permit for approval, creating one Pending approval per required role.
func (w *Workflow) Submit(ctx context.Context, actor auth.Identity, id int64) (*Details, error) {
	return w.fire(ctx, actor, id, TriggerSubmit, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		if missing := MissingForSubmit(p); len(missing) > 0 {
			return step{}, apperr.Validation("permit.submit", nil, "permit is incomplete: %s", strings.Join(missing, ", ")).
				WithDetail("fields", missing)
		}
		roles, err := w.policy.RequiredRoles(ctx, p)
		if err != nil {
			return step{}, apperr.E(apperr.KindInternal, "permit.submit", err, "approval policy evaluation failed")
		}
		roles = SortRoles(roles)
		if len(roles) == 0 {
			return step{}, apperr.E(apperr.KindInternal, "permit.submit", nil, "approval policy returned no roles")
		}
		if err := tx.CreateApprovals(ctx, p.ID, roles); err != nil {
			return step{}, err
		}
		recipients := make([]string, len(roles))
		for i, r := range roles {
			recipients[i] = "role:" + string(r)
		}
		return step{
			next:   StatusPendingApproval,
			events: []notify.Event{w.event(notify.ApprovalRequested, p, StatusPendingApproval, actor, recipients...)},
			audit:  map[string]any{"required_roles": roles},
		}, nil
	})
}

func (w *Workflow) signingRole(actor auth.Identity, requested ApproverRole) (ApproverRole, error) {
	if requested != "" {
		if !requested.Valid() {
			return "", apperr.Validation("permit.approve", nil, "unknown approval role %q", requested)
		}
		if !CanSign(actor.Role, requested) {
			return "", ErrRoleNotPermitted
		}
		return requested, nil
	}
	roles := ApprovalRolesFor(actor.Role)
	switch len(roles) {
	case 0:
		return "", ErrRoleNotPermitted
	case 1:
		return roles[0], nil
	default:
		return "", apperr.Validation("permit.approve", nil, "role is required")
	}
}

func pendingFor(approvals []Approval, role ApproverRole) (Approval, bool) {
	for _, a := range approvals {
		if a.Role == role && a.Status == DecisionPending {
			return a, true
		}
	}
	return Approval{}, false
}

// Approve signs the pending approval for a role. The permit becomes Active
// when every approval is Approved; otherwise it stays Pending_Approval.
func (w *Workflow) Approve(ctx context.Context, actor auth.Identity, id int64, in ApproveInput) (*Details, error) {
	return w.fire(ctx, actor, id, TriggerApprove, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		role, err := w.signingRole(actor, in.Role)
		if err != nil {
			return step{}, err
		}
		approvals, err := tx.Approvals(ctx, p.ID)
		if err != nil {
			return step{}, err
		}
		target, ok := pendingFor(approvals, role)
		if !ok {
			return step{}, fmt.Errorf("%w: %s", ErrNoPendingApproval, role)
		}
		if err := tx.DecideApproval(ctx, target.ID, DecisionApproved, actor.ID, in.Comments, in.Signature, w.now().UTC()); err != nil {
			return step{}, err
		}

		complete := true
		for _, a := range approvals {
			if a.ID != target.ID && a.Status != DecisionApproved {
				complete = false
				break
			}
		}
		res := step{
			next:   StatusPendingApproval,
			events: []notify.Event{w.event(notify.PermitApproved, p, StatusPendingApproval, actor, creator(p))},
			audit:  map[string]any{"role": role},
		}
		if complete {
			res.next = StatusActive
			res.events[0].Status = string(StatusActive)
			res.events = append(res.events, w.event(notify.PermitActivated, p, StatusActive, actor, creator(p)))
		}
		return res, nil
	})
}

// Reject rejects the permit on behalf of a role. A reason is required.
func (w *Workflow) Reject(ctx context.Context, actor auth.Identity, id int64, in RejectInput) (*Details, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("permit.reject", nil, "rejection reason is required")
	}
	return w.fire(ctx, actor, id, TriggerReject, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		role, err := w.signingRole(actor, in.Role)
		if err != nil {
			return step{}, err
		}
		approvals, err := tx.Approvals(ctx, p.ID)
		if err != nil {
			return step{}, err
		}
		target, ok := pendingFor(approvals, role)
		if !ok {
			return step{}, fmt.Errorf("%w: %s", ErrNoPendingApproval, role)
		}
		if err := tx.DecideApproval(ctx, target.ID, DecisionRejected, actor.ID, reason, in.Signature, w.now().UTC()); err != nil {
			return step{}, err
		}
		ev := w.event(notify.PermitRejected, p, StatusRejected, actor, creator(p))
		ev.Data = map[string]any{"reason": reason, "role": role}
		return step{
			next:   StatusRejected,
			change: StatusChange{RejectionReason: &reason},
			events: []notify.Event{ev},
			audit:  map[string]any{"role": role, "reason": reason},
		}, nil
	})
}

// RequestExtension asks to move the end time of an Active permit later.
func (w *Workflow) RequestExtension(ctx context.Context, actor auth.Identity, id int64, in ExtensionInput) (*Details, error) {
	if err := w.validate.Struct(in); err != nil {
		return nil, apperr.FromValidation("permit.request_extension", err)
	}
	return w.fire(ctx, actor, id, TriggerRequestExtension, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		if !in.NewEndTime.After(p.EndTime) {
			return step{}, apperr.Validation("permit.request_extension", nil, "new end time must be after %s", p.EndTime.Format(time.RFC3339))
		}
		ext := &Extension{
			PermitID:    p.ID,
			RequestedBy: actor.ID,
			NewEndTime:  in.NewEndTime.UTC(),
			Reason:      strings.TrimSpace(in.Reason),
			Status:      DecisionPending,
			CreatedAt:   w.now().UTC(),
		}
		if err := tx.InsertExtension(ctx, ext); err != nil {
			return step{}, err
		}
		ev := w.event(notify.ExtensionRequested, p, StatusExtensionRequested, actor, "role:"+string(RoleAreaManager), "role:"+string(RoleSafetyOfficer))
		ev.Data = map[string]any{"new_end_time": ext.NewEndTime, "reason": ext.Reason}
		return step{
			next:   StatusExtensionRequested,
			events: []notify.Event{ev},
			audit:  map[string]any{"extension_id": ext.ID, "new_end_time": ext.NewEndTime},
		}, nil
	})
}

// DecisionInput carries approver comments on an extension decision.
type DecisionInput struct {
	Comments string `json:"comments"`
}

// ApproveExtension applies the pending extension's end time.
func (w *Workflow) ApproveExtension(ctx context.Context, actor auth.Identity, id int64, in DecisionInput) (*Details, error) {
	return w.decideExtension(ctx, actor, id, TriggerApproveExtension, DecisionApproved, in)
}

// RejectExtension keeps the current end time.
func (w *Workflow) RejectExtension(ctx context.Context, actor auth.Identity, id int64, in DecisionInput) (*Details, error) {
	return w.decideExtension(ctx, actor, id, TriggerRejectExtension, DecisionRejected, in)
}

func (w *Workflow) decideExtension(ctx context.Context, actor auth.Identity, id int64, trigger Trigger, decision Decision, in DecisionInput) (*Details, error) {
	return w.fire(ctx, actor, id, trigger, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		ext, err := tx.PendingExtension(ctx, p.ID)
		if errors.Is(err, ErrNotFound) {
			return step{}, ErrNoPendingExtension
		}
		if err != nil {
			return step{}, err
		}
		if err := tx.DecideExtension(ctx, ext.ID, decision, actor.ID, in.Comments, w.now().UTC()); err != nil {
			return step{}, err
		}
		res := step{
			next:  StatusActive,
			audit: map[string]any{"extension_id": ext.ID, "decision": decision},
		}
		kind := notify.ExtensionRejected
		if decision == DecisionApproved {
			end := ext.NewEndTime
			res.change.EndTime = &end
			kind = notify.ExtensionApproved
		}
		ev := w.event(kind, p, StatusActive, actor, creator(p))
		ev.Data = map[string]any{"extension_id": ext.ID, "new_end_time": ext.NewEndTime}
		res.events = []notify.Event{ev}
		return res, nil
	})
}

// Suspend halts work on an Active permit.
func (w *Workflow) Suspend(ctx context.Context, actor auth.Identity, id int64, reason string) (*Details, error) {
	return w.simple(ctx, actor, id, TriggerSuspend, StatusSuspended, notify.PermitSuspended, reason)
}

// Resume reactivates a Suspended permit.
func (w *Workflow) Resume(ctx context.Context, actor auth.Identity, id int64) (*Details, error) {
	return w.simple(ctx, actor, id, TriggerResume, StatusActive, notify.PermitResumed, "")
}

// Cancel abandons a permit that has not finished.
func (w *Workflow) Cancel(ctx context.Context, actor auth.Identity, id int64, reason string) (*Details, error) {
	return w.simple(ctx, actor, id, TriggerCancel, StatusCancelled, notify.PermitCancelled, reason)
}

func (w *Workflow) simple(ctx context.Context, actor auth.Identity, id int64, trigger Trigger, to Status, kind notify.Kind, reason string) (*Details, error) {
	reason = strings.TrimSpace(reason)
	return w.fire(ctx, actor, id, trigger, func(_ context.Context, _ Tx, p *Permit) (step, error) {
		ev := w.event(kind, p, to, actor, creator(p))
		res := step{next: to, events: []notify.Event{ev}}
		if reason != "" {
			res.events[0].Data = map[string]any{"reason": reason}
			res.audit = map[string]any{"reason": reason}
		}
		return res, nil
	})
}

// Close records the closure checklist and finishes the permit.
func (w *Workflow) Close(ctx context.Context, actor auth.Identity, id int64, in CloseInput) (*Details, error) {
	return w.fire(ctx, actor, id, TriggerClose, func(ctx context.Context, tx Tx, p *Permit) (step, error) {
		c := &Closure{
			PermitID:  p.ID,
			ClosedBy:  actor.ID,
			ClosedAt:  w.now().UTC(),
			Checklist: in.Checklist,
			Remarks:   strings.TrimSpace(in.Remarks),
		}
		if err := tx.InsertClosure(ctx, c); err != nil {
			return step{}, err
		}
		return step{
			next:   StatusClosed,
			events: []notify.Event{w.event(notify.PermitClosed, p, StatusClosed, actor, creator(p))},
			audit:  map[string]any{"closure_id": c.ID},
		}, nil
	})
}

// classify maps domain and store errors onto the application taxonomy.
func classify(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if te, ok := AsTransitionError(err); ok {
		return apperr.Conflict(op, err, "%s", te.Error()).
			WithDetail("current_status", te.From).
			WithDetail("trigger", te.Trigger)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, err, "permit not found")
	case errors.Is(err, ErrUnknownReference):
		return apperr.NotFound(op, err, "%s", ErrUnknownReference.Error())
	case errors.Is(err, ErrRoleNotPermitted):
		return apperr.E(apperr.KindForbidden, op, err, "%s", ErrRoleNotPermitted.Error())
	case errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrNotEditable),
		errors.Is(err, ErrNoPendingApproval),
		errors.Is(err, ErrNoPendingExtension),
		errors.Is(err, ErrAlreadyClosed):
		return apperr.Conflict(op, err, "%s", err.Error())
	}
	return apperr.Persistence(op, err, "permit storage failed")
}
