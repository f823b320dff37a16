package permit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/notify"
	"safeworks.org/ptw/internal/permit"
	"safeworks.org/ptw/internal/policy"
	"safeworks.org/ptw/internal/store/memstore"
)

var (
	requester   = auth.Identity{ID: 10, Role: auth.RoleRequester, Name: "Rae"}
	areaManager = auth.Identity{ID: 20, Role: auth.RoleApproverAreaManager}
	safety      = auth.Identity{ID: 30, Role: auth.RoleApproverSafety}
	supervisor  = auth.Identity{ID: 40, Role: auth.RoleSupervisor}
	worker      = auth.Identity{ID: 50, Role: auth.RoleWorker}
	admin       = auth.Identity{ID: 1, Role: auth.RoleAdmin}
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(ev notify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	store  *memstore.Store
	files  *blob.MemStore
	events *recorder
	wf     *permit.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), files: blob.NewMemStore(), events: &recorder{}}
	f.wf = permit.NewWorkflow(f.store.Permits(), policy.Default(), f.events, permit.WithFiles(f.files))
	return f
}

func validInput() permit.Input {
	start := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)
	return permit.Input{
		SiteID:       1,
		Type:         permit.TypeHotWork,
		Location:     "Boiler house",
		Description:  "Weld flange on line 4",
		StartTime:    start,
		EndTime:      start.Add(10 * time.Hour),
		ReceiverName: "Sam Receiver",
		Team:         []permit.TeamMember{{Name: "Ana", Role: "welder", Qualified: true}},
	}
}

func (f *fixture) create(t *testing.T) *permit.Details {
	t.Helper()
	d, err := f.wf.Create(context.Background(), requester, validInput())
	require.NoError(t, err)
	return d
}

func (f *fixture) active(t *testing.T) *permit.Details {
	t.Helper()
	ctx := context.Background()
	d := f.create(t)
	_, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)
	_, err = f.wf.Approve(ctx, areaManager, d.ID, permit.ApproveInput{})
	require.NoError(t, err)
	d, err = f.wf.Approve(ctx, safety, d.ID, permit.ApproveInput{})
	require.NoError(t, err)
	require.Equal(t, permit.StatusActive, d.Status)
	return d
}

func TestCreateDraft(t *testing.T) {
	f := newFixture(t)
	d := f.create(t)
	assert.Equal(t, permit.StatusDraft, d.Status)
	assert.Equal(t, requester.ID, d.CreatedBy)
	assert.Regexp(t, `^PTW-\d{8}-[0-9A-Z]{6}$`, d.Serial)
	require.Len(t, d.Team, 1)
	assert.Equal(t, "Ana", d.Team[0].Name)
}

func TestCreateRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.EndTime = in.StartTime
	_, err := f.wf.Create(context.Background(), requester, in)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err, ""), "end_time")

	in = validInput()
	in.Type = "Underwater"
	_, err = f.wf.Create(context.Background(), requester, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestApproveFromDraftIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	d := f.create(t)

	_, err := f.wf.Approve(context.Background(), areaManager, d.ID, permit.ApproveInput{})
	require.ErrorIs(t, err, permit.ErrInvalidTransition)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	details := apperr.DetailsOf(err)
	assert.Equal(t, permit.StatusDraft, details["current_status"])
	assert.Equal(t, permit.TriggerApprove, details["trigger"])

	got, err := f.wf.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, permit.StatusDraft, got.Status)
}

func TestApprovalsActivateWhenComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	d, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)
	assert.Equal(t, permit.StatusPendingApproval, d.Status)
	require.Len(t, d.Approvals, 2)
	assert.Equal(t, permit.RoleAreaManager, d.Approvals[0].Role)
	assert.Equal(t, permit.RoleSafetyOfficer, d.Approvals[1].Role)

	d, err = f.wf.Approve(ctx, areaManager, d.ID, permit.ApproveInput{Comments: "ok"})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusPendingApproval, d.Status)

	d, err = f.wf.Approve(ctx, safety, d.ID, permit.ApproveInput{Signature: "/uploads/signatures/s.png"})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusActive, d.Status)
	for _, a := range d.Approvals {
		assert.Equal(t, permit.DecisionApproved, a.Status)
		require.NotNil(t, a.ApproverID)
	}

	assert.Equal(t, []notify.Kind{
		notify.ApprovalRequested, notify.PermitApproved, notify.PermitApproved, notify.PermitActivated,
	}, f.events.kinds())
}

func TestApproveTwiceForSameRoleConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)
	_, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)
	_, err = f.wf.Approve(ctx, areaManager, d.ID, permit.ApproveInput{})
	require.NoError(t, err)

	_, err = f.wf.Approve(ctx, areaManager, d.ID, permit.ApproveInput{})
	require.ErrorIs(t, err, permit.ErrNoPendingApproval)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestApproveRoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)
	_, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)

	_, err = f.wf.Approve(ctx, worker, d.ID, permit.ApproveInput{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.wf.Approve(ctx, areaManager, d.ID, permit.ApproveInput{Role: permit.RoleSafetyOfficer})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.wf.Approve(ctx, admin, d.ID, permit.ApproveInput{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "admin must name a role")

	_, err = f.wf.Approve(ctx, supervisor, d.ID, permit.ApproveInput{})
	require.ErrorIs(t, err, permit.ErrNoPendingApproval, "site lead not required by default policy")

	d2, err := f.wf.Approve(ctx, admin, d.ID, permit.ApproveInput{Role: permit.RoleSafetyOfficer})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusPendingApproval, d2.Status)
}

func TestConcurrentApprovalsActivateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)
	_, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []auth.Identity{areaManager, safety} {
		wg.Add(1)
		go func(i int, actor auth.Identity) {
			defer wg.Done()
			_, errs[i] = f.wf.Approve(ctx, actor, d.ID, permit.ApproveInput{})
		}(i, actor)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := f.wf.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, permit.StatusActive, got.Status)

	activated := 0
	for _, k := range f.events.kinds() {
		if k == notify.PermitActivated {
			activated++
		}
	}
	assert.Equal(t, 1, activated)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)
	_, err := f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)

	_, err = f.wf.Reject(ctx, safety, d.ID, permit.RejectInput{Reason: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := f.wf.Reject(ctx, safety, d.ID, permit.RejectInput{Reason: "no gas test"})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusRejected, got.Status)
	assert.Equal(t, "no gas test", got.RejectionReason)
}

func TestSubmitIncompleteKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validInput()
	in.ReceiverName = ""
	in.Location = ""
	d, err := f.wf.Create(ctx, requester, in)
	require.NoError(t, err)

	_, err = f.wf.Submit(ctx, requester, d.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err, ""), "receiver_name")
	assert.Contains(t, apperr.MessageOf(err, ""), "location")

	got, _ := f.wf.Get(ctx, d.ID)
	assert.Equal(t, permit.StatusDraft, got.Status)
	assert.Empty(t, got.Approvals)
}

func TestExtensionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.active(t)
	originalEnd := d.EndTime

	_, err := f.wf.RequestExtension(ctx, requester, d.ID, permit.ExtensionInput{NewEndTime: originalEnd, Reason: "late"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	newEnd := originalEnd.Add(4 * time.Hour)
	d, err = f.wf.RequestExtension(ctx, requester, d.ID, permit.ExtensionInput{NewEndTime: newEnd, Reason: "weather delay"})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusExtensionRequested, d.Status)
	require.Len(t, d.Extensions, 1)

	d, err = f.wf.RejectExtension(ctx, areaManager, d.ID, permit.DecisionInput{Comments: "finish tomorrow"})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusActive, d.Status)
	assert.True(t, d.EndTime.Equal(originalEnd))

	_, err = f.wf.RequestExtension(ctx, requester, d.ID, permit.ExtensionInput{NewEndTime: newEnd, Reason: "again"})
	require.NoError(t, err)
	d, err = f.wf.ApproveExtension(ctx, safety, d.ID, permit.DecisionInput{})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusActive, d.Status)
	assert.True(t, d.EndTime.Equal(newEnd))
	require.Len(t, d.Extensions, 2)
	assert.Equal(t, permit.DecisionRejected, d.Extensions[0].Status)
	assert.Equal(t, permit.DecisionApproved, d.Extensions[1].Status)
}

func TestSuspendResumeClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.active(t)

	d, err := f.wf.Suspend(ctx, safety, d.ID, "gas alarm")
	require.NoError(t, err)
	assert.Equal(t, permit.StatusSuspended, d.Status)

	d, err = f.wf.Resume(ctx, safety, d.ID)
	require.NoError(t, err)
	assert.Equal(t, permit.StatusActive, d.Status)

	d, err = f.wf.Close(ctx, requester, d.ID, permit.CloseInput{
		Checklist: permit.Checklist{Housekeeping: true, ToolsRemoved: true, LocksRemoved: true, AreaRestored: true},
		Remarks:   "done",
	})
	require.NoError(t, err)
	assert.Equal(t, permit.StatusClosed, d.Status)
	require.NotNil(t, d.Closure)
	assert.True(t, d.Closure.LocksRemoved)

	_, err = f.wf.Close(ctx, requester, d.ID, permit.CloseInput{})
	require.ErrorIs(t, err, permit.ErrInvalidTransition)
}

func TestCancelAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.active(t)

	require.Error(t, f.wf.Delete(ctx, requester, d.ID), "active permits cannot be deleted")

	d, err := f.wf.Cancel(ctx, requester, d.ID, "scope changed")
	require.NoError(t, err)
	assert.Equal(t, permit.StatusCancelled, d.Status)

	_, err = f.wf.Cancel(ctx, requester, d.ID, "")
	require.ErrorIs(t, err, permit.ErrInvalidTransition)

	require.NoError(t, f.wf.Delete(ctx, requester, d.ID))
	_, err = f.wf.Get(ctx, d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateOnlyInDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	in := validInput()
	in.Location = "Tank farm"
	in.Team = nil
	got, err := f.wf.Update(ctx, requester, d.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Tank farm", got.Location)
	assert.Empty(t, got.Team)

	_, err = f.wf.Submit(ctx, requester, d.ID)
	require.NoError(t, err)
	_, err = f.wf.Update(ctx, requester, d.ID, in)
	require.ErrorIs(t, err, permit.ErrNotEditable)
}

func TestUnknownPermit(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Submit(context.Background(), requester, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, notify.Event) error { return errors.New("smtp down") }
func (failingPublisher) Close() error                                { return nil }

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	store := memstore.New()
	d := notify.NewDispatcher(failingPublisher{}, 1)
	wf := permit.NewWorkflow(store.Permits(), policy.Default(), d)
	ctx := context.Background()

	p, err := wf.Create(ctx, requester, validInput())
	require.NoError(t, err)
	got, err := wf.Submit(ctx, requester, p.ID)
	require.NoError(t, err)
	assert.Equal(t, permit.StatusPendingApproval, got.Status)
	require.NoError(t, d.Close(ctx))
}

// seedAt stores a permit directly in the given state with pending approvals
// and extensions where the state implies them.
func seedAt(t *testing.T, store *memstore.Store, status permit.Status) int64 {
	t.Helper()
	ctx := context.Background()
	in := validInput()
	p := &permit.Permit{
		Serial: "PTW-SEED", SiteID: in.SiteID, CreatedBy: requester.ID, Type: in.Type,
		Location: in.Location, Description: in.Description, StartTime: in.StartTime,
		EndTime: in.EndTime, ReceiverName: in.ReceiverName, Status: status,
	}
	require.NoError(t, store.Permits().InTx(ctx, func(tx permit.Tx) error {
		if err := tx.Create(ctx, p, nil); err != nil {
			return err
		}
		if status == permit.StatusPendingApproval {
			if err := tx.CreateApprovals(ctx, p.ID, policy.DefaultRoles); err != nil {
				return err
			}
		}
		if status == permit.StatusExtensionRequested {
			return tx.InsertExtension(ctx, &permit.Extension{
				PermitID: p.ID, RequestedBy: requester.ID, NewEndTime: in.EndTime.Add(time.Hour),
				Reason: "seed", Status: permit.DecisionPending,
			})
		}
		return nil
	}))
	return p.ID
}

func fireTrigger(ctx context.Context, wf *permit.Workflow, id int64, trig permit.Trigger) error {
	var err error
	switch trig {
	case permit.TriggerSubmit:
		_, err = wf.Submit(ctx, requester, id)
	case permit.TriggerApprove:
		_, err = wf.Approve(ctx, admin, id, permit.ApproveInput{Role: permit.RoleAreaManager})
	case permit.TriggerReject:
		_, err = wf.Reject(ctx, admin, id, permit.RejectInput{Role: permit.RoleAreaManager, Reason: "no"})
	case permit.TriggerRequestExtension:
		_, err = wf.RequestExtension(ctx, requester, id, permit.ExtensionInput{NewEndTime: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), Reason: "more"})
	case permit.TriggerApproveExtension:
		_, err = wf.ApproveExtension(ctx, admin, id, permit.DecisionInput{})
	case permit.TriggerRejectExtension:
		_, err = wf.RejectExtension(ctx, admin, id, permit.DecisionInput{})
	case permit.TriggerSuspend:
		_, err = wf.Suspend(ctx, admin, id, "")
	case permit.TriggerResume:
		_, err = wf.Resume(ctx, admin, id)
	case permit.TriggerClose:
		_, err = wf.Close(ctx, admin, id, permit.CloseInput{})
	case permit.TriggerCancel:
		_, err = wf.Cancel(ctx, admin, id, "")
	}
	return err
}

func TestWorkflowUnlistedTriggersLeaveStateUnchanged(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statuses := make([]any, len(permit.Statuses))
	for i, s := range permit.Statuses {
		statuses[i] = s
	}
	triggers := make([]any, len(permit.Triggers))
	for i, tr := range permit.Triggers {
		triggers[i] = tr
	}

	properties.Property("unlisted triggers fail with InvalidTransition and keep the state", prop.ForAll(
		func(from permit.Status, trig permit.Trigger) bool {
			store := memstore.New()
			wf := permit.NewWorkflow(store.Permits(), policy.Default(), nil)
			id := seedAt(t, store, from)
			ctx := context.Background()

			err := fireTrigger(ctx, wf, id, trig)
			after, getErr := store.Permits().Get(ctx, id)
			if getErr != nil {
				return false
			}
			if permit.Allowed(from, trig) {
				return err == nil && after.Status != "" && after.Status.Valid()
			}
			return errors.Is(err, permit.ErrInvalidTransition) && after.Status == from
		},
		gen.OneConstOf(statuses...),
		gen.OneConstOf(triggers...),
	))

	properties.TestingRun(t)
}
