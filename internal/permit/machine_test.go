package permit

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNextListedTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		trigger Trigger
		want    Status
	}{
		{StatusDraft, TriggerSubmit, StatusPendingApproval},
		{StatusPendingApproval, TriggerApprove, StatusActive},
		{StatusPendingApproval, TriggerReject, StatusRejected},
		{StatusActive, TriggerRequestExtension, StatusExtensionRequested},
		{StatusExtensionRequested, TriggerApproveExtension, StatusActive},
		{StatusExtensionRequested, TriggerRejectExtension, StatusActive},
		{StatusActive, TriggerSuspend, StatusSuspended},
		{StatusSuspended, TriggerResume, StatusActive},
		{StatusActive, TriggerClose, StatusClosed},
		{StatusSuspended, TriggerClose, StatusClosed},
		{StatusDraft, TriggerCancel, StatusCancelled},
		{StatusPendingApproval, TriggerCancel, StatusCancelled},
		{StatusActive, TriggerCancel, StatusCancelled},
		{StatusSuspended, TriggerCancel, StatusCancelled},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.trigger)
		if err != nil {
			t.Fatalf("Next(%s,%s) error: %v", tc.from, tc.trigger, err)
		}
		if got != tc.want {
			t.Fatalf("Next(%s,%s)=%s, want %s", tc.from, tc.trigger, got, tc.want)
		}
	}
}

func TestNextRejectsUnlisted(t *testing.T) {
	_, err := Next(StatusDraft, TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	te, ok := AsTransitionError(err)
	if !ok || te.From != StatusDraft || te.Trigger != TriggerApprove {
		t.Fatalf("unexpected transition error: %#v", err)
	}
	if got := err.Error(); got != "cannot approve a permit in status Draft" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestTerminalStatesHaveNoTriggers(t *testing.T) {
	for _, s := range Statuses {
		if !s.Terminal() {
			continue
		}
		for _, trig := range Triggers {
			if Allowed(s, trig) {
				t.Fatalf("terminal %s allows %s", s, trig)
			}
		}
	}
}

func TestUnlistedPairsKeepState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	statuses := make([]any, len(Statuses))
	for i, s := range Statuses {
		statuses[i] = s
	}
	triggers := make([]any, len(Triggers))
	for i, tr := range Triggers {
		triggers[i] = tr
	}

	properties.Property("Next keeps state and fails for unlisted pairs", prop.ForAll(
		func(from Status, trigger Trigger) bool {
			to, err := Next(from, trigger)
			if Allowed(from, trigger) {
				return err == nil && to.Valid()
			}
			return to == from && errors.Is(err, ErrInvalidTransition)
		},
		gen.OneConstOf(statuses...),
		gen.OneConstOf(triggers...),
	))

	properties.TestingRun(t)
}

func TestSortRoles(t *testing.T) {
	got := SortRoles([]ApproverRole{RoleSiteLead, "Janitor", RoleAreaManager, RoleSiteLead})
	want := []ApproverRole{RoleAreaManager, RoleSiteLead}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("SortRoles=%v, want %v", got, want)
	}
}
