package domain

import "testing"

func TestRoleOrdering(t *testing.T) {
	roles := []Role{RoleViewer, RoleUser, RoleAdmin}
	for i, current := range roles {
		for j, required := range roles {
			got := current.Satisfies(required)
			want := j <= i
			if got != want {
				t.Fatalf("%s satisfies %s = %v, want %v", current, required, got, want)
			}
		}
	}
}

func TestUnknownRoleRanksAsViewer(t *testing.T) {
	if Role("auditor").Rank() != 0 {
		t.Fatalf("unknown role should rank 0")
	}
	if Role("auditor").Valid() {
		t.Fatalf("unknown role should not be valid")
	}
	if Role("auditor").Satisfies(RoleUser) {
		t.Fatalf("unknown role must not satisfy user")
	}
}

func TestStatusValidation(t *testing.T) {
	if !ValidStatus("Delay") || ValidStatus("delay") {
		t.Fatalf("status validation is case sensitive")
	}
	if !StatusLoading.Valid() || StatusType("terminal").Valid() {
		t.Fatalf("unexpected status type validation")
	}
}
