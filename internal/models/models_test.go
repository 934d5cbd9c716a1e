package models

import "testing"

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"patient":          RolePatient,
		" Physiotherapist": RolePhysiotherapist,
		"":                 "",
		"doctor":           "",
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserHasRole(t *testing.T) {
	if (User{}).HasRole() {
		t.Error("zero user should not have a role")
	}
	if !(User{Role: RolePatient}).HasRole() {
		t.Error("patient user should have a role")
	}
}

func TestCaseloadPatientLabel(t *testing.T) {
	if got := (CaseloadPatient{Phone: "15551234567"}).Label(); got != "+15551234567" {
		t.Errorf("unexpected label %q", got)
	}
	if got := (CaseloadPatient{Phone: "1", Name: "Ana"}).Label(); got != "Ana" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Success(1); r.Status != "ok" || r.Result != 1 {
		t.Errorf("unexpected success response %+v", r)
	}
	if r := Error("boom"); r.Status != "error" || r.Message != "boom" {
		t.Errorf("unexpected error response %+v", r)
	}
}
