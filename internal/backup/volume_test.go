package backup

import (
	"errors"
	"testing"
)

func TestRoleAssignment_Validate(t *testing.T) {
	tests := []struct {
		name       string
		assignment RoleAssignment
		wantErr    bool
	}{
		{
			name:       "empty",
			assignment: RoleAssignment{},
		},
		{
			name:       "disjoint lists",
			assignment: RoleAssignment{Destinations: []string{"A"}, Sources: []string{"B"}, Clear: []string{"C"}},
		},
		{
			name:       "same volume in two lists",
			assignment: RoleAssignment{Destinations: []string{"A"}, Sources: []string{"A"}},
			wantErr:    true,
		},
		{
			name:       "same volume cleared and assigned",
			assignment: RoleAssignment{Sources: []string{"A"}, Clear: []string{"A"}},
			wantErr:    true,
		},
		{
			name:       "empty name",
			assignment: RoleAssignment{Sources: []string{""}},
			wantErr:    true,
		},
		{
			name:       "path separator",
			assignment: RoleAssignment{Destinations: []string{"../etc"}},
			wantErr:    true,
		},
		{
			name:       "dot dot",
			assignment: RoleAssignment{Clear: []string{".."}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.assignment.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAssignment) {
				t.Errorf("Validate() error = %v, want ErrInvalidAssignment", err)
			}
		})
	}
}

func TestRoleAssignment_Normalize(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Caf\u00e9"

	got := RoleAssignment{Sources: []string{decomposed}}.Normalize()
	if got.Sources[0] != composed {
		t.Errorf("Normalize() source = %q, want %q", got.Sources[0], composed)
	}
	if got.Destinations != nil || got.Clear != nil {
		t.Errorf("Normalize() filled empty lists: %+v", got)
	}

	dup := RoleAssignment{Sources: []string{decomposed}, Destinations: []string{composed}}.Normalize()
	if err := dup.Validate(); err == nil {
		t.Error("Validate() after Normalize() should detect the same name in two forms")
	}
}

func TestRoots_Defined(t *testing.T) {
	if (Roots{}).Defined() {
		t.Error("empty roots reported as defined")
	}
	if (Roots{Source: "/media/a"}).Defined() {
		t.Error("roots without destination reported as defined")
	}
	if !(Roots{Source: "/media/a", Destination: "/media/b"}).Defined() {
		t.Error("complete roots reported as undefined")
	}
}
