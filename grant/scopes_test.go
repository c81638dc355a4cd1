package grant

import (
	"reflect"
	"testing"
)

func TestSubsetOf(t *testing.T) {
	tests := []struct {
		name  string
		sub   []string
		super []string
		want  bool
	}{
		{"empty is subset of anything", nil, []string{"read"}, true},
		{"empty is subset of empty", nil, nil, true},
		{"proper subset", []string{"read"}, []string{"read", "write"}, true},
		{"equal sets", []string{"read", "write"}, []string{"read", "write"}, true},
		{"not a subset", []string{"admin"}, []string{"read", "write"}, false},
		{"nonempty vs empty", []string{"read"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subsetOf(tt.sub, tt.super); got != tt.want {
				t.Errorf("subsetOf(%v, %v) = %v, want %v", tt.sub, tt.super, got, tt.want)
			}
		})
	}
}

func TestIntersectScopes(t *testing.T) {
	got := intersectScopes([]string{"read", "write", "read"}, []string{"write", "read"})
	want := []string{"read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("intersectScopes() = %v, want %v", got, want)
	}

	if got := intersectScopes([]string{"read"}, nil); len(got) != 0 {
		t.Errorf("intersectScopes() with empty side = %v, want empty", got)
	}
}

func TestUnionScopes(t *testing.T) {
	got := unionScopes([]string{"read"}, []string{"write", "read"})
	want := []string{"read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unionScopes() = %v, want %v", got, want)
	}

	// Order independence of membership, no duplicates
	got = unionScopes([]string{"write", "read"}, []string{"read"})
	if len(got) != 2 || !scopeIn(got, "read") || !scopeIn(got, "write") {
		t.Errorf("unionScopes() = %v, want read+write exactly once", got)
	}
}

func TestSplitJoinScopes(t *testing.T) {
	if got := SplitScopes("  read   write "); !reflect.DeepEqual(got, []string{"read", "write"}) {
		t.Errorf("SplitScopes() = %v", got)
	}
	if got := SplitScopes(""); got != nil {
		t.Errorf("SplitScopes(\"\") = %v, want nil", got)
	}
	if got := JoinScopes([]string{"read", "write"}); got != "read write" {
		t.Errorf("JoinScopes() = %q", got)
	}
}
