package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNew_Shape(t *testing.T) {
	for _, tc := range []struct {
		name string
		gen  func() (string, error)
		want string
	}{
		{"Agent", Agent, PrefixAgent},
		{"Task", Task, PrefixTask},
		{"Claim", Claim, PrefixClaim},
		{"Edge", Edge, PrefixEdge},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id, err := tc.gen()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if !strings.HasPrefix(id, tc.want) {
				t.Errorf("id %q lacks prefix %q", id, tc.want)
			}
			if len(id) != len(tc.want)+Length {
				t.Errorf("len(%q) = %d, want %d", id, len(id), len(tc.want)+Length)
			}
		})
	}
}

func TestNew_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^tk-[a-zA-Z0-9]+$`)
	for range 100 {
		id, err := Task()
		if err != nil {
			t.Fatalf("Task: %v", err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("id %q has unexpected characters", id)
		}
	}
}

func TestNew_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := range count {
		id, err := New("x-")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
