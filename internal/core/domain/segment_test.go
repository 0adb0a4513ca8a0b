package domain

import "testing"

func TestIntersects(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want bool
	}{
		{name: "shared", a: []string{"team-a", "team-b"}, b: []string{"team-b"}, want: true},
		{name: "disjoint", a: []string{"team-a"}, b: []string{"team-c"}, want: false},
		{name: "empty left", a: nil, b: []string{"team-a"}, want: false},
		{name: "empty right", a: []string{"team-a"}, b: nil, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Intersects(tc.a, tc.b); got != tc.want {
				t.Fatalf("Intersects(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
