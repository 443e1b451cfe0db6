package realtime

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"", "progress.c1", true},
		{"progress.*", "progress.c1", true},
		{"progress.*", "pipeline.c1", false},
		{"progress.c1", "progress.c1", true},
		{"progress.c1", "progress.c2", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.pattern, tc.topic); got != tc.want {
			t.Fatalf("Matches(%q,%q)=%v want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
	if ProgressTopic("c1") != "progress.c1" {
		t.Fatalf("unexpected topic %q", ProgressTopic("c1"))
	}
}
