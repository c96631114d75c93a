package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestMatches(t *testing.T) {
	sum := Sum([]byte("v1"))
	tests := []struct {
		header string
		want   bool
	}{
		{"", true},
		{"*", true},
		{sum, true},
		{ETag(sum), true},
		{"W/" + ETag(sum), true},
		{`"other", ` + ETag(sum), true},
		{`"stale"`, false},
		{"stale", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.header, sum); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
