package tokens

import (
	"slices"
	"testing"
)

func TestContent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"What is the capital of France?", []string{"capital", "france"}},
		{"Paris is the capital of France.", []string{"paris", "capital", "france"}},
		{"It's 22°C in Tokyo", []string{"22", "c", "tokyo"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := Content(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Content(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSet(t *testing.T) {
	t.Parallel()
	s := Set("rain rain go away")
	if len(s) != 3 {
		t.Fatalf("Set size = %d, want 3 (%v)", len(s), s)
	}
}

func TestSalient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"The capital of France is Berlin.", []string{"berlin", "france"}},
		{"Berlin is the capital.", []string{"berlin"}},
		{"Indeed, it was founded in 1889.", []string{"1889"}},
		{"the answer is short and plain", nil},
		{"Population: 2.1 million. Mostly Parisians", []string{"1", "2", "mostly", "parisians", "population"}},
	}
	for _, tt := range tests {
		got := make([]string, 0, len(tt.want))
		for w := range Salient(tt.in) {
			got = append(got, w)
		}
		slices.Sort(got)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Salient(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
