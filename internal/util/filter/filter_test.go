package filter

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		file string
		want bool
	}{
		{"empty passes all", Config{}, "anything.bin", true},
		{"include hit", Config{Include: []string{"*.dat"}}, "run1.dat", true},
		{"include miss", Config{Include: []string{"*.dat"}}, "run1.log", false},
		{"exclude wins", Config{Include: []string{"*.dat"}, Exclude: []string{"debug*"}}, "debug.dat", false},
		{"search case-insensitive", Config{Search: []string{"RESULT"}}, "final_results.csv", true},
		{"search needs all terms", Config{Search: []string{"final", "mesh"}}, "final_results.csv", false},
		{"malformed pattern", Config{Include: []string{"[z-a"}}, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Match(tt.file); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	cfg := New(" *.dat, ,*.log", "", "final")
	if len(cfg.Include) != 2 || cfg.Include[0] != "*.dat" || cfg.Include[1] != "*.log" {
		t.Errorf("Include = %v", cfg.Include)
	}
	if cfg.Exclude != nil {
		t.Errorf("Exclude = %v, want nil", cfg.Exclude)
	}
	if cfg.Empty() {
		t.Error("Empty() = true for a configured filter")
	}
	if !New("", "", "").Empty() {
		t.Error("Empty() = false for blank flags")
	}
}
