package procedures

import (
	"testing"
	"time"
)

func TestDefaultDurations(t *testing.T) {
	cat := Default()
	tests := []struct {
		procedure string
		want      time.Duration
	}{
		{"Muayene", 30 * time.Minute},
		{"Dolgu", 45 * time.Minute},
		{"Kanal Tedavisi", 60 * time.Minute},
		{"İmplant", 90 * time.Minute},
		{"Bilinmeyen İşlem", 30 * time.Minute}, // unknown -> default
		{"", 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := cat.Duration(tt.procedure); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.procedure, got, tt.want)
		}
	}
}

func TestFromEnvOverlay(t *testing.T) {
	cat := FromEnv("Dolgu=50, Beyazlatma=40, bogus, Neg=-5, =10")
	if got := cat.Duration("Dolgu"); got != 50*time.Minute {
		t.Errorf("Dolgu = %v, want 50m", got)
	}
	if got := cat.Duration("Beyazlatma"); got != 40*time.Minute {
		t.Errorf("Beyazlatma = %v, want 40m", got)
	}
	// Untouched entries keep their defaults.
	if got := cat.Duration("Kanal Tedavisi"); got != 60*time.Minute {
		t.Errorf("Kanal Tedavisi = %v, want 60m", got)
	}
	if got := cat.Duration("Neg"); got != 30*time.Minute {
		t.Errorf("Neg = %v, want default 30m", got)
	}
}

func TestZeroCatalogFallsBack(t *testing.T) {
	var cat Catalog
	if got := cat.Duration("Muayene"); got != DefaultDuration {
		t.Errorf("zero catalog Duration = %v, want %v", got, DefaultDuration)
	}
}
