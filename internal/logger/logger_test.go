package logger

import "testing"

func TestNewModes(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr bool
	}{
		{mode: "development"},
		{mode: "production"},
		{mode: ""},
		{mode: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			log, err := New(tt.mode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.mode, err, tt.wantErr)
			}
			if err == nil && log == nil {
				t.Fatalf("New(%q) returned nil logger", tt.mode)
			}
		})
	}
}

func TestNopWith(t *testing.T) {
	log := NewNop().With("service", "Test")
	log.Debug("debug", "k", 1)
	log.Info("info")
	log.Warn("warn", "error", "boom")
	log.Error("error")
}
