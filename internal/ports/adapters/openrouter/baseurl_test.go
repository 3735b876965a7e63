package openrouter

import "testing"

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		allowedHosts []string
		wantErr      bool
	}{
		{name: "default host", baseURL: "https://openrouter.ai"},
		{name: "default api host", baseURL: "https://api.openrouter.ai/"},
		{name: "empty means default", baseURL: "  "},
		{name: "reject non-absolute URL", baseURL: "openrouter.ai", wantErr: true},
		{name: "reject http on public host", baseURL: "http://openrouter.ai", wantErr: true},
		{name: "reject unknown host", baseURL: "https://evil.example", wantErr: true},
		{name: "reject userinfo", baseURL: "https://u:p@openrouter.ai", wantErr: true},
		{name: "reject query", baseURL: "https://openrouter.ai?x=1", wantErr: true},
		{
			name:         "allow configured host",
			baseURL:      "https://proxy.internal",
			allowedHosts: []string{"https://proxy.internal/"},
		},
		{
			name:         "allow http on allowed loopback",
			baseURL:      "http://127.0.0.1:8089",
			allowedHosts: []string{"127.0.0.1:8089"},
		},
		{
			name:         "reject http on allowed remote host",
			baseURL:      "http://proxy.internal",
			allowedHosts: []string{"proxy.internal"},
			wantErr:      true,
		},
		{name: "reject loopback not allowed", baseURL: "http://localhost:9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.baseURL, tt.allowedHosts)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeAllowedHosts(t *testing.T) {
	out := normalizeAllowedHosts([]string{" ", "https://", "http://"})
	if len(out) != len(defaultAllowedHosts) {
		t.Fatalf("expected default allowed hosts, got %v", out)
	}
	out = normalizeAllowedHosts([]string{"HTTPS://Proxy.Internal:443/"})
	if _, ok := out["proxy.internal"]; !ok || len(out) != 1 {
		t.Fatalf("unexpected hosts %v", out)
	}
}
