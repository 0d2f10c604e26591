package paths

import "testing"

func TestNormalizeEndpointPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty becomes root", "", "/"},
		{"root stays root", "/", "/"},
		{"missing leading slash", "accounts", "/accounts"},
		{"duplicate slashes collapse", "/api//accounts", "/api/accounts"},
		{"trailing slash trimmed", "/accounts/", "/accounts"},
		{"backslashes normalized", "api\\accounts", "/api/accounts"},
		{"nested path unchanged", "/api/v1/accounts", "/api/v1/accounts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeEndpointPath(tt.in); got != tt.want {
				t.Errorf("NormalizeEndpointPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoinEndpointPaths(t *testing.T) {
	tests := []struct {
		base     string
		fragment string
		want     string
	}{
		{"/accounts", "{id}", "/accounts/{id}"},
		{"/accounts", "", "/accounts"},
		{"", "accounts", "/accounts"},
		{"", "", "/"},
		{"/api/", "/accounts", "/api/accounts"},
	}

	for _, tt := range tests {
		if got := JoinEndpointPaths(tt.base, tt.fragment); got != tt.want {
			t.Errorf("JoinEndpointPaths(%q, %q) = %q, want %q", tt.base, tt.fragment, got, tt.want)
		}
	}
}

func TestEndpointKey(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"put", "accounts", "PUT_/accounts"},
		{"GET", "/", "GET_/"},
		{"Post", "/api//users/", "POST_/api/users"},
	}

	for _, tt := range tests {
		if got := EndpointKey(tt.method, tt.path); got != tt.want {
			t.Errorf("EndpointKey(%q, %q) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestSplitEndpointKey(t *testing.T) {
	method, path, ok := SplitEndpointKey("PUT_/accounts")
	if !ok || method != "PUT" || path != "/accounts" {
		t.Errorf("SplitEndpointKey(PUT_/accounts) = (%q, %q, %v)", method, path, ok)
	}

	if _, _, ok := SplitEndpointKey("noseparator"); ok {
		t.Error("expected failure for key without separator")
	}
}

func TestArtifactFileName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"PUT_/accounts", "PUT_accounts.feature"},
		{"GET_/api/v1/users", "GET_api_v1_users.feature"},
		{"GET_/", "GET_root.feature"},
		{"DELETE_/accounts/{id}", "DELETE_accounts_{id}.feature"},
	}

	for _, tt := range tests {
		if got := ArtifactFileName(tt.key); got != tt.want {
			t.Errorf("ArtifactFileName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestUnderTestDir(t *testing.T) {
	testDirs := []string{"test", "tests"}

	tests := []struct {
		path string
		want bool
	}{
		{"src/main/java/App.java", false},
		{"src/test/java/AppTest.java", true},
		{"tests/AppTest.java", true},
		{"src/Testing/App.java", false},
		{"src/TEST/App.java", true},
	}

	for _, tt := range tests {
		if got := UnderTestDir(tt.path, testDirs); got != tt.want {
			t.Errorf("UnderTestDir(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
