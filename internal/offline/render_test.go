package offline

import (
	"bytes"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	src := []byte("# You are offline\n\nThis page is not cached yet.\n\n```go\nfmt.Println(\"hi\")\n```\n")
	var buf bytes.Buffer
	if err := r.Render(&buf, src, Options{SiteName: "Example", Stylesheet: "/assets/css/main.css"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	checks := []string{
		"<title>You are offline - Example</title>",
		`<link rel="stylesheet" href="/assets/css/main.css">`,
		`<h1 id="you-are-offline">You are offline</h1>`,
		"<p>This page is not cached yet.</p>",
		"<pre",
	}
	for _, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderNoStylesheet(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	var buf bytes.Buffer
	if err := r.Render(&buf, []byte("no heading here"), Options{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(buf.String(), "<link") {
		t.Error("unexpected stylesheet link")
	}
	if !strings.Contains(buf.String(), "<title>Offline</title>") {
		t.Errorf("expected default title, got:\n%s", buf.String())
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		content string
		source  string
		want    string
	}{
		{"# Offline\n\nbody", "offline.md", "Offline"},
		{"intro\n# Later heading", "", "Later heading"},
		{"## Not h1", "pages/offline.md", "offline"},
		{"", "", "Offline"},
	}

	for _, tt := range tests {
		if got := extractTitle(tt.content, tt.source); got != tt.want {
			t.Errorf("extractTitle(%q, %q) = %q, want %q", tt.content, tt.source, got, tt.want)
		}
	}
}
