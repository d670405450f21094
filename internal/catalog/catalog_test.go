package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Failed to load default catalog: %v", err)
	}

	names := c.CategoryNames()
	if len(names) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(names))
	}
	if names[0] != "Christmas-songs" || names[1] != "Pop-songs" {
		t.Errorf("Unexpected category order: %v", names)
	}

	// Ids repeat across categories, so lookups must be category scoped
	christmas, err := c.Track("Christmas-songs", "1")
	if err != nil {
		t.Fatalf("Failed to get track: %v", err)
	}
	pop, err := c.Track("Pop-songs", "1")
	if err != nil {
		t.Fatalf("Failed to get track: %v", err)
	}
	if christmas.Title == pop.Title {
		t.Errorf("Expected different tracks for the same id in different categories, both were %q", pop.Title)
	}
}

func TestTracksPreservesOrder(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Failed to load default catalog: %v", err)
	}

	tracks, err := c.Tracks("Pop-songs")
	if err != nil {
		t.Fatalf("Failed to get tracks: %v", err)
	}

	want := []string{"1", "2", "3", "4", "5"}
	if len(tracks) != len(want) {
		t.Fatalf("Expected %d tracks, got %d", len(want), len(tracks))
	}
	for i, id := range want {
		if tracks[i].ID != id {
			t.Errorf("tracks[%d].ID = %s, want %s", i, tracks[i].ID, id)
		}
	}

	// Returned slice is a copy
	tracks[0].Title = "changed"
	again, _ := c.Tracks("Pop-songs")
	if again[0].Title == "changed" {
		t.Error("Expected Tracks to return a copy")
	}
}

func TestUnknownCategory(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Failed to load default catalog: %v", err)
	}

	if c.HasCategory("Jazz") {
		t.Error("Expected Jazz to be absent")
	}
	if _, err := c.Tracks("Jazz"); err == nil {
		t.Error("Expected error for unknown category")
	}
	if _, err := c.Track("Pop-songs", "99"); err == nil {
		t.Error("Expected error for unknown track")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid",
			data: `
categories:
  - name: Pop
    tracks:
      - id: "1"
        title: A
        url: https://example.com/a.mp3
`,
			wantErr: false,
		},
		{
			name: "empty category name",
			data: `
categories:
  - name: ""
`,
			wantErr: true,
		},
		{
			name: "duplicate id",
			data: `
categories:
  - name: Pop
    tracks:
      - id: "1"
        url: https://example.com/a.mp3
      - id: "1"
        url: https://example.com/b.mp3
`,
			wantErr: true,
		},
		{
			name: "missing audio url",
			data: `
categories:
  - name: Pop
    tracks:
      - id: "1"
`,
			wantErr: true,
		},
		{
			name: "duplicate category",
			data: `
categories:
  - name: Pop
  - name: Pop
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `
categories:
  - name: Jazz
    tracks:
      - id: "7"
        title: So What
        url: https://example.com/so-what.mp3
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	if !c.HasCategory("Jazz") {
		t.Error("Expected Jazz category")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing catalog file")
	}
}
