package domain

import "testing"

func TestImageItemPaths(t *testing.T) {
	tests := []struct {
		remoteDir, rel, full, name string
	}{
		{"/images", "a.jpg", "/images/a.jpg", "a.jpg"},
		{"/images/", "2025/03/b.png", "/images/2025/03/b.png", "b.png"},
		{"", "c.jpeg", "c.jpeg", "c.jpeg"},
	}
	for _, tt := range tests {
		item := ImageItem{RemoteDir: tt.remoteDir, RelPath: tt.rel}
		if got := item.FullPath(); got != tt.full {
			t.Errorf("FullPath(%q, %q) = %q, want %q", tt.remoteDir, tt.rel, got, tt.full)
		}
		if got := item.Filename(); got != tt.name {
			t.Errorf("Filename(%q) = %q, want %q", tt.rel, got, tt.name)
		}
	}
}

func TestStoredRecordStorage(t *testing.T) {
	rec := &StoredRecord{RawStorage: []byte(`{"original": {"file_path": "/images/a.jpg", "filename": "a.jpg", "file_size": 10}, "s3": {"bucket": "nanow", "key": "k"}}`)}
	storage, err := rec.Storage()
	if err != nil {
		t.Fatalf("Storage() error = %v", err)
	}
	if storage.Original.FilePath != "/images/a.jpg" || storage.S3.Bucket != "nanow" {
		t.Errorf("Storage() = %+v", storage)
	}

	if _, err := (&StoredRecord{RawStorage: []byte("{")}).Storage(); err == nil {
		t.Error("expected an error for broken JSON")
	}
}
