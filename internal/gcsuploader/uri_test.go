package gcsuploader

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bucket/folder/file.pdf", "bucket", "folder/file.pdf", false},
		{"gs://bucket/file.pdf", "bucket", "file.pdf", false},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"s3://bucket/file.pdf", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI(%q) = %q, %q; want %q, %q", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestBuildURI_RoundTrip(t *testing.T) {
	uri := BuildURI("bucket", "statements/u1/abc-jan.pdf")
	bucket, object, err := ParseURI(uri)
	if err != nil || bucket != "bucket" || object != "statements/u1/abc-jan.pdf" {
		t.Errorf("round trip failed: %q -> %q, %q, %v", uri, bucket, object, err)
	}
}

func TestFilenameFromURI(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/folder/file.pdf": "file.pdf",
		"gs://bucket/file.pdf":        "file.pdf",
		"gs://bucket":                 "bucket",
	}
	for uri, want := range tests {
		if got := FilenameFromURI(uri); got != want {
			t.Errorf("FilenameFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestObjectName(t *testing.T) {
	got := ObjectName("user-1", "0123456789abcdef0123", "../../Jan Statement.pdf")
	want := "statements/user-1/0123456789abcdef-Jan Statement.pdf"
	if got != want {
		t.Errorf("ObjectName() = %q, want %q", got, want)
	}
}
