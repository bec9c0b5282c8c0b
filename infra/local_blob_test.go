package infra

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalBlobStorePutOpenStat(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}

	info, err := store.Put(ctx, "out/job.wav", strings.NewReader("RIFFdata"), -1, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Key != "out/job.wav" || info.Size != 8 || info.ContentType != "audio/wav" {
		t.Fatalf("Put info = %+v", info)
	}

	rc, got, err := store.Open(ctx, "out/./job.wav")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "RIFFdata" || got.Size != 8 {
		t.Fatalf("Open = %q, %+v", body, got)
	}

	if _, err := store.Stat(ctx, "out/missing.wav"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("Stat missing = %v, want ErrBlobNotFound", err)
	}
	if _, err := store.Stat(ctx, "out"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("Stat directory = %v, want ErrBlobNotFound", err)
	}
	if _, err := store.PresignGet(ctx, "out/job.wav", 0); !errors.Is(err, ErrPresignUnsupported) {
		t.Fatalf("PresignGet = %v", err)
	}
}

func TestCleanBlobKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "out/a.wav", want: "out/a.wav"},
		{in: `datasets\style\a.wav`, want: "datasets/style/a.wav"},
		{in: "out//x/../a.wav", want: "out/a.wav"},
		{in: "", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: "../secret", wantErr: true},
		{in: "out/../../secret", wantErr: true},
		{in: "..", wantErr: true},
	}
	for _, tc := range cases {
		got, err := CleanBlobKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CleanBlobKey(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("CleanBlobKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
