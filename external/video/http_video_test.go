package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/video"
	"github.com/google/go-cmp/cmp"
)

func TestHTTPSource_Resolve(t *testing.T) {
	cases := []struct {
		name string
		body string
		want video.Reference
	}{
		{
			name: "url with signed fragment",
			body: `{"url":"https://x/video","signedUrl":"?token=abc"}`,
			want: video.Reference{URL: "https://x/video?token=abc"},
		},
		{
			name: "direct video url inside data",
			body: `{"data":{"video_url":"https://cdn/abc/master.mpd?sig=1"}}`,
			want: video.Reference{URL: "https://cdn/abc/master.mpd?sig=1", IsManifest: true},
		},
		{
			name: "explicit manifest flag wins",
			body: `{"video_url":"https://cdn/abc/stream","is_manifest":true}`,
			want: video.Reference{URL: "https://cdn/abc/stream", IsManifest: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotQuery, gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/videos/resolve" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				gotQuery = r.URL.RawQuery
				gotAuth = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			got, err := NewHTTPSource(server.URL, 5*time.Second).Resolve(context.Background(), "b1", "s1", "tok")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("unexpected reference (-want +got):\n%s", diff)
			}
			if gotQuery != "batchId=b1&scheduleId=s1" {
				t.Fatalf("unexpected query: %s", gotQuery)
			}
			if gotAuth != "Bearer tok" {
				t.Fatalf("unexpected authorization header: %s", gotAuth)
			}
		})
	}
}

func TestHTTPSource_ResolveFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"no url fields": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{}}`))
		},
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			if _, err := NewHTTPSource(server.URL, 5*time.Second).Resolve(context.Background(), "b", "s", ""); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestHTTPConverter_ConvertManifest(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/convert" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req convertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		gotURL = req.URL
		_, _ = w.Write([]byte(`{"playlist_url":"https://conv/out.m3u8"}`))
	}))
	defer server.Close()

	got, err := NewHTTPConverter(server.URL, 5*time.Second).ConvertManifest(context.Background(), "https://cdn/master.mpd", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://conv/out.m3u8" {
		t.Fatalf("unexpected playlist: %s", got)
	}
	if gotURL != "https://cdn/master.mpd" {
		t.Fatalf("manifest url not forwarded: %s", gotURL)
	}
}

func TestHTTPConverter_EmptyResponseFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewHTTPConverter(server.URL, 5*time.Second).ConvertManifest(context.Background(), "https://cdn/master.mpd", "")
	if !errors.Is(err, video.ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
}
