package service

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"xhttp-relay/internal/config"
	"xhttp-relay/internal/model"
)

func compress(t *testing.T, coding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch coding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("zstd.NewWriter: %v", err)
		}
		w = zw
	default:
		t.Fatalf("unsupported coding %q", coding)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestTransformResponse_Decode(t *testing.T) {
	cfg := testConfig("https://origin.example.test")
	cfg.Headers.ContentEncoding = config.EncodingDecode
	svc := newTestService(t, cfg)

	plain := bytes.Repeat([]byte("xhttp-frame "), 1000)

	for _, coding := range []string{"gzip", "deflate", "zstd"} {
		t.Run(coding, func(t *testing.T) {
			packed := compress(t, coding, plain)
			resp := &model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header: http.Header{
					"Content-Encoding": {coding},
					"Content-Length":   {"123"},
					"Content-Type":     {"text/plain"},
				},
				Body: io.NopCloser(bytes.NewReader(packed)),
			}

			out := svc.TransformResponse(resp)
			defer func() { _ = out.Body.Close() }()

			if out.Header.Get("Content-Encoding") != "" || out.Header.Get("Content-Length") != "" {
				t.Errorf("encoding headers kept: %v", out.Header)
			}
			if out.Header.Get("Content-Type") != "text/plain" {
				t.Errorf("Content-Type = %q, want text/plain", out.Header.Get("Content-Type"))
			}
			got, err := io.ReadAll(out.Body)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("decoded %d bytes, want %d", len(got), len(plain))
			}
		})
	}
}

func TestTransformResponse_DecodeUntouched(t *testing.T) {
	cfg := testConfig("https://origin.example.test")
	cfg.Headers.ContentEncoding = config.EncodingDecode
	svc := newTestService(t, cfg)

	tests := []struct {
		name     string
		encoding []string
	}{
		{"unknown coding", []string{"br"}},
		{"stacked list", []string{"gzip, br"}},
		{"stacked values", []string{"gzip", "br"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := io.NopCloser(bytes.NewReader([]byte("opaque")))
			out := svc.TransformResponse(&model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Encoding": tt.encoding, "Content-Length": {"6"}},
				Body:       body,
			})
			if out.Body != body {
				t.Error("body was wrapped for an undecodable coding")
			}
			if got := out.Header.Values("Content-Encoding"); len(got) != len(tt.encoding) {
				t.Errorf("Content-Encoding = %v, want %v", got, tt.encoding)
			}
			if out.Header.Get("Content-Length") != "6" {
				t.Error("Content-Length dropped for an undecodable coding")
			}
		})
	}
}

func TestLazyDecoder_EmptyBody(t *testing.T) {
	h := http.Header{"Content-Encoding": {"gzip"}}
	body := decodeBody(h, io.NopCloser(bytes.NewReader(nil)))

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v, want nil for empty body", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}

func TestLazyDecoder_Corrupt(t *testing.T) {
	h := http.Header{"Content-Encoding": {"gzip"}}
	body := decodeBody(h, io.NopCloser(bytes.NewReader([]byte("definitely not gzip"))))

	_, err := io.ReadAll(body)
	if err == nil {
		t.Fatal("ReadAll() expected error for corrupt body, got nil")
	}
	if kind := model.KindOf(err); kind != model.KindStreamInterrupted {
		t.Errorf("KindOf(err) = %v, want %v", kind, model.KindStreamInterrupted)
	}
}
