package service

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"xhttp-relay/internal/model"
)

type decoderFunc func(io.Reader) (io.ReadCloser, error)

var decoders = map[string]decoderFunc{
	"gzip":    openGzip,
	"x-gzip":  openGzip,
	"deflate": zlib.NewReader,
	"zstd":    openZstd,
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// decodeBody wraps body with a streaming decoder when h names exactly one
// supported content coding, and strips the encoding headers accordingly.
// Anything else is returned untouched with its headers intact.
func decodeBody(h http.Header, body io.ReadCloser) io.ReadCloser {
	vals := h.Values("Content-Encoding")
	if len(vals) != 1 || strings.Contains(vals[0], ",") {
		return body
	}
	open, ok := decoders[strings.ToLower(strings.TrimSpace(vals[0]))]
	if !ok {
		return body
	}

	h.Del("Content-Encoding")
	h.Del("Content-Length")
	return &lazyDecoder{src: body, open: open}
}

// lazyDecoder defers reading the coding header until the first Read so that
// response headers can be sent before any body byte arrives.
type lazyDecoder struct {
	src  io.ReadCloser
	open decoderFunc
	dec  io.ReadCloser
	err  error
}

func (d *lazyDecoder) Read(p []byte) (int, error) {
	if d.dec == nil && d.err == nil {
		d.dec, d.err = d.open(d.src)
		// An empty body (HEAD, 204, 304) carries no coding header at all.
		if d.err != nil && !errors.Is(d.err, io.EOF) {
			d.err = asStreamError(d.err)
		}
	}
	if d.err != nil {
		return 0, d.err
	}

	n, err := d.dec.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = asStreamError(err)
	}
	return n, err
}

func (d *lazyDecoder) Close() error {
	if d.dec != nil {
		_ = d.dec.Close()
	}
	return d.src.Close()
}

func asStreamError(err error) error {
	if model.KindOf(err) != model.KindUnknown {
		return err
	}
	return model.NewRelayError(model.KindStreamInterrupted, "decode_body", err)
}
