package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type capturedUpload struct {
	method   string
	query    string
	fields   map[string]string
	filename string
	content  []byte
}

func newUploadServer(t *testing.T, status int) (*httptest.Server, func() capturedUpload) {
	t.Helper()
	var (
		mu  sync.Mutex
		got capturedUpload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got.method = r.Method
		got.query = r.URL.Query().Get("frn")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("filename")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		got.filename = hdr.Filename
		got.content, _ = io.ReadAll(f)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedUpload {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestUploaderSendsForm(t *testing.T) {
	srv, received := newUploadServer(t, http.StatusOK)
	u := &Uploader{
		URL:       srv.URL + "/admin/LPS-Staff-Photo.html",
		RecordID:  "T 42",
		TeacherID: "7",
	}
	payload := encodeJPEGBytes(t, 36, 43)

	if err := u.Upload(context.Background(), "portrait.jpg", payload); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got := received()
	if got.method != http.MethodPost {
		t.Errorf("method = %s", got.method)
	}
	if got.query != "T 42" {
		t.Errorf("frn query = %q", got.query)
	}
	want := map[string]string{"ac": "submitteacherphoto", "frn": "T 42", "curtchrid": "7"}
	for k, v := range want {
		if got.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, got.fields[k], v)
		}
	}
	if got.filename != "portrait.jpg" {
		t.Errorf("filename = %q", got.filename)
	}
	if string(got.content) != string(payload) {
		t.Errorf("content differs: %d bytes, want %d", len(got.content), len(payload))
	}
}

func TestUploaderRejectedStatus(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusFound} {
		srv, _ := newUploadServer(t, status)
		u := &Uploader{URL: srv.URL, RecordID: "1", TeacherID: "2"}
		err := u.Upload(context.Background(), capturedName, encodeJPEGBytes(t, 8, 8))
		if !errors.Is(err, ErrUploadFailed) {
			t.Errorf("status %d: err = %v, want ErrUploadFailed", status, err)
		}
	}
}

func TestUploaderNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	u := &Uploader{URL: addr, RecordID: "1"}
	if err := u.Upload(context.Background(), capturedName, []byte{1}); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("err = %v, want ErrUploadFailed", err)
	}
}

func TestUploaderEndpoint(t *testing.T) {
	u := &Uploader{URL: "https://school.example/admin/LPS-Staff-Photo.html?tab=photo", RecordID: "a&b"}
	got, err := u.Endpoint()
	if err != nil {
		t.Fatal(err)
	}
	want := "https://school.example/admin/LPS-Staff-Photo.html?frn=a%26b&tab=photo"
	if got != want {
		t.Errorf("Endpoint = %q, want %q", got, want)
	}

	if _, err := (&Uploader{}).Endpoint(); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("empty url err = %v", err)
	}
}

func TestUploaderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := &Uploader{URL: "http://127.0.0.1:1"}
	if err := u.Upload(ctx, capturedName, nil); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("err = %v", err)
	}
}
