package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func addressOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestUpload_Success(t *testing.T) {
	audio := []byte{0xFF, 0xF3, 0xC4, 0xC0, 1, 2, 3, 4}

	var gotPath, gotMethod string
	var gotPart []byte
	var gotFilename, gotType string
	var partCount int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method

		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("reading multipart: %v", err)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			partCount++
			if part.FormName() == FieldName {
				gotFilename = part.FileName()
				gotType = part.Header.Get("Content-Type")
				gotPart, _ = io.ReadAll(part)
			}
		}
		w.Write([]byte("playing"))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	if err := client.Upload(context.Background(), addressOf(srv), audio); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("Expected POST, got %s", gotMethod)
	}
	if gotPath != "/upload" {
		t.Errorf("Expected path /upload, got %s", gotPath)
	}
	if partCount != 1 {
		t.Errorf("Expected exactly one part, got %d", partCount)
	}
	if gotFilename != "speech.mp3" {
		t.Errorf("Expected filename speech.mp3, got %q", gotFilename)
	}
	if gotType != "audio/mpeg" {
		t.Errorf("Expected content type audio/mpeg, got %q", gotType)
	}
	if !bytes.Equal(gotPart, audio) {
		t.Errorf("Expected part content %v, got %v", audio, gotPart)
	}
}

func TestUpload_SuccessRegardlessOfBody(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			if status != http.StatusNoContent {
				w.Write([]byte(`{"error":"this body is ignored"}`))
			}
		}))

		err := NewClient(5*time.Second).Upload(context.Background(), addressOf(srv), []byte("mp3"))
		srv.Close()
		if err != nil {
			t.Errorf("status %d: expected success, got %v", status, err)
		}
	}
}

func TestUpload_HTTPStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "SD card full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(5*time.Second).Upload(context.Background(), addressOf(srv), []byte("mp3"))

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected *UploadError, got %T %v", err, err)
	}
	if ue.Kind != HTTPStatusFailure {
		t.Errorf("Expected HTTPStatusFailure, got %v", ue.Kind)
	}
	if ue.Status != 500 {
		t.Errorf("Expected status 500, got %d", ue.Status)
	}
	if ue.StatusText != "Internal Server Error" {
		t.Errorf("Expected status text 'Internal Server Error', got %q", ue.StatusText)
	}
	if ue.Body != "SD card full" {
		t.Errorf("Expected body 'SD card full', got %q", ue.Body)
	}
	if StatusCode(err) != 500 {
		t.Errorf("Expected StatusCode 500, got %d", StatusCode(err))
	}
	if IsTransportFailure(err) {
		t.Error("Expected status failure not to be a transport failure")
	}
}

func TestUpload_UnreadableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more body than is sent so the client read fails
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	err := NewClient(5*time.Second).Upload(context.Background(), addressOf(srv), []byte("mp3"))
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("Expected status failure 502, got %v", err)
	}
}

func TestUpload_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := addressOf(srv)
	srv.Close() // nothing listens any more: connection refused

	err := NewClient(2*time.Second).Upload(context.Background(), addr, []byte("mp3"))

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected *UploadError, got %T %v", err, err)
	}
	if ue.Kind != TransportFailure {
		t.Errorf("Expected TransportFailure, got %v", ue.Kind)
	}
	if ue.Err == nil {
		t.Error("Expected the transport cause to be kept")
	}
	if !IsTransportFailure(err) {
		t.Error("Expected IsTransportFailure to be true")
	}
	if StatusCode(err) != 0 {
		t.Errorf("Expected no status code, got %d", StatusCode(err))
	}
}

func TestUpload_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := NewClient(50*time.Millisecond).Upload(context.Background(), addressOf(srv), []byte("mp3"))
	if !IsTransportFailure(err) {
		t.Errorf("Expected a timeout to be a transport failure, got %v", err)
	}
}

func TestUpload_InvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "   ", "https://192.168.1.50", "192.168.1.50/upload"} {
		err := NewClient(time.Second).Upload(context.Background(), addr, []byte("mp3"))
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("%q: expected ErrInvalidAddress, got %v", addr, err)
		}
	}
}

func TestUploadURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.50", "http://192.168.1.50/upload"},
		{" 192.168.1.50:8080 ", "http://192.168.1.50:8080/upload"},
		{"http://speaker.local/", "http://speaker.local/upload"},
		{"esp32", "http://esp32/upload"},
	}
	for _, tt := range tests {
		got, err := UploadURL(tt.in)
		if err != nil {
			t.Errorf("UploadURL(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("UploadURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	addr := addressOf(srv)

	if err := NewClient(time.Second).Probe(context.Background(), addr); err != nil {
		t.Errorf("Expected any HTTP response to count as reachable, got %v", err)
	}

	srv.Close()
	if err := NewClient(time.Second).Probe(context.Background(), addr); !IsTransportFailure(err) {
		t.Errorf("Expected transport failure for closed server, got %v", err)
	}
}
