package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewMultipartRequest(t *testing.T) {
	req := NewMultipartRequest(t, "/api/analyze-image", "image", "tank.jpg", []byte("jpegbytes"))

	if req.Method != http.MethodPost {
		t.Fatalf("method = %s, want POST", req.Method)
	}
	f, hdr, err := req.FormFile("image")
	if err != nil {
		t.Fatalf("FormFile: %v", err)
	}
	defer f.Close()
	if hdr.Filename != "tank.jpg" {
		t.Errorf("filename = %q", hdr.Filename)
	}
	data, _ := io.ReadAll(f)
	if string(data) != "jpegbytes" {
		t.Errorf("data = %q", data)
	}
}

func TestDecodeJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteString(`{"status":"ok","num_fish":3}`)

	got := DecodeJSON(t, rec)
	if got["status"] != "ok" {
		t.Errorf("status = %v", got["status"])
	}
	if got["num_fish"].(float64) != 3 {
		t.Errorf("num_fish = %v", got["num_fish"])
	}
	AssertStatusCode(t, rec.Code, http.StatusOK)
}
