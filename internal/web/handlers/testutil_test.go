package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/embedding"
)

// testMatchingConfig creates matching defaults for handler tests.
func testMatchingConfig() *config.MatchingConfig {
	return &config.MatchingConfig{
		Threshold:     0.85,
		MinThreshold:  0.3,
		MaxThreshold:  1.2,
		IdentifyLimit: 3,
	}
}

// stubDetector returns canned faces or a canned error.
type stubDetector struct {
	faces []embedding.Face
	err   error
}

func (d *stubDetector) DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.faces, nil
}

// stubEnrollmentSaver records enrollment photo saves.
type stubEnrollmentSaver struct {
	saved map[string][]byte
	err   error
}

func newStubEnrollmentSaver() *stubEnrollmentSaver {
	return &stubEnrollmentSaver{saved: make(map[string][]byte)}
}

func (s *stubEnrollmentSaver) SaveEnrollment(memberID string, imageData []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved[memberID] = imageData
	return "/tmp/enroll_" + memberID + ".jpg", nil
}

// uniformVec creates an embedding with every component set to v.
func uniformVec(v float32) []float32 {
	vec := make([]float32, embedding.Dim)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

// uniformFeature creates the marshalled form of uniformVec(v).
func uniformFeature(t *testing.T, v float32) []byte {
	t.Helper()
	data, err := embedding.Marshal(uniformVec(v))
	if err != nil {
		t.Fatalf("marshal embedding: %v", err)
	}
	return data
}

// jsonRequest creates a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartImageRequest creates a multipart request carrying an image file
// and extra form fields.
func multipartImageRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if image != nil {
		part, err := writer.CreateFormFile("image", "photo.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
