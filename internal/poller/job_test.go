package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartJob_GETWithQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("sec_code")
		_, _ = w.Write([]byte(`{"task_id": "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"}`))
	}))
	defer server.Close()

	client := newTestClient(t)
	id, err := StartJob(context.Background(), client, JobRequest{
		URL:    server.URL + "/services/original-document/",
		Params: map[string]string{"sec_code": "ABC123"},
	})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if id != "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d" {
		t.Errorf("task id = %q", id)
	}
	if gotQuery != "ABC123" {
		t.Errorf("sec_code = %q, want %q", gotQuery, "ABC123")
	}
}

func TestStartJob_POSTWithForm(t *testing.T) {
	var method, form string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = r.ParseForm()
		form = r.PostForm.Get("format")
		_, _ = w.Write([]byte(`{"task_id": 1234}`))
	}))
	defer server.Close()

	client := newTestClient(t)
	id, err := StartJob(context.Background(), client, JobRequest{
		URL:    server.URL,
		Method: "post",
		Params: map[string]string{"format": "xlsx"},
	})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if id != "1234" {
		t.Errorf("task id = %q, want %q", id, "1234")
	}
	if method != http.MethodPost {
		t.Errorf("method = %q, want POST", method)
	}
	if form != "xlsx" {
		t.Errorf("form format = %q, want %q", form, "xlsx")
	}
}

func TestStartJob_Errors(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		wantErr error
	}{
		{"transport", Response{Error: errors.New("dial tcp: refused")}, ErrTransport},
		{"status", Response{StatusCode: http.StatusForbidden}, ErrTransport},
		{"no task id", Response{StatusCode: http.StatusOK, Body: []byte(`{"success": true}`)}, ErrNoTaskID},
		{"empty task id", Response{StatusCode: http.StatusOK, Body: []byte(`{"task_id": ""}`)}, ErrNoTaskID},
		{"malformed", Response{StatusCode: http.StatusOK, Body: []byte(`<html>`)}, nil},
		{"object task id", Response{StatusCode: http.StatusOK, Body: []byte(`{"task_id": {"x": 1}}`)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{script: []Response{tt.resp}}
			_, err := StartJob(context.Background(), f, JobRequest{URL: "http://portal.test/"})
			if err == nil {
				t.Fatal("StartJob() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("StartJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
