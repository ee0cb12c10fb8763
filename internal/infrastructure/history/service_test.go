package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestMessageContent(t *testing.T) {
	var gotAuth string
	r := mux.NewRouter()
	r.HandleFunc("/conversations/{conversationID}/messages/{messageID}", func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		vars := mux.Vars(req)
		if vars["conversationID"] != "conv-1" || vars["messageID"] != "msg-1" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"Finished answer"}`))
	}).Methods(http.MethodGet)
	srv := httptest.NewServer(r)
	defer srv.Close()

	svc := NewService(srv.URL, "token-123")
	content, err := svc.MessageContent(context.Background(), "conv-1", "msg-1")
	if err != nil {
		t.Fatalf("MessageContent() error: %v", err)
	}
	if content != "Finished answer" {
		t.Errorf("content = %q, want %q", content, "Finished answer")
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestMessageContentErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found","message":"no such message"}`))
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "")
	if _, err := svc.MessageContent(context.Background(), "conv-1", "missing"); err == nil {
		t.Fatal("expected error for 404 response")
	} else if !strings.Contains(err.Error(), "no such message") {
		t.Errorf("error should carry the server message, got %v", err)
	}
}

func TestNewServiceWithoutURL(t *testing.T) {
	if svc := NewService("", "token"); svc != nil {
		t.Error("NewService with no URL must return nil")
	}
}
