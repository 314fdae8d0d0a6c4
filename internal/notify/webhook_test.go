package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSendPostsJSON(t *testing.T) {
	var got struct {
		Ref     string `json:"ref"`
		EditOf  string `json:"edit_of"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	w := NewWebhook(map[Channel]string{ChannelFulfillers: srv.URL}, nil)
	ref, err := w.Send(context.Background(), Message{Channel: ChannelFulfillers, Text: "open request"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref == "" || got.Ref != string(ref) {
		t.Fatalf("ref mismatch: %q vs %q", ref, got.Ref)
	}
	if got.Channel != string(ChannelFulfillers) || got.Text != "open request" {
		t.Fatalf("payload: %+v", got)
	}

	if err := w.Edit(context.Background(), ref, Message{Channel: ChannelFulfillers, Text: "taken"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.EditOf != string(ref) {
		t.Fatalf("edit_of: %q, want %q", got.EditOf, ref)
	}
}

func TestWebhookUnconfiguredChannelDrops(t *testing.T) {
	w := NewWebhook(map[Channel]string{}, nil)
	if _, err := w.Send(context.Background(), Message{Channel: ChannelReviewers, Text: "x"}); err != nil {
		t.Fatalf("unconfigured channel should drop silently: %v", err)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(map[Channel]string{ChannelReviewers: srv.URL}, nil)
	if _, err := w.Send(context.Background(), Message{Channel: ChannelReviewers, Text: "x"}); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}
