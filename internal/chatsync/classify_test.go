package chatsync

import (
	"testing"

	"github.com/jkaninda/ongea/internal/messenger"
)

func TestPreviewSkipsSystemMessages(t *testing.T) {
	msgs := []messenger.Message{
		{Type: "chat", Body: "see you tomorrow", Timestamp: 100},
		{Type: "chat", Body: "X añadió a Y", Timestamp: 200},
		{Type: "call_log", Body: "", Timestamp: 300},
	}
	m := preview(msgs)
	if m == nil {
		t.Fatal("preview = nil, want the non-system message")
	}
	if m.Body != "see you tomorrow" {
		t.Errorf("preview body = %q", m.Body)
	}
}

func TestPreviewAllSystem(t *testing.T) {
	msgs := []messenger.Message{
		{Type: "gp2", Body: ""},
		{Type: "chat", Body: "Ana añadió a Luis"},
	}
	if m := preview(msgs); m != nil {
		t.Errorf("preview = %+v, want nil", m)
	}
}
