package api

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arunsv/persona/internal/log"
)

type fakeChatter struct {
	deltas []string
	err    error

	lastUID string
	lastSID string
}

func (f *fakeChatter) Chat(ctx context.Context, userID, sessionID, text string) iter.Seq2[string, error] {
	f.lastUID, f.lastSID = userID, sessionID
	return func(yield func(string, error) bool) {
		for _, d := range f.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func postChat(t *testing.T, chatter Chatter, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewChatHandler(chatter, log.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChat_StreamsChunksAndDone(t *testing.T) {
	chatter := &fakeChatter{deltas: []string{"Hey", " there!"}}

	rec := postChat(t, chatter, `{"message":"hello"}`, map[string]string{
		"X-Chat-UID": "user-1",
		"X-Chat-SID": "sess-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `event: chunk`) ||
		!strings.Contains(body, `{"text":"Hey"}`) {
		t.Errorf("body missing chunk events:\n%s", body)
	}
	if !strings.Contains(body, `event: done`) ||
		!strings.Contains(body, `"response":"Hey there!"`) {
		t.Errorf("body missing done event:\n%s", body)
	}
	if !strings.Contains(body, `"sessionId":"sess-1"`) {
		t.Errorf("done event missing session id:\n%s", body)
	}

	if chatter.lastUID != "user-1" || chatter.lastSID != "sess-1" {
		t.Errorf("chatter got uid=%q sid=%q", chatter.lastUID, chatter.lastSID)
	}
}

func TestChat_AssignsMissingIdentifiers(t *testing.T) {
	chatter := &fakeChatter{deltas: []string{"hi"}}

	rec := postChat(t, chatter, `{"message":"hello"}`, map[string]string{
		"X-Forwarded-For":    "203.0.113.9",
		"Sec-CH-UA-Platform": `"macOS"`,
		"Sec-CH-UA-Mobile":   "?0",
	})

	uid := rec.Header().Get("X-Chat-UID")
	sid := rec.Header().Get("X-Chat-SID")
	if uid == "" || sid == "" {
		t.Fatalf("assigned headers missing: uid=%q sid=%q", uid, sid)
	}
	if chatter.lastUID != uid || chatter.lastSID != sid {
		t.Errorf("chatter ids differ from response headers")
	}

	// Same device attributes produce the same user id.
	rec2 := postChat(t, &fakeChatter{deltas: []string{"hi"}}, `{"message":"again"}`, map[string]string{
		"X-Forwarded-For":    "203.0.113.9",
		"Sec-CH-UA-Platform": `"macOS"`,
		"Sec-CH-UA-Mobile":   "?0",
	})
	if rec2.Header().Get("X-Chat-UID") != uid {
		t.Error("fingerprint not stable across requests")
	}
	if rec2.Header().Get("X-Chat-SID") == sid {
		t.Error("fresh session id not generated per request")
	}
}

func TestChat_DistinctDevicesGetDistinctUIDs(t *testing.T) {
	rec1 := postChat(t, &fakeChatter{deltas: []string{"x"}}, `{"message":"m"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.9"})
	rec2 := postChat(t, &fakeChatter{deltas: []string{"x"}}, `{"message":"m"}`,
		map[string]string{"X-Forwarded-For": "198.51.100.7"})

	if rec1.Header().Get("X-Chat-UID") == rec2.Header().Get("X-Chat-UID") {
		t.Error("different client ips mapped to the same user id")
	}
}

func TestChat_MissingMessage(t *testing.T) {
	rec := postChat(t, &fakeChatter{}, `{"message":"  "}`, nil)

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") ||
		!strings.Contains(body, "MISSING_MESSAGE") {
		t.Errorf("body = %s, want MISSING_MESSAGE error event", body)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	rec := postChat(t, &fakeChatter{}, `{broken`, nil)

	if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
		t.Errorf("body = %s, want INVALID_REQUEST error event", rec.Body.String())
	}
}

func TestChat_StreamErrorEmitsErrorEvent(t *testing.T) {
	chatter := &fakeChatter{
		deltas: []string{"partial"},
		err:    errors.New("upstream exploded"),
	}

	rec := postChat(t, chatter, `{"message":"hello"}`, map[string]string{
		"X-Chat-UID": "user-1", "X-Chat-SID": "sess-1",
	})

	body := rec.Body.String()
	if !strings.Contains(body, `{"text":"partial"}`) {
		t.Errorf("partial chunk not forwarded:\n%s", body)
	}
	if !strings.Contains(body, "event: error") ||
		!strings.Contains(body, "STREAM_ERROR") {
		t.Errorf("body missing error event:\n%s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Errorf("done event after failure:\n%s", body)
	}
}
