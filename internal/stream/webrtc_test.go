package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/logging"
)

func newTestWebRTCHandler() *WebRTCHandler {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	return NewWebRTCHandler(newTestBroadcaster(), lf)
}

func TestWebRTCPreflight(t *testing.T) {
	h := newTestWebRTCHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("Allow-Methods = %q, want POST", got)
	}
}

func TestWebRTCRejectsNonPost(t *testing.T) {
	h := newTestWebRTCHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestWebRTCRejectsBadOffer(t *testing.T) {
	h := newTestWebRTCHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
	if n := h.broadcaster.ListenerCount(); n != 0 {
		t.Errorf("bad offer left %d listeners", n)
	}
}

func TestHTTPEncoderArgs(t *testing.T) {
	h := NewHTTPHandler(newTestBroadcaster(), logging.NewDefaultLoggerFactory().NewLogger("stream"))
	args := strings.Join(h.encoderArgs(), " ")
	for _, want := range []string{"-ar 48000", "-ac 2", "-f s16le", "-codec:a libmp3lame"} {
		if !strings.Contains(args, want) {
			t.Errorf("encoder args %q missing %q", args, want)
		}
	}
}
