package web

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWritePayloadHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	title := base64.StdEncoding.EncodeToString([]byte("mb-abc123"))
	p := &renderedPayload{
		Body:     "dmxlc3M6Ly8=",
		Name:     "mb-abc123",
		Title:    title,
		UserInfo: "upload=0; download=0; total=0; expire=0",
	}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	h := &Handler{}
	h.writePayload(c, p)

	// clients expect the remark's raw base64, with no scheme prefix
	if got := rec.Header().Get("Profile-Title"); got != title {
		t.Errorf("Profile-Title = %q, want %q", got, title)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="mb-abc123"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rec.Header().Get("Subscription-Userinfo"); got != p.UserInfo {
		t.Errorf("Subscription-Userinfo = %q", got)
	}
	if got := rec.Header().Get("Profile-Update-Interval"); got != "12" {
		t.Errorf("Profile-Update-Interval = %q", got)
	}
	if rec.Body.String() != p.Body {
		t.Errorf("body = %q, want %q", rec.Body.String(), p.Body)
	}
}
