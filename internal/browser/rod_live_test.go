package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"demoagent-server/internal/config"
)

// TestLiveRodSession drives a real Chrome through the Rod engine.
// Set DEMOAGENT_LIVE_TESTS=1 to run it.
func TestLiveRodSession(t *testing.T) {
	if os.Getenv("DEMOAGENT_LIVE_TESTS") == "" {
		t.Skip("Skipping live browser test (DEMOAGENT_LIVE_TESTS not set)")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body style="height:4000px">
<input id="q"><button id="go" onclick="document.title='clicked'">Go</button>
</body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m := NewSessionManager(NewRodLauncher(config.BrowserConfig{}, nil), nil)
	if _, err := m.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close(context.Background())

	page, err := m.EnsureActive()
	if err != nil {
		t.Fatal(err)
	}
	if err := page.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if page.URL() == "" {
		t.Error("expected page URL after navigation")
	}
	if err := page.Fill(ctx, "#q", "hello"); err != nil {
		t.Errorf("Fill failed: %v", err)
	}
	if err := page.Click(ctx, "#go"); err != nil {
		t.Errorf("Click failed: %v", err)
	}
	if err := page.Evaluate(ctx, "() => window.scrollBy(0, window.innerHeight * 0.8)"); err != nil {
		t.Errorf("Evaluate failed: %v", err)
	}
	shortCtx, shortCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer shortCancel()
	if err := page.WaitForSelector(shortCtx, "#missing"); err == nil {
		t.Error("expected missing selector to time out")
	}
	img, err := page.Screenshot(ctx, 85)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if len(img) < 2 || img[0] != 0xff || img[1] != 0xd8 {
		t.Error("expected JPEG screenshot")
	}
}
