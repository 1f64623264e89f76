package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/media"
	"github.com/raymondsend/ytfetch/internal/notify"
)

type fakeNotifier struct {
	texts    []string
	formats  [][]notify.FormatOption
	readies  [][2]string // originalURL, fetchURL
	textErr  error
	readyErr error
}

func (f *fakeNotifier) Text(_ int64, text string) error {
	f.texts = append(f.texts, text)
	return f.textErr
}

func (f *fakeNotifier) Formats(_ int64, options []notify.FormatOption) error {
	f.formats = append(f.formats, options)
	return nil
}

func (f *fakeNotifier) Ready(_ int64, originalURL, fetchURL string) error {
	if f.readyErr != nil {
		return f.readyErr
	}
	f.readies = append(f.readies, [2]string{originalURL, fetchURL})
	return nil
}

type fakeQuota struct{ consumed []int64 }

func (f *fakeQuota) Consume(_ context.Context, userID int64) error {
	f.consumed = append(f.consumed, userID)
	return nil
}

type fakeLog struct{ rows [][2]interface{} }

func (f *fakeLog) LogDownload(_ context.Context, userID int64, url string) error {
	f.rows = append(f.rows, [2]interface{}{userID, url})
	return nil
}

func newTestReconciler() (*Reconciler, *kvstore.Memory, *fakeNotifier, *fakeQuota, *fakeLog) {
	kv := kvstore.NewMemory()
	n := &fakeNotifier{}
	q := &fakeQuota{}
	l := &fakeLog{}
	return New(kv, n, q, l), kv, n, q, l
}

func storeFormats(t *testing.T, kv kvstore.Store, userID int64, url string, formats []media.Format) {
	t.Helper()
	b, err := json.Marshal(formats)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(context.Background(), kvstore.FormatsResultKey(userID, url), string(b), kvstore.TTLFormatsResult); err != nil {
		t.Fatal(err)
	}
}

func TestFormatsPassOffersButtons(t *testing.T) {
	ctx := context.Background()
	r, kv, n, _, _ := newTestReconciler()

	url := "https://youtu.be/abc123"
	storeFormats(t, kv, 5, url, []media.Format{
		{ID: "22", Note: "", Ext: "mp4", Size: 52428800},
		{ID: "18", Note: "360p", Ext: "mp4", Size: 10485760},
	})

	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}

	if len(n.formats) != 1 {
		t.Fatalf("keyboards sent = %d, want 1", len(n.formats))
	}
	opts := n.formats[0]
	if len(opts) != 2 {
		t.Fatalf("options = %+v, want 2", opts)
	}
	if opts[0].Label != "mp4 - 50.0MB" {
		t.Errorf("label = %q, want %q", opts[0].Label, "mp4 - 50.0MB")
	}
	if opts[1].Label != "360p mp4 - 10.0MB" {
		t.Errorf("label = %q, want %q", opts[1].Label, "360p mp4 - 10.0MB")
	}
	if opts[0].Callback != "dl|22" {
		t.Errorf("callback = %q, want dl|22", opts[0].Callback)
	}

	// Every offered format maps back to the source URL.
	for _, id := range []string{"22", "18"} {
		got, err := kv.Get(ctx, kvstore.FormatSelectionKey(5, id))
		if err != nil {
			t.Fatalf("selection %s missing: %v", id, err)
		}
		if got != url {
			t.Errorf("selection %s = %q, want %q", id, got, url)
		}
	}

	// The result key must be reaped.
	if _, err := kv.Get(ctx, kvstore.FormatsResultKey(5, url)); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("formats result key left behind")
	}
}

func TestFormatsPassCapsOptions(t *testing.T) {
	ctx := context.Background()
	r, kv, n, _, _ := newTestReconciler()

	var formats []media.Format
	for i := 0; i < 15; i++ {
		formats = append(formats, media.Format{ID: string(rune('a' + i)), Ext: "mp4", Size: int64(100-i) << 20})
	}
	storeFormats(t, kv, 5, "https://youtu.be/many", formats)

	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(n.formats) != 1 || len(n.formats[0]) != 10 {
		t.Fatalf("keyboard sizes = %v, want one keyboard with 10 options", len(n.formats))
	}
}

func TestFormatsPassErrorSentinel(t *testing.T) {
	ctx := context.Background()
	r, kv, n, _, _ := newTestReconciler()

	key := kvstore.FormatsResultKey(5, "https://youtu.be/bad")
	if err := kv.Set(ctx, key, kvstore.ErrorSentinel, kvstore.TTLFormatsResult); err != nil {
		t.Fatal(err)
	}

	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(n.texts) != 1 {
		t.Fatalf("failure notifications = %d, want 1", len(n.texts))
	}
	if len(n.formats) != 0 {
		t.Fatal("keyboard sent for an errored job")
	}
	if _, err := kv.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("errored key left behind")
	}

	// A second pass must not notify again.
	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(n.texts) != 1 {
		t.Fatalf("key reappeared: %d notifications", len(n.texts))
	}
}

func TestFormatsPassEmptyList(t *testing.T) {
	ctx := context.Background()
	r, kv, n, _, _ := newTestReconciler()

	storeFormats(t, kv, 5, "https://youtu.be/none", nil)
	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(n.texts) != 1 || len(n.formats) != 0 {
		t.Fatalf("texts=%d formats=%d, want one failure text and no keyboard", len(n.texts), len(n.formats))
	}
}

func TestFetchPassDeliversAndCharges(t *testing.T) {
	ctx := context.Background()
	r, kv, n, q, l := newTestReconciler()

	url := "https://youtu.be/abc123"
	key := kvstore.FetchResultKey(42, url)
	if err := kv.Set(ctx, key, "https://storage/presigned", kvstore.TTLFetchResult); err != nil {
		t.Fatal(err)
	}

	if err := r.FetchPass(ctx); err != nil {
		t.Fatal(err)
	}

	if len(n.readies) != 1 {
		t.Fatalf("ready notifications = %d, want 1", len(n.readies))
	}
	if n.readies[0] != [2]string{url, "https://storage/presigned"} {
		t.Errorf("ready payload = %v", n.readies[0])
	}
	if len(q.consumed) != 1 || q.consumed[0] != 42 {
		t.Errorf("quota consumed = %v, want exactly one charge for 42", q.consumed)
	}
	if len(l.rows) != 1 {
		t.Errorf("download log rows = %d, want 1", len(l.rows))
	}
	if _, err := kv.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("fetch result key left behind")
	}

	// Reaped is terminal: nothing happens on the next pass.
	if err := r.FetchPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.consumed) != 1 {
		t.Fatalf("quota charged again on second pass: %v", q.consumed)
	}
}

func TestFetchPassErrorSentinel(t *testing.T) {
	ctx := context.Background()
	r, kv, n, q, _ := newTestReconciler()

	key := kvstore.FetchResultKey(42, "https://youtu.be/abc123")
	if err := kv.Set(ctx, key, kvstore.ErrorSentinel, kvstore.TTLFetchError); err != nil {
		t.Fatal(err)
	}

	if err := r.FetchPass(ctx); err != nil {
		t.Fatal(err)
	}
	if len(n.texts) != 1 || len(n.readies) != 0 {
		t.Fatalf("texts=%d readies=%d, want one failure text", len(n.texts), len(n.readies))
	}
	if len(q.consumed) != 0 {
		t.Error("quota charged for a failed job")
	}
	if _, err := kv.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("errored key left behind")
	}
}

func TestFetchPassDeliveryFailureStillReaps(t *testing.T) {
	ctx := context.Background()
	r, kv, n, q, l := newTestReconciler()
	n.readyErr = errors.New("bot was blocked by the user")

	key := kvstore.FetchResultKey(42, "https://youtu.be/abc123")
	if err := kv.Set(ctx, key, "https://storage/presigned", kvstore.TTLFetchResult); err != nil {
		t.Fatal(err)
	}

	if err := r.FetchPass(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("key left behind after delivery failure")
	}
	// One generic failure message is attempted; no charge, no log row.
	if len(n.texts) != 1 {
		t.Errorf("failure texts = %d, want 1", len(n.texts))
	}
	if len(q.consumed) != 0 || len(l.rows) != 0 {
		t.Error("quota or log written despite delivery failure")
	}
}

func TestMalformedKeysAreDropped(t *testing.T) {
	ctx := context.Background()
	r, kv, n, _, _ := newTestReconciler()

	if err := kv.Set(ctx, "yt_formats:nonsense", "whatever", 0); err != nil {
		t.Fatal(err)
	}
	if err := r.FormatsPass(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, "yt_formats:nonsense"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("malformed key left behind")
	}
	if len(n.texts)+len(n.formats) != 0 {
		t.Error("notification sent for malformed key")
	}
}

func TestFormatLabel(t *testing.T) {
	tests := []struct {
		f    media.Format
		want string
	}{
		{media.Format{Note: "", Ext: "mp4", Size: 52428800}, "mp4 - 50.0MB"},
		{media.Format{Note: "720p", Ext: "mp4", Size: 52428800}, "720p mp4 - 50.0MB"},
		{media.Format{Note: "", Ext: "m4a", Size: 1572864}, "m4a - 1.5MB"},
	}
	for _, tt := range tests {
		if got := FormatLabel(tt.f); got != tt.want {
			t.Errorf("FormatLabel(%+v) = %q, want %q", tt.f, got, tt.want)
		}
	}
}
