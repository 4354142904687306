package binding

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
)

type captureNotifier struct {
	mu   sync.Mutex
	urls []string
}

func (n *captureNotifier) BindingGenerated(ref, recordingURL string) {
	n.mu.Lock()
	n.urls = append(n.urls, recordingURL)
	n.mu.Unlock()
}

func newTestGenerator(t *testing.T) (*Generator, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	g, err := NewGenerator(t.TempDir(), token.NewService("tok-secret"), "bind-secret", "https://proofs.example.com", n, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g, n
}

func TestGenerate(t *testing.T) {
	g, n := newTestGenerator(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	art, err := g.Generate("PSA-2026-001", now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	t.Run("recording URL embeds ref and token params", func(t *testing.T) {
		if !strings.Contains(art.RecordingURL, "/record/PSA-2026-001?") {
			t.Errorf("recording URL missing ref path: %s", art.RecordingURL)
		}
		if !strings.Contains(art.RecordingURL, "token=") || !strings.Contains(art.RecordingURL, "ts=") {
			t.Errorf("recording URL missing token params: %s", art.RecordingURL)
		}
	})

	t.Run("verification hash validates and differs from token", func(t *testing.T) {
		if !g.VerifyHash(art) {
			t.Error("verification hash does not validate")
		}
		if strings.Contains(art.RecordingURL, art.VerificationHash) {
			t.Error("verification hash must be distinct from the embedded token")
		}
		tampered := *art
		tampered.Ref = "PSA-2026-002"
		if g.VerifyHash(&tampered) {
			t.Error("hash validated for a different ref")
		}
	})

	t.Run("notifier receives the recording URL", func(t *testing.T) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if len(n.urls) != 1 || n.urls[0] != art.RecordingURL {
			t.Errorf("notifier got %v, want [%s]", n.urls, art.RecordingURL)
		}
	})

	t.Run("latest artifact and image resolvable", func(t *testing.T) {
		got, err := g.Latest("PSA-2026-001")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.RecordingURL != art.RecordingURL {
			t.Errorf("Latest returned different artifact")
		}
		png, err := g.LatestImage("PSA-2026-001")
		if err != nil {
			t.Fatalf("LatestImage: %v", err)
		}
		if !bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}) {
			t.Error("binding image is not a PNG")
		}
	})

	t.Run("unknown submission has no artifact", func(t *testing.T) {
		if _, err := g.Latest("PSA-9999-999"); err != ErrNotFound {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestRegenerateSupersedes(t *testing.T) {
	g, _ := newTestGenerator(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	first, err := g.Generate("PSA-2026-001", now)
	if err != nil {
		t.Fatal(err)
	}
	// Same wall-clock millisecond: the sequence counter must disambiguate.
	second, err := g.Generate("PSA-2026-001", now)
	if err != nil {
		t.Fatal(err)
	}
	if second.Sequence <= first.Sequence {
		t.Errorf("sequence did not advance: %d then %d", first.Sequence, second.Sequence)
	}

	got, err := g.Latest("PSA-2026-001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Sequence != second.Sequence {
		t.Errorf("latest is sequence %d, want %d", got.Sequence, second.Sequence)
	}
}

func TestConcurrentRegenerateAndRead(t *testing.T) {
	g, _ := newTestGenerator(t)
	if _, err := g.Generate("PSA-2026-001", time.Now()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 64)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := g.Generate("PSA-2026-001", time.Now()); err != nil {
				errs <- err
			}
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				png, err := g.LatestImage("PSA-2026-001")
				if err != nil {
					errs <- err
					return
				}
				if !bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}) {
					errs <- ErrNotFound
					return
				}
				art, err := g.Latest("PSA-2026-001")
				if err != nil {
					errs <- err
					return
				}
				if !g.VerifyHash(art) {
					errs <- ErrNotFound
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent read/regenerate: %v", err)
	}
}

func TestRebuildIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	n := &captureNotifier{}
	g, err := NewGenerator(dir, token.NewService("tok-secret"), "bind-secret", "https://proofs.example.com", n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate("PSA-2026-001", time.Now()); err != nil {
		t.Fatal(err)
	}
	want, err := g.Generate("PSA-2026-001", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	// A fresh generator over the same directory must resolve the newest
	// artifact and continue the sequence without collisions.
	g2, err := NewGenerator(dir, token.NewService("tok-secret"), "bind-secret", "https://proofs.example.com", n, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g2.Latest("PSA-2026-001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Sequence != want.Sequence {
		t.Errorf("rebuilt index points at sequence %d, want %d", got.Sequence, want.Sequence)
	}
	next, err := g2.Generate("PSA-2026-001", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if next.Sequence <= want.Sequence {
		t.Errorf("sequence restarted: %d after %d", next.Sequence, want.Sequence)
	}
}

func TestLatestRefusesTamperedArtifact(t *testing.T) {
	g, _ := newTestGenerator(t)
	if _, err := g.Generate("PSA-9000", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Latest("PSA-9000"); err != nil {
		t.Fatalf("pristine artifact refused: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(g.dir, "binding_PSA-9000_*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("artifact files = %v (%v), want exactly one", matches, err)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		t.Fatal(err)
	}
	art.VerificationHash = strings.Repeat("0", len(art.VerificationHash))
	forged, err := json.Marshal(&art)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(matches[0], forged, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Latest("PSA-9000"); err == nil {
		t.Error("tampered artifact served")
	}
}
