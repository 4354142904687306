// Package binding creates the scannable hand-off artifact linking a
// submission to its one-time recording entry point. Each artifact is a
// signed JSON record plus a rendered QR image; regeneration atomically
// supersedes the previous artifact and only the newest one is ever served.
package binding

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
)

// ArtifactVersion is bumped when the serialized layout changes.
const ArtifactVersion = 1

const qrImageSize = 512

var ErrNotFound = errors.New("no binding artifact for submission")

// Artifact is the signed, versioned QR payload. VerificationHash
// authenticates the binding itself (ref + issuance time + server secret),
// not the video bytes, and is distinct from the embedded capability token:
// scanning the printed artifact reveals neither the secret nor enough to
// forge a second valid artifact.
type Artifact struct {
	Ref              string    `json:"ref"`
	RecordingURL     string    `json:"recording_url"`
	CreatedAt        time.Time `json:"created_at"`
	VerificationHash string    `json:"verification_hash"`
	Version          int       `json:"version"`
	Sequence         uint64    `json:"sequence"`
}

// Notifier receives the recording URL for inclusion in outbound messages.
// Delivery is the notification system's problem; this package only
// guarantees the URL's validity window.
type Notifier interface {
	BindingGenerated(ref, recordingURL string)
}

// Generator issues and persists binding artifacts.
type Generator struct {
	dir      string
	tokens   *token.Service
	secret   []byte
	baseURL  string
	notifier Notifier
	logger   *zap.Logger

	// seq disambiguates two regenerations within the same millisecond;
	// wall-clock timestamps alone are not unique enough.
	seq atomic.Uint64

	mu     sync.RWMutex
	latest map[string]string // ref -> artifact base name (no extension)
}

// NewGenerator creates the artifact directory, rebuilds the latest-artifact
// index from disk and returns the generator.
func NewGenerator(dir string, tokens *token.Service, secret, baseURL string, notifier Notifier, logger *zap.Logger) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create binding directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{
		dir:      dir,
		tokens:   tokens,
		secret:   []byte(secret),
		baseURL:  strings.TrimRight(baseURL, "/"),
		notifier: notifier,
		logger:   logger,
		latest:   make(map[string]string),
	}
	if err := g.rebuildIndex(); err != nil {
		return nil, err
	}
	return g, nil
}

// Generate mints a fresh recording token, persists the artifact JSON and QR
// image, and atomically promotes them to be the authoritative binding for
// the submission. A concurrent Latest call observes either the previous
// complete artifact or the new complete one, never a half-written file.
func (g *Generator) Generate(refVal string, now time.Time) (*Artifact, error) {
	issued := g.tokens.Issue(refVal, token.PurposeRecording, now)
	seq := g.seq.Add(1)
	art := &Artifact{
		Ref: refVal,
		RecordingURL: fmt.Sprintf("%s/record/%s?token=%s&ts=%d",
			g.baseURL, refVal, issued.Token, issued.IssuedAt.UnixMilli()),
		CreatedAt:        issued.IssuedAt,
		VerificationHash: g.hash(refVal, issued.IssuedAt.UnixMilli()),
		Version:          ArtifactVersion,
		Sequence:         seq,
	}

	base := fmt.Sprintf("binding_%s_%d_%06d", refVal, issued.IssuedAt.UnixMilli(), seq)
	if err := g.writeArtifact(base, art); err != nil {
		return nil, err
	}

	g.mu.Lock()
	prev := g.latest[refVal]
	g.latest[refVal] = base
	g.mu.Unlock()

	if prev != "" && prev != base {
		g.removeArtifactFiles(prev)
	}
	if g.notifier != nil {
		g.notifier.BindingGenerated(refVal, art.RecordingURL)
	}
	g.logger.Info("binding generated",
		zap.String("ref", refVal),
		zap.Uint64("sequence", seq),
		zap.String("token_fp", token.Fingerprint(issued.Token)),
	)
	return art, nil
}

// Latest returns the authoritative artifact for a submission. If a
// regeneration deletes the file between pointer read and file read, a retry
// picks up the new pointer. An artifact whose verification hash does not
// recompute is treated as tampered and refused.
func (g *Generator) Latest(refVal string) (*Artifact, error) {
	for attempt := 0; attempt < 5; attempt++ {
		base, ok := g.latestBase(refVal)
		if !ok {
			return nil, ErrNotFound
		}
		raw, err := os.ReadFile(filepath.Join(g.dir, base+".json"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read binding artifact: %w", err)
		}
		var art Artifact
		if err := json.Unmarshal(raw, &art); err != nil {
			return nil, fmt.Errorf("decode binding artifact: %w", err)
		}
		if !g.VerifyHash(&art) {
			return nil, fmt.Errorf("binding artifact for %s failed hash verification", refVal)
		}
		return &art, nil
	}
	return nil, ErrNotFound
}

// LatestImage returns the rendered QR PNG for the authoritative artifact.
// If a regeneration deletes the file between pointer read and file read,
// one retry picks up the new pointer.
func (g *Generator) LatestImage(refVal string) ([]byte, error) {
	for attempt := 0; attempt < 5; attempt++ {
		base, ok := g.latestBase(refVal)
		if !ok {
			return nil, ErrNotFound
		}
		png, err := os.ReadFile(filepath.Join(g.dir, base+".png"))
		if err == nil {
			return png, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read binding image: %w", err)
		}
	}
	return nil, ErrNotFound
}

// VerifyHash recomputes an artifact's verification hash in constant time.
func (g *Generator) VerifyHash(art *Artifact) bool {
	expected := g.hash(art.Ref, art.CreatedAt.UnixMilli())
	return hmac.Equal([]byte(expected), []byte(art.VerificationHash))
}

func (g *Generator) hash(refVal string, issuedAtMillis int64) string {
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s|%d|binding", refVal, issuedAtMillis)
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func (g *Generator) latestBase(refVal string) (string, bool) {
	g.mu.RLock()
	base, ok := g.latest[refVal]
	g.mu.RUnlock()
	return base, ok
}

// writeArtifact persists JSON and PNG via temp files renamed into place.
func (g *Generator) writeArtifact(base string, art *Artifact) error {
	raw, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("encode binding artifact: %w", err)
	}
	if err := g.writeAtomic(base+".json", raw); err != nil {
		return err
	}
	png, err := qrcode.Encode(art.RecordingURL, qrcode.Medium, qrImageSize)
	if err != nil {
		os.Remove(filepath.Join(g.dir, base+".json"))
		return fmt.Errorf("render qr image: %w", err)
	}
	if err := g.writeAtomic(base+".png", png); err != nil {
		os.Remove(filepath.Join(g.dir, base+".json"))
		return err
	}
	return nil
}

func (g *Generator) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(g.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(g.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename artifact %s: %w", name, err)
	}
	return nil
}

func (g *Generator) removeArtifactFiles(base string) {
	for _, ext := range []string{".json", ".png"} {
		if err := os.Remove(filepath.Join(g.dir, base+ext)); err != nil && !os.IsNotExist(err) {
			g.logger.Warn("remove stale binding artifact failed", zap.String("file", base+ext), zap.Error(err))
		}
	}
}

// rebuildIndex scans the artifact directory on startup and keeps only the
// newest artifact per submission, by (timestamp, sequence) from the name.
func (g *Generator) rebuildIndex() error {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return fmt.Errorf("scan binding directory: %w", err)
	}
	type candidate struct {
		base   string
		millis int64
		seq    uint64
	}
	best := make(map[string]candidate)
	var maxSeq uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "binding_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		parts := strings.Split(base, "_")
		if len(parts) < 4 {
			continue
		}
		seq, err1 := strconv.ParseUint(parts[len(parts)-1], 10, 64)
		millis, err2 := strconv.ParseInt(parts[len(parts)-2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		refVal := strings.Join(parts[1:len(parts)-2], "_")
		cur, ok := best[refVal]
		if !ok || millis > cur.millis || (millis == cur.millis && seq > cur.seq) {
			best[refVal] = candidate{base: base, millis: millis, seq: seq}
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	refs := make([]string, 0, len(best))
	for r := range best {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	for _, r := range refs {
		g.latest[r] = best[r].base
	}
	g.seq.Store(maxSeq)
	return nil
}
