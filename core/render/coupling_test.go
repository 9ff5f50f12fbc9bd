package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/koscakluka/ema-kiosk/core/retrieval"
)

func answer(sequence uint64, text string) retrieval.Answer {
	return retrieval.Answer{Sequence: sequence, Query: retrieval.NewQuery(text), Text: text}
}

type failingTarget struct {
	err error
}

func (f failingTarget) Write(string) error { return f.err }

func TestNewerAnswerIsNotOverwrittenByOlder(t *testing.T) {
	target := NewMemory("")
	coupling := NewCoupling(target)

	if written, err := coupling.Publish(answer(2, "second")); err != nil || !written {
		t.Fatalf("expected second answer to be written, got written=%v err=%v", written, err)
	}
	if written, err := coupling.Publish(answer(1, "first")); err != nil || written {
		t.Fatalf("expected first answer to be dropped, got written=%v err=%v", written, err)
	}

	content, version := target.Content()
	if !strings.Contains(content, "second") || strings.Contains(content, "first") {
		t.Fatalf("expected target to show the second answer, got %q", content)
	}
	if version != 1 {
		t.Fatalf("expected a single write, got %d", version)
	}
	if last, _ := coupling.LastWritten(); last != 2 {
		t.Fatalf("expected last written sequence 2, got %d", last)
	}
}

func TestFailedWriteDoesNotAdvanceSequence(t *testing.T) {
	coupling := NewCoupling(failingTarget{err: errors.New("disk full")})

	if written, err := coupling.Publish(answer(5, "lost")); err == nil || written {
		t.Fatalf("expected write to fail, got written=%v err=%v", written, err)
	}
	if _, written := coupling.LastWritten(); written {
		t.Fatalf("expected nothing to be recorded as written")
	}
}

func TestOlderAnswerWrittenAfterFailedNewer(t *testing.T) {
	target := &flakyTarget{failures: 1}
	coupling := NewCoupling(target)

	if _, err := coupling.Publish(answer(2, "second")); err == nil {
		t.Fatalf("expected first write to fail")
	}
	if written, err := coupling.Publish(answer(1, "first")); err != nil || !written {
		t.Fatalf("expected older answer to be written after the newer one failed, got written=%v err=%v", written, err)
	}
}

func TestConcurrentPublishKeepsHighestSequence(t *testing.T) {
	target := NewMemory("")
	coupling := NewCoupling(target)

	var wg sync.WaitGroup
	for sequence := uint64(1); sequence <= 50; sequence++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = coupling.Publish(answer(sequence, "answer"))
		}()
	}
	wg.Wait()

	if last, _ := coupling.LastWritten(); last != 50 {
		t.Fatalf("expected highest sequence to win, got %d", last)
	}
}

type answererStub struct {
	answer retrieval.Answer
	err    error
}

func (stub answererStub) Answer(context.Context, retrieval.Query) (retrieval.Answer, error) {
	return stub.answer, stub.err
}

func TestAnswerAndPublish(t *testing.T) {
	target := NewMemory("initial")
	coupling := NewCoupling(target)

	_, written, err := AnswerAndPublish(context.Background(), answererStub{err: retrieval.ErrGeneration}, coupling, retrieval.NewQuery("q"))
	if !errors.Is(err, retrieval.ErrGeneration) || written {
		t.Fatalf("expected generation error and no write, got written=%v err=%v", written, err)
	}
	if content, _ := target.Content(); content != "initial" {
		t.Fatalf("expected target untouched, got %q", content)
	}

	published, written, err := AnswerAndPublish(context.Background(), answererStub{answer: answer(1, "hello")}, coupling, retrieval.NewQuery("hello"))
	if err != nil || !written || published.Sequence != 1 {
		t.Fatalf("expected answer to be published, got %+v written=%v err=%v", published, written, err)
	}
	select {
	case <-target.Updates():
	default:
		t.Fatalf("expected update signal")
	}
}

func TestMarkdownFileWritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel", "answer.md")
	file := NewMarkdownFile(path)

	if content, err := file.Load(); err != nil || content != "" {
		t.Fatalf("expected empty content for missing file, got %q (err=%v)", content, err)
	}

	if err := file.Write("# First"); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	if err := file.Write("# Second"); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}

	content, err := file.Load()
	if err != nil || content != "# Second" {
		t.Fatalf("expected latest content, got %q (err=%v)", content, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temporary files left behind, got %d entries", len(entries))
	}
}

func TestMirrorFailureKeepsPrimaryWrite(t *testing.T) {
	memory := NewMemory("")
	mirrored := Mirrored{Primary: memory, Mirrors: []Target{failingTarget{err: errors.New("disk full")}}}

	if err := mirrored.Write("content"); err != nil {
		t.Fatalf("expected mirror failure to be ignored, got %v", err)
	}
	if content, _ := memory.Content(); content != "content" {
		t.Fatalf("expected primary to be written, got %q", content)
	}

	primaryErr := errors.New("panel gone")
	mirror := NewMemory("")
	mirrored = Mirrored{Primary: failingTarget{err: primaryErr}, Mirrors: []Target{mirror}}
	if err := mirrored.Write("content"); !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
	if content, _ := mirror.Content(); content != "" {
		t.Fatalf("expected mirror to be skipped after primary failure, got %q", content)
	}
}

func TestStaleAnswerCannotReplaceNewerAfterMirrorFailure(t *testing.T) {
	panel := NewMemory("")
	file := &flakyTarget{failures: 1}
	coupling := NewCoupling(Mirrored{Primary: panel, Mirrors: []Target{file}})

	if written, err := coupling.Publish(answer(2, "second")); err != nil || !written {
		t.Fatalf("expected second answer to be written despite mirror failure, got written=%v err=%v", written, err)
	}
	if written, err := coupling.Publish(answer(1, "first")); err != nil || written {
		t.Fatalf("expected first answer to be dropped, got written=%v err=%v", written, err)
	}

	content, _ := panel.Content()
	if !strings.Contains(content, "second") || strings.Contains(content, "first") {
		t.Fatalf("expected panel to keep the second answer, got %q", content)
	}
	if last, _ := coupling.LastWritten(); last != 2 {
		t.Fatalf("expected last written sequence 2, got %d", last)
	}
}

type flakyTarget struct {
	mu       sync.Mutex
	failures int
	content  string
}

func (f *flakyTarget) Write(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("temporarily unavailable")
	}
	f.content = content
	return nil
}
