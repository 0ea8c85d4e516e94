package screen

import (
	"context"
	"errors"
	"os"
	"testing"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
)

type fakeBackend struct {
	windows []Window
	image   []byte
	err     error
}

func (f *fakeBackend) listWindows(context.Context) ([]Window, error) { return f.windows, f.err }

func (f *fakeBackend) grab(_ context.Context, _ Window, dst string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.image, 0o644)
}

func TestParseWmctrl(t *testing.T) {
	out := "0x03a00007  0 4242   10 20  1280 720  box Zoom Meeting\n" +
		"0x01200003 -1 1      0 0    1920 32   box Top Panel\n" +
		"garbage line\n" +
		"0x04000001  0 4242   0 0    800 600  box\n"
	wins := parseWmctrl(out)
	if len(wins) != 3 {
		t.Fatalf("parsed %d windows, want 3", len(wins))
	}
	want := Window{ID: "0x03a00007", PID: 4242, X: 10, Y: 20, Width: 1280, Height: 720, Title: "Zoom Meeting"}
	if wins[0] != want {
		t.Errorf("wins[0] = %+v", wins[0])
	}
	if wins[2].Title != "" {
		t.Errorf("untitled window title = %q", wins[2].Title)
	}
}

func TestParseAppleScriptWindows(t *testing.T) {
	out := "501\t1\t0\t25\t1440\t875\tZoom Meeting\n501\t2\t100\t100\t300\t200\tChat\nbad\n"
	wins := parseAppleScriptWindows(out)
	if len(wins) != 2 {
		t.Fatalf("parsed %d windows", len(wins))
	}
	if wins[0].ID != "501:1" || wins[0].Width != 1440 || wins[0].Title != "Zoom Meeting" {
		t.Errorf("wins[0] = %+v", wins[0])
	}
}

func TestCandidateWindowsFilters(t *testing.T) {
	e := newEnumerator(&fakeBackend{windows: []Window{
		{ID: "a", PID: 7, Title: "Meeting", Width: 1280, Height: 720},
		{ID: "b", PID: 7, Title: "", Width: 1280, Height: 720},
		{ID: "c", PID: 7, Title: "Tooltip", Width: 120, Height: 40},
		{ID: "d", PID: 8, Title: "Other app", Width: 1280, Height: 720},
		{ID: "e", PID: 7, Title: "Gallery", Width: 1920, Height: 1080},
	}})
	defer e.Close()

	wins, err := e.CandidateWindows(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 2 || wins[0].ID != "a" || wins[1].ID != "e" {
		t.Errorf("candidates = %+v", wins)
	}
	title, ok := e.WindowTitle(context.Background(), 7)
	if !ok || title != "Gallery" {
		t.Errorf("WindowTitle = %q, %v", title, ok)
	}
	if _, ok := e.WindowTitle(context.Background(), 99); ok {
		t.Error("WindowTitle for unknown pid should fail")
	}
}

func TestSnapshot(t *testing.T) {
	f := &fakeBackend{image: []byte{0xff, 0xd8, 0xff}}
	e := newEnumerator(f)
	defer e.Close()

	data, err := e.Snapshot(context.Background(), Window{ID: "a"})
	if err != nil || len(data) != 3 {
		t.Fatalf("Snapshot = %v, %v", data, err)
	}
	entries, _ := os.ReadDir(e.tempDir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}

	f.err = errors.New("window gone")
	if _, err := e.Snapshot(context.Background(), Window{ID: "a"}); !apperrors.IsCode(err, apperrors.WindowNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestCloseRemovesTempDir(t *testing.T) {
	e := newEnumerator(&fakeBackend{})
	dir := e.tempDir
	e.Close()
	e.Close()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("temp directory should be removed after Close")
	}
}
