package gallery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cognicore/openbr/pkg/br/template"
)

func sample(n int) template.List {
	out := make(template.List, n)
	for i := range out {
		out[i] = template.Template{
			File:     template.File{Name: string(rune('a'+i)) + ".jpg", Args: map[string]string{"Label": "s" + string(rune('0'+i%3))}},
			Features: []float64{float64(i), float64(i * i)},
		}
	}
	return out
}

func checkRoundTrip(t *testing.T, f template.File) {
	t.Helper()
	ctx := context.Background()
	want := sample(7)

	if err := Write(ctx, f, want); err != nil {
		t.Fatalf("Write %s: %v", f.Name, err)
	}
	got, err := Read(ctx, f.With("blockSize", "3"))
	if err != nil {
		t.Fatalf("Read %s: %v", f.Name, err)
	}
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d templates, got %d", f.Name, len(want), len(got))
	}
	for i := range want {
		if !got[i].File.Equal(want[i].File) {
			t.Errorf("%s[%d]: file %v, want %v", f.Name, i, got[i].File, want[i].File)
		}
		if len(got[i].Features) != 2 || got[i].Features[1] != want[i].Features[1] {
			t.Errorf("%s[%d]: features %v, want %v", f.Name, i, got[i].Features, want[i].Features)
		}
	}

	n, err := Size(ctx, f)
	if err != nil || n != 7 {
		t.Errorf("%s: Size = %d, %v", f.Name, n, err)
	}

	files, err := Files(ctx, f)
	if err != nil || len(files) != 7 || files[2].Name != "c.jpg" {
		t.Errorf("%s: Files = %v, %v", f.Name, files, err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	defer ResetMemory()
	checkRoundTrip(t, template.File{Name: "roundtrip.mem"})
}

func TestBinaryRoundTrip(t *testing.T) {
	checkRoundTrip(t, template.File{Name: filepath.Join(t.TempDir(), "roundtrip.gal")})
}

func TestSQLiteRoundTrip(t *testing.T) {
	checkRoundTrip(t, template.File{Name: filepath.Join(t.TempDir(), "roundtrip.db")})
}

func TestTruncateUnlessAppend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"a.gal", "a.db", "a.mem"} {
		f := template.File{Name: filepath.Join(dir, name)}
		if err := Write(ctx, f, sample(3)); err != nil {
			t.Fatal(err)
		}
		if err := Write(ctx, f, sample(2)); err != nil {
			t.Fatal(err)
		}
		if n, _ := Size(ctx, f); n != 2 {
			t.Errorf("%s: rewrite should truncate, size %d", name, n)
		}
		if err := Write(ctx, f.With("append", "true"), sample(2)); err != nil {
			t.Fatal(err)
		}
		if n, _ := Size(ctx, f); n != 4 {
			t.Errorf("%s: append should extend, size %d", name, n)
		}
	}
	ResetMemory()
}

func TestExists(t *testing.T) {
	defer ResetMemory()
	mem := template.File{Name: "exists.mem"}
	if Exists(mem) {
		t.Error("empty memory gallery should not exist")
	}
	_ = Write(context.Background(), mem, sample(1))
	if !Exists(mem) {
		t.Error("populated memory gallery should exist")
	}
	Forget(mem.Name)
	if Exists(mem) {
		t.Error("forgotten memory gallery should not exist")
	}

	gal := template.File{Name: filepath.Join(t.TempDir(), "x.gal")}
	if Exists(gal) {
		t.Error("missing file should not exist")
	}
}

func TestListGalleryResolvesRelativeNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	content := "# subjects\nimg1.jpg[Label=1]\n\n/abs/img2.jpg\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Read(context.Background(), template.File{Name: path})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].File.Name != filepath.Join(dir, "img1.jpg") || got[0].File.Get("Label", "") != "1" {
		t.Errorf("unexpected first entry %v", got[0].File)
	}
	if got[1].File.Name != "/abs/img2.jpg" {
		t.Errorf("absolute entry rewritten: %v", got[1].File)
	}
}

func TestDirectoryGallery(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := Files(context.Background(), template.File{Name: dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0].Name) != "a.txt" {
		t.Errorf("unexpected listing %v", files)
	}
}

func TestSingleFileGallery(t *testing.T) {
	f := template.File{Name: "probe.jpg", Args: map[string]string{"Label": "7"}}
	got, err := Read(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].File.Equal(f) {
		t.Errorf("expected the file itself, got %v", got)
	}
	if err := Write(context.Background(), f, sample(1)); err == nil {
		t.Error("writing to a single-file gallery should fail")
	}
}

func TestIsEnrolled(t *testing.T) {
	for name, want := range map[string]bool{
		"a.gal": true, "a.template": true, "a.mem": true, "a.db": true,
		"a.txt": false, "dir": false, "a.jpg": false,
	} {
		if got := IsEnrolled(template.File{Name: name}); got != want {
			t.Errorf("IsEnrolled(%s) = %v, want %v", name, got, want)
		}
	}
}
