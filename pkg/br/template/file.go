package template

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// File identifies a record or a record set. Name is usually a path; Args
// carries metadata and configuration flags written as name[key=value,flag].
type File struct {
	Name string            `cbor:"name"`
	Args map[string]string `cbor:"args,omitempty"`
}

// ParseFile parses "name" or "name[key=value,flag,...]".
func ParseFile(s string) File {
	s = strings.TrimSpace(s)
	f := File{Name: s}
	if !strings.HasSuffix(s, "]") {
		return f
	}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return f
	}

	f.Name = s[:open]
	for _, part := range SplitTopLevel(s[open+1:len(s)-1], ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			value = "true"
		}
		f = f.With(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return f
}

// SplitTopLevel splits s on sep, ignoring separators nested inside (), []
// or {}.
func SplitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// IsNull reports whether the file names nothing.
func (f File) IsNull() bool {
	return f.Name == "" && len(f.Args) == 0
}

// Flat renders the file back into its textual form with sorted arguments.
func (f File) Flat() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	keys := make([]string, 0, len(f.Args))
	for k := range f.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		if f.Args[k] == "true" {
			parts[i] = k
		} else {
			parts[i] = k + "=" + f.Args[k]
		}
	}
	return f.Name + "[" + strings.Join(parts, ",") + "]"
}

func (f File) String() string { return f.Flat() }

// Equal compares the flat forms.
func (f File) Equal(other File) bool {
	return f.Flat() == other.Flat()
}

// BaseName is the file name without directory and final extension.
func (f File) BaseName() string {
	base := filepath.Base(f.Name)
	if f.Name == "" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Suffix is the lower-cased final extension without the dot.
func (f File) Suffix() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
}

// Hash identifies the file's content: the flat descriptor plus, for
// regular files, the bytes on disk.
func (f File) Hash() string {
	d := xxhash.New()
	_, _ = d.WriteString(f.Flat())

	if info, err := os.Stat(f.Name); err == nil && info.Mode().IsRegular() {
		if fh, err := os.Open(f.Name); err == nil {
			_, _ = io.Copy(d, fh)
			fh.Close()
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Exists reports whether Name is present on disk.
func (f File) Exists() bool {
	if f.Name == "" {
		return false
	}
	_, err := os.Stat(f.Name)
	return err == nil
}

// Contains reports whether key is set.
func (f File) Contains(key string) bool {
	_, ok := f.Args[key]
	return ok
}

// Get returns the value of key, or def when unset.
func (f File) Get(key, def string) string {
	if v, ok := f.Args[key]; ok {
		return v
	}
	return def
}

// GetBool interprets key as a boolean flag.
func (f File) GetBool(key string, def bool) bool {
	v, ok := f.Args[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetInt interprets key as an integer.
func (f File) GetInt(key string, def int) int {
	v, ok := f.Args[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// With returns a copy of f with key set to value.
func (f File) With(key, value string) File {
	args := make(map[string]string, len(f.Args)+1)
	for k, v := range f.Args {
		args[k] = v
	}
	args[key] = value
	return File{Name: f.Name, Args: args}
}

// Without returns a copy of f with key removed.
func (f File) Without(key string) File {
	if !f.Contains(key) {
		return f
	}
	args := make(map[string]string, len(f.Args))
	for k, v := range f.Args {
		if k != key {
			args[k] = v
		}
	}
	return File{Name: f.Name, Args: args}
}

// FileList is an ordered list of record identities.
type FileList []File

// Names returns the Name of every entry.
func (fl FileList) Names() []string {
	names := make([]string, len(fl))
	for i, f := range fl {
		names[i] = f.Name
	}
	return names
}

// IndexOf returns the first index whose Name equals name, or -1.
func (fl FileList) IndexOf(name string) int {
	for i, f := range fl {
		if f.Name == name {
			return i
		}
	}
	return -1
}
