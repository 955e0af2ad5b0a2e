package template

// Template is a single record flowing through a pipeline: its identity and
// metadata plus an optional feature payload that the core never inspects.
type Template struct {
	File     File      `cbor:"file"`
	Features []float64 `cbor:"features,omitempty"`
}

// New returns a payload-less template for f.
func New(f File) Template {
	return Template{File: f}
}

// Clone deep-copies the template.
func (t Template) Clone() Template {
	out := Template{File: File{Name: t.File.Name}}
	if t.File.Args != nil {
		out.File.Args = make(map[string]string, len(t.File.Args))
		for k, v := range t.File.Args {
			out.File.Args[k] = v
		}
	}
	if t.Features != nil {
		out.Features = append([]float64(nil), t.Features...)
	}
	return out
}

// List is an ordered batch of templates.
type List []Template

// FromFiles builds payload-less templates.
func FromFiles(files FileList) List {
	out := make(List, len(files))
	for i, f := range files {
		out[i] = New(f)
	}
	return out
}

// Files returns the identities of every template.
func (l List) Files() FileList {
	out := make(FileList, len(l))
	for i, t := range l {
		out[i] = t.File
	}
	return out
}

// Clone deep-copies the list.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, t := range l {
		out[i] = t.Clone()
	}
	return out
}
