package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

const mtxMagic = "0x12345678"

// mtxOutput writes a binary similarity matrix: a text header naming the
// target and query galleries and the shape, then float32 little-endian
// scores in row-major order.
type mtxOutput struct {
	*Matrix
	file template.File
}

func (o *mtxOutput) Close() error {
	fh, err := os.Create(o.file.Name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	fmt.Fprintf(w, "S2\n%s\n%s\nMF %d %d %s\n",
		o.file.Get("targetGallery", ""), o.file.Get("queryGallery", ""), o.Rows(), o.Cols(), mtxMagic)

	buf := make([]byte, 4)
	for _, row := range o.Scores {
		for _, score := range row {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(score)))
			if _, err := w.Write(buf); err != nil {
				fh.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// MTX is a matrix read back from an .mtx file.
type MTX struct {
	TargetGallery string
	QueryGallery  string
	Rows, Cols    int
	Scores        [][]float64
}

// ReadMTX parses a file written by the .mtx output.
func ReadMTX(path string) (*MTX, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	r := bufio.NewReader(fh)

	lines := make([]string, 4)
	for i := range lines {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: %s header: %v", brerr.ErrUnrecognizedFileType, path, err)
		}
		lines[i] = strings.TrimRight(line, "\r\n")
	}
	if lines[0] != "S2" {
		return nil, fmt.Errorf("%w: %s is not a similarity matrix", brerr.ErrUnrecognizedFileType, path)
	}

	m := &MTX{TargetGallery: lines[1], QueryGallery: lines[2]}
	var magic string
	if _, err := fmt.Sscanf(lines[3], "MF %d %d %s", &m.Rows, &m.Cols, &magic); err != nil || magic != mtxMagic {
		return nil, fmt.Errorf("%w: %s has a malformed shape line %q", brerr.ErrUnrecognizedFileType, path, lines[3])
	}

	buf := make([]byte, 4)
	m.Scores = make([][]float64, m.Rows)
	for i := range m.Scores {
		m.Scores[i] = make([]float64, m.Cols)
		for j := range m.Scores[i] {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: %s truncated at (%d, %d)", brerr.ErrDimensionMismatch, path, i, j)
			}
			m.Scores[i][j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
	}
	return m, nil
}
