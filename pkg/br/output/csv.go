package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// csvOutput writes a header of query names followed by one row per target.
type csvOutput struct {
	*Matrix
	path string
}

func (o *csvOutput) Close() error {
	fh, err := os.Create(o.path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(fh)

	header := append([]string{"File"}, o.Query.Names()...)
	if err := w.Write(header); err != nil {
		fh.Close()
		return err
	}
	for i, row := range o.Scores {
		record := make([]string, 0, len(row)+1)
		record = append(record, o.Target[i].Name)
		for _, score := range row {
			record = append(record, strconv.FormatFloat(score, 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			fh.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// ReadCSV parses a file written by the .csv output.
func ReadCSV(path string) (target, query []string, scores [][]float64, err error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer fh.Close()

	records, err := csv.NewReader(fh).ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil, fmt.Errorf("%s: missing header", path)
	}
	query = records[0][1:]
	for _, rec := range records[1:] {
		target = append(target, rec[0])
		row := make([]float64, len(rec)-1)
		for j, cell := range rec[1:] {
			if row[j], err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, nil, nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		scores = append(scores, row)
	}
	return target, query, scores, nil
}
