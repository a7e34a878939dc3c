package identity

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ReadChainFile loads an authorship chain from a JSONL file (one record per
// line, append order). A missing file yields an empty slice.
func ReadChainFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("read chain file: line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	return records, nil
}

// AppendChainFile appends one record as a JSON line. The file is opened in
// append mode and never rewritten in place.
func AppendChainFile(path string, record Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append chain file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("append chain file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append chain file: %w", err)
	}
	return nil
}

// ResumeChain reconstructs a Chain positioned at the tail of records, so
// further appends link correctly. The records are not re-verified here;
// call VerifyChain first when integrity matters.
func ResumeChain(records []Record) *Chain {
	c := NewChain(nil)
	c.records = append(c.records, records...)
	return c
}
