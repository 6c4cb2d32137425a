package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
)

// AppendJSONL appends obj to path as one JSON line and fsyncs before
// returning. The file's append order is the total event order.
func AppendJSONL(path string, obj any) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	line, err := MarshalLine(obj)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadJSONL reads all object lines of a JSONL file in order. Blank and
// unparseable lines are skipped. A missing file yields nil.
func ReadJSONL(path string) ([]Doc, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Doc
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var obj Doc
		if err := json.Unmarshal(line, &obj); err != nil {
			continue
		}
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, sc.Err()
}

// ReadJSONLTail reads at most the last limit object lines. limit < 0 means
// no bound.
func ReadJSONLTail(path string, limit int) ([]Doc, error) {
	items, err := ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

// CountJSONLLines counts non-blank lines; missing files count zero.
func CountJSONLLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n
}
