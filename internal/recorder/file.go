package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"RTPSentinel/internal/model"
)

// FileRecorder writes the latest report as indented JSON. The file is
// replaced atomically; anomalies reach it through the report.
type FileRecorder struct {
	Path string
}

func NewFileRecorder(path string) *FileRecorder { return &FileRecorder{Path: path} }

func (f *FileRecorder) RecordReport(_ context.Context, rep model.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

func (f *FileRecorder) RecordAnomaly(context.Context, string, model.AnomalyRecord) error {
	return nil
}

func (f *FileRecorder) Close() error { return nil }

// LoadReport reads a report written by FileRecorder. It returns ok=false if the
// file doesn't exist.
func LoadReport(path string) (rep model.Report, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Report{}, false, nil
		}
		return model.Report{}, false, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return model.Report{}, false, err
	}
	return rep, true, nil
}
