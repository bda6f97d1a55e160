// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package driverbase

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultLogNamePrefix = "trino.adbc.go"
	defaultFileSizeMaxKb = int64(1024)
	defaultFileCountMax  = 100
	defaultTraceFileExt  = ".jsonl"
)

type rotatingFileWriterConfig struct {
	tracingFolderPath string
	logNamePrefix     string
	fileSizeMaxKb     int64
	fileCountMax      int
}

type RotatingFileWriterOption func(*rotatingFileWriterConfig)

// WithTracingFolderPath overrides the folder trace files are written to.
func WithTracingFolderPath(tracingFolderPath string) RotatingFileWriterOption {
	return func(cfg *rotatingFileWriterConfig) {
		cfg.tracingFolderPath = tracingFolderPath
	}
}

// WithLogNamePrefix overrides the file name prefix of trace files.
func WithLogNamePrefix(logNamePrefix string) RotatingFileWriterOption {
	return func(cfg *rotatingFileWriterConfig) {
		cfg.logNamePrefix = logNamePrefix
	}
}

// WithFileSizeMaxKb sets the size at which a trace file is rotated.
func WithFileSizeMaxKb(fileSizeMaxKb int64) RotatingFileWriterOption {
	return func(cfg *rotatingFileWriterConfig) {
		cfg.fileSizeMaxKb = fileSizeMaxKb
	}
}

// WithFileCountMax sets how many rotated trace files are retained.
func WithFileCountMax(fileCountMax int) RotatingFileWriterOption {
	return func(cfg *rotatingFileWriterConfig) {
		cfg.fileCountMax = fileCountMax
	}
}

func newRotatingFileWriterConfig(options ...RotatingFileWriterOption) (rotatingFileWriterConfig, error) {
	cfg := rotatingFileWriterConfig{
		logNamePrefix: defaultLogNamePrefix,
		fileSizeMaxKb: defaultFileSizeMaxKb,
		fileCountMax:  defaultFileCountMax,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	if strings.TrimSpace(cfg.tracingFolderPath) == "" {
		folderPath, err := defaultTracingFolderPath()
		if err != nil {
			return cfg, err
		}
		cfg.tracingFolderPath = folderPath
	}
	if strings.TrimSpace(cfg.logNamePrefix) == "" {
		cfg.logNamePrefix = defaultLogNamePrefix
	}

	if err := os.MkdirAll(cfg.tracingFolderPath, 0755); err != nil {
		return cfg, err
	}
	// Fail up front if the trace folder is not writable.
	tempFile, err := os.CreateTemp(cfg.tracingFolderPath, cfg.logNamePrefix)
	if err != nil {
		return cfg, err
	}
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
	}()
	if _, err := tempFile.WriteString("file started"); err != nil {
		return cfg, err
	}

	cfg.fileSizeMaxKb = max(defaultFileSizeMaxKb, cfg.fileSizeMaxKb)
	cfg.fileCountMax = max(defaultFileCountMax, cfg.fileCountMax)
	return cfg, nil
}

func defaultTracingFolderPath() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, ".adbc", "traces"), nil
}

// RotatingFileWriter appends trace records to files named
// "<prefix>-<UTC timestamp>.jsonl" under the tracing folder. Once the
// current file reaches the size limit it is closed and a new one is
// started, and the oldest files beyond the retention count are removed.
type RotatingFileWriter struct {
	tracingFolderPath string
	logNamePrefix     string
	fileSizeMaxKb     int64
	fileCountMax      int
	current           *os.File
}

func NewRotatingFileWriter(options ...RotatingFileWriterOption) (*RotatingFileWriter, error) {
	cfg, err := newRotatingFileWriterConfig(options...)
	if err != nil {
		return nil, err
	}
	return &RotatingFileWriter{
		tracingFolderPath: cfg.tracingFolderPath,
		logNamePrefix:     cfg.logNamePrefix,
		fileSizeMaxKb:     cfg.fileSizeMaxKb,
		fileCountMax:      cfg.fileCountMax,
	}, nil
}

func (w *RotatingFileWriter) Close() error {
	if w.current != nil {
		err := w.current.Close()
		w.current = nil
		return err
	}
	return nil
}

// Clear closes the current file and removes every trace file that
// matches this writer's prefix.
func (w *RotatingFileWriter) Clear() error {
	if w.current != nil {
		if err := w.current.Close(); err != nil {
			return err
		}
		w.current = nil
	}
	logFiles, err := w.logFiles()
	if err != nil {
		return err
	}
	for _, filePath := range logFiles {
		if err := os.Remove(filePath); err != nil {
			return err
		}
	}
	return nil
}

// Stat reports the os.FileInfo of the trace file currently open for writing.
func (w *RotatingFileWriter) Stat() (fs.FileInfo, error) {
	if w.current == nil {
		return nil, errors.New("no trace file is open")
	}
	return w.current.Stat()
}

func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	if err := w.maybeRotate(); err != nil {
		return 0, err
	}
	if err := w.ensureCurrent(); err != nil {
		return 0, err
	}
	return w.current.Write(p)
}

func (w *RotatingFileWriter) maybeRotate() error {
	if w.current == nil {
		return nil
	}
	fileInfo, err := w.current.Stat()
	if err != nil {
		return err
	}
	if fileInfo.Size() < w.fileSizeMaxKb*1024 {
		return nil
	}
	if err := w.current.Close(); err != nil {
		return err
	}
	w.current = nil
	return w.removeOldFiles()
}

func (w *RotatingFileWriter) ensureCurrent() error {
	const (
		// Fully writable so the file can be reopened on Windows.
		permissions = 0666
		createFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
		appendFlags = os.O_APPEND | os.O_WRONLY
	)

	if w.current != nil {
		return nil
	}

	// Resume the newest existing file if it still has room.
	if lastPath, ok := w.resumableLogFile(); ok {
		current, err := os.OpenFile(lastPath, appendFlags, permissions)
		if err == nil {
			w.current = current
			return nil
		}
		// The file may be locked by another process; start a new one.
	}

	fileName := w.logNamePrefix + "-" + time.Now().UTC().Format("2006-01-02-15-04-05.000000000") + defaultTraceFileExt
	current, err := os.OpenFile(filepath.Join(w.tracingFolderPath, fileName), createFlags, permissions)
	if err != nil {
		return err
	}
	w.current = current
	return nil
}

func (w *RotatingFileWriter) resumableLogFile() (string, bool) {
	logFiles, err := w.logFiles()
	if err != nil || len(logFiles) == 0 {
		return "", false
	}

	// filepath.Glob returns paths sorted, and the timestamped names sort
	// chronologically, so the last entry is the newest file.
	candidate := logFiles[len(logFiles)-1]
	fileInfo, err := os.Stat(candidate)
	if err != nil || fileInfo.Size() >= w.fileSizeMaxKb*1024 {
		return "", false
	}
	return candidate, true
}

func (w *RotatingFileWriter) removeOldFiles() error {
	logFiles, err := w.logFiles()
	if err != nil {
		return nil
	}
	if numToRemove := len(logFiles) - w.fileCountMax; numToRemove > 0 {
		for _, filePath := range logFiles[:numToRemove] {
			if err := os.Remove(filePath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *RotatingFileWriter) logFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(w.tracingFolderPath, w.logNamePrefix+"*"+defaultTraceFileExt))
}
