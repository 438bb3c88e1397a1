package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ResultLogger appends result records to a local JSONL file with size-based
// rotation and periodic flush. Writes are asynchronous; a full queue drops
// the record rather than stalling the pipeline.
type ResultLogger struct {
	fileTemplate  string // e.g. "results/run-%s.jsonl", %s is a timestamp
	maxSize       int64
	maxFiles      int
	flushInterval time.Duration

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	recordCh chan *ResultRecord
	doneCh   chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewResultLogger opens the active results file and starts the writer
// goroutine. bufferSize bounds the number of queued records.
func NewResultLogger(fileTemplate string, maxSize int64, maxFiles, bufferSize int, flushInterval time.Duration) (*ResultLogger, error) {
	rl := &ResultLogger{
		fileTemplate:  fileTemplate,
		maxSize:       maxSize,
		maxFiles:      maxFiles,
		flushInterval: flushInterval,
		recordCh:      make(chan *ResultRecord, bufferSize),
		doneCh:        make(chan struct{}),
	}
	if err := rl.openFile(); err != nil {
		return nil, err
	}
	rl.wg.Add(1)
	go rl.run()
	return rl, nil
}

// Enqueue queues a record for writing. Implements Sink.
func (rl *ResultLogger) Enqueue(rec *ResultRecord) error {
	select {
	case rl.recordCh <- rec:
		return nil
	default:
		return fmt.Errorf("result log queue is full, dropping record")
	}
}

// Close flushes pending records and closes the file.
func (rl *ResultLogger) Close() error {
	rl.mu.Lock()
	if rl.closed {
		rl.mu.Unlock()
		return nil
	}
	rl.closed = true
	rl.mu.Unlock()

	close(rl.doneCh)
	rl.wg.Wait()
	return nil
}

func (rl *ResultLogger) newFileName() string {
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf(rl.fileTemplate, timestamp)
}

func (rl *ResultLogger) openFile() error {
	rl.currentFile = rl.newFileName()
	dir := filepath.Dir(rl.currentFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(rl.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	rl.currentSize = fi.Size()
	rl.file = file
	rl.writer = bufio.NewWriter(file)
	return nil
}

func (rl *ResultLogger) rotateIfNeeded(n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.currentSize+int64(n) < rl.maxSize {
		return nil
	}
	if err := rl.writer.Flush(); err != nil {
		return err
	}
	if err := rl.file.Close(); err != nil {
		return err
	}
	if err := rl.openFile(); err != nil {
		return err
	}
	return rl.cleanupOldFiles()
}

// cleanupOldFiles removes the oldest rotated files beyond maxFiles.
func (rl *ResultLogger) cleanupOldFiles() error {
	pattern := fmt.Sprintf(rl.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, err1 := os.Stat(matches[i])
		fj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return false
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	excess := len(matches) - rl.maxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

func (rl *ResultLogger) run() {
	defer rl.wg.Done()
	ticker := time.NewTicker(rl.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-rl.recordCh:
			rl.writeRecord(rec)
		case <-ticker.C:
			rl.mu.Lock()
			_ = rl.writer.Flush()
			rl.mu.Unlock()
		case <-rl.doneCh:
			// Drain whatever is still queued before closing.
			for {
				select {
				case rec := <-rl.recordCh:
					rl.writeRecord(rec)
				default:
					rl.mu.Lock()
					_ = rl.writer.Flush()
					_ = rl.file.Close()
					rl.mu.Unlock()
					return
				}
			}
		}
	}
}

func (rl *ResultLogger) writeRecord(rec *ResultRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line := append(data, '\n')
	if err := rl.rotateIfNeeded(len(line)); err != nil {
		return
	}
	rl.mu.Lock()
	_, _ = rl.writer.Write(line)
	rl.currentSize += int64(len(line))
	rl.mu.Unlock()
}
