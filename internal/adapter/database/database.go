// Package database drives the engine-native dump and restore tools. Tool
// stderr is streamed line by line into the execution sink so operators can
// watch a run without shell access to the host.
package database

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/semmidev/custodian/internal/domain"
)

// runTool starts cmd, relays its stderr into the sink, and waits. The last
// stderr line is included in the error because the dump tools put their actual
// complaint there.
func runTool(ctx context.Context, cmd *exec.Cmd, sink domain.Sink) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var lastLine string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			lastLine = line
			if sink != nil {
				sink.Log(line)
			}
		}
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		if lastLine != "" {
			return fmt.Errorf("%s failed: %w (%s)", cmd.Path, err, lastLine)
		}
		return fmt.Errorf("%s failed: %w", cmd.Path, err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func dumpResult(destPath string, startedAt time.Time) (*domain.DumpResult, error) {
	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat dump output: %w", err)
	}
	return &domain.DumpResult{
		Path:        destPath,
		Size:        info.Size(),
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}, nil
}
