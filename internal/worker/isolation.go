package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mediascribe/api/internal/model"
)

// cancelPollInterval is how often the isolation wait loop checks for a
// cancel request while the subprocess runs.
const cancelPollInterval = 500 * time.Millisecond

// isolateVocals runs the configured isolation command as its own OS process
// so it can be hard-killed on cancellation, and returns the path of the
// isolated vocal track. The caller owns deleting the output.
func (pl *Pipeline) isolateVocals(ctx context.Context, jobID int64, inputPath string) (string, error) {
	ext := filepath.Ext(inputPath)
	outputPath := strings.TrimSuffix(inputPath, ext) + ".vocals.wav"

	cmd := exec.Command(pl.isolationCmd, inputPath, outputPath)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start isolation process: %w", err)
	}
	log.Printf("[job %d] isolation started (pid %d)", jobID, cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				os.Remove(outputPath)
				return "", fmt.Errorf("isolation process failed: %w", err)
			}
			if _, serr := os.Stat(outputPath); serr != nil {
				return "", fmt.Errorf("isolation produced no output: %w", serr)
			}
			return outputPath, nil

		case <-ticker.C:
			if pl.registry.IsCancelled(jobID) {
				pl.killProcess(jobID, cmd, done)
				os.Remove(outputPath)
				return "", model.ErrJobCancelled
			}

		case <-ctx.Done():
			pl.killProcess(jobID, cmd, done)
			os.Remove(outputPath)
			return "", ctx.Err()
		}
	}
}

// killProcess terminates the subprocess: SIGTERM first, SIGKILL after the
// grace period if it is still alive.
func (pl *Pipeline) killProcess(jobID int64, cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	log.Printf("[job %d] terminating isolation process (pid %d)", jobID, cmd.Process.Pid)

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(pl.killGrace):
	}

	log.Printf("[job %d] isolation process did not exit, killing", jobID)
	_ = cmd.Process.Kill()
	<-done
}
