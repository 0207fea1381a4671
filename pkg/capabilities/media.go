/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capabilities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
)

const (
	recordingsDir  = "recordings"
	photosDir      = "photos"
	screenshotsDir = "screenshots"
	fileStampFmt   = "20060102_150405"
	stopGrace      = 5 * time.Second
)

// photoTimeout bounds a single camera capture.
var photoTimeout = 15 * time.Second

var cameraDevices = map[string]string{
	"back":  "/dev/video0",
	"front": "/dev/video1",
}

var recordingExts = map[string]bool{".wav": true, ".3gp": true, ".mp4": true, ".ogg": true}

type recording struct {
	proc     Process
	path     string
	started  time.Time
	duration int
	done     chan struct{}
}

type media struct {
	runner  Runner
	dataDir string
	logger  logger.Logger

	mu     sync.Mutex
	active *recording
}

func newMedia(deps Deps) *media {
	return &media{runner: deps.Runner, dataDir: deps.DataDir, logger: deps.Logger}
}

func (m *media) entries() []entry {
	return []entry{
		{
			capability: dispatch.Capability{
				Action: "start_audio_recording", Domain: dispatch.DomainMedia,
				Description: "Start recording from the default microphone",
				Help: dispatch.Help{
					Parameters: map[string]string{"duration": "integer seconds, 0 records until stopped (optional, default 0)"},
					Requires:   "ALSA capture (arecord)",
					Example:    `{"action":"start_audio_recording","params":{"duration":30}}`,
				},
			},
			run: m.startRecording,
		},
		{
			capability: dispatch.Capability{
				Action: "stop_audio_recording", Domain: dispatch.DomainMedia,
				Description: "Stop the recording in progress",
				Help:        dispatch.Help{Example: `{"action":"stop_audio_recording"}`},
			},
			run: m.stopRecording,
		},
		{
			capability: dispatch.Capability{
				Action: "get_recording_status", Domain: dispatch.DomainMedia,
				Description: "Report whether a recording is in progress",
				Help:        dispatch.Help{Example: `{"action":"get_recording_status"}`},
			},
			run: m.recordingStatus,
		},
		{
			capability: dispatch.Capability{
				Action: "list_recordings", Domain: dispatch.DomainMedia,
				Description: "List stored audio recordings, newest first",
				Help:        dispatch.Help{Example: `{"action":"list_recordings"}`},
			},
			run: m.listRecordings,
		},
		{
			capability: dispatch.Capability{
				Action: "take_photo", Domain: dispatch.DomainMedia,
				Description: "Capture a still image from a camera",
				Help: dispatch.Help{
					Parameters: map[string]string{"camera": `"back" or "front" (optional, default "back")`},
					Requires:   "a V4L2 camera (fswebcam)",
					Example:    `{"action":"take_photo","params":{"camera":"front"}}`,
				},
			},
			run: m.takePhoto,
		},
		{
			capability: dispatch.Capability{
				Action: "take_screenshot", Domain: dispatch.DomainMedia,
				Description: "Capture the root X window",
				Help: dispatch.Help{
					Requires: "an X display (ImageMagick import)",
					Example:  `{"action":"take_screenshot"}`,
				},
			},
			run: m.takeScreenshot,
		},
	}
}

func (m *media) outputPath(sub, prefix, ext string) (string, error) {
	dir := filepath.Join(m.dataDir, sub)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	return filepath.Join(dir, prefix+"_"+time.Now().Format(fileStampFmt)+ext), nil
}

func (m *media) startRecording(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	duration, bad := intInRange(p, "duration", 0, 0, 24*60*60, "Duration must be between 0-86400 seconds")
	if bad != nil {
		return *bad
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return dispatch.Fail("Recording already in progress")
	}

	path, err := m.outputPath(recordingsDir, "audio", ".wav")
	if err != nil {
		return dispatch.Fail("Failed to create recordings directory")
	}

	args := []string{"-q", "-f", "cd", "-t", "wav"}
	if duration > 0 {
		args = append(args, "-d", strconv.Itoa(duration))
	}

	proc, err := m.runner.Start("arecord", append(args, path)...)
	if err != nil {
		return dispatch.FailErr("start audio recording", err)
	}

	rec := &recording{proc: proc, path: path, started: time.Now(), duration: duration, done: make(chan struct{})}
	m.active = rec

	go m.reap(rec)

	m.logger.Info().Str("path", path).Int("duration", duration).Msg("Audio recording started")

	return dispatch.OK("Audio recording started", map[string]interface{}{
		"recording_path": path,
		"filename":       filepath.Base(path),
		"duration_limit": duration,
	})
}

// reap clears the active slot when the recorder exits on its own.
func (m *media) reap(rec *recording) {
	if err := rec.proc.Wait(); err != nil {
		m.logger.Debug().Err(err).Str("path", rec.path).Msg("Recorder exited")
	}

	m.mu.Lock()
	if m.active == rec {
		m.active = nil
	}
	m.mu.Unlock()

	close(rec.done)
}

func (m *media) stopRecording(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	m.mu.Lock()
	rec := m.active
	m.active = nil
	m.mu.Unlock()

	if rec == nil {
		return dispatch.Fail("No recording in progress")
	}

	if err := rec.proc.Interrupt(); err != nil {
		m.logger.Debug().Err(err).Msg("Interrupt recorder")
	}

	select {
	case <-rec.done:
	case <-time.After(stopGrace):
		return dispatch.Fail("Failed to stop audio recording: recorder did not exit within %s", stopGrace)
	case <-ctx.Done():
		return dispatch.FailErr("stop audio recording", ctx.Err())
	}

	result := map[string]interface{}{
		"recording_path": rec.path,
		"file_size":      int64(0),
		"file_exists":    false,
	}

	if fi, err := os.Stat(rec.path); err == nil {
		result["file_size"] = fi.Size()
		result["file_exists"] = true
	}

	return dispatch.OK("Audio recording stopped", result)
}

func (m *media) recordingStatus(_ context.Context, _ string, _ dispatch.Params) dispatch.Result {
	m.mu.Lock()
	rec := m.active
	m.mu.Unlock()

	status := map[string]interface{}{
		"is_recording":           rec != nil,
		"current_recording_path": "",
	}

	if rec != nil {
		status["current_recording_path"] = rec.path
		status["elapsed_seconds"] = int(time.Since(rec.started).Seconds())

		fi, err := os.Stat(rec.path)
		status["file_exists"] = err == nil
		status["current_file_size"] = int64(0)

		if err == nil {
			status["current_file_size"] = fi.Size()
		}
	}

	return dispatch.OK("Recording status retrieved", status)
}

type recordingFile struct {
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"last_modified"`
}

func (m *media) listRecordings(_ context.Context, _ string, _ dispatch.Params) dispatch.Result {
	dir := filepath.Join(m.dataDir, recordingsDir)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return dispatch.OK("No recordings found", map[string]interface{}{
			"recordings":     []recordingFile{},
			"total_files":    0,
			"total_size":     int64(0),
			"directory_path": dir,
		})
	}

	if err != nil {
		return dispatch.FailErr("list recordings", err)
	}

	recordings := make([]recordingFile, 0, len(entries))

	var total int64

	for _, e := range entries {
		if e.IsDir() || !recordingExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			continue
		}

		recordings = append(recordings, recordingFile{
			Filename:     e.Name(),
			Path:         filepath.Join(dir, e.Name()),
			Size:         fi.Size(),
			LastModified: fi.ModTime().UnixMilli(),
		})
		total += fi.Size()
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].LastModified > recordings[j].LastModified
	})

	return dispatch.OK(fmt.Sprintf("Found %d recordings", len(recordings)), map[string]interface{}{
		"recordings":     recordings,
		"total_files":    len(recordings),
		"total_size":     total,
		"directory_path": dir,
	})
}

func (m *media) takePhoto(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	camera := p.StringOr("camera", "back")

	device, ok := cameraDevices[camera]
	if !ok {
		return dispatch.Fail("Camera must be 'front' or 'back'")
	}

	if _, err := os.Stat(device); err != nil {
		return unsupported("Photo capture", "a camera at "+device)
	}

	path, err := m.outputPath(photosDir, "photo", ".jpg")
	if err != nil {
		return dispatch.Fail("Failed to create photos directory")
	}

	ctx, cancel := context.WithTimeout(ctx, photoTimeout)
	defer cancel()

	if _, err := m.runner.Run(ctx, "fswebcam", "-q", "-d", device, "--no-banner", path); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dispatch.Fail("Photo capture timeout")
		}

		return dispatch.FailErr("capture photo", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return dispatch.Fail("Photo file was not created")
	}

	return dispatch.OK("Photo captured successfully", map[string]interface{}{
		"photo_path":  path,
		"filename":    filepath.Base(path),
		"file_size":   fi.Size(),
		"camera_used": camera,
	})
}

func (m *media) takeScreenshot(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	path, err := m.outputPath(screenshotsDir, "screenshot", ".png")
	if err != nil {
		return dispatch.Fail("Failed to create screenshots directory")
	}

	if _, err := m.runner.Run(ctx, "import", "-window", "root", path); err != nil {
		return dispatch.FailErr("take screenshot", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return dispatch.Fail("Screenshot file not created")
	}

	return dispatch.OK("Screenshot captured", map[string]interface{}{
		"screenshot_path": path,
		"filename":        filepath.Base(path),
		"file_size":       fi.Size(),
	})
}
