// Package handlers ships the built-in pipeline stages: ffprobe validation,
// ffmpeg transcoding and thumbnail extraction, CLI-driven transcription, and
// final packaging into the completed zone. Every handler satisfies
// stage.Handler and can be replaced per pipeline file.
package handlers
