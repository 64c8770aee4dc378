package handlers

import (
	"vidmill/internal/config"
	"vidmill/internal/stage"
)

// Set builds the built-in handler map keyed by handler name, ready for
// stage.NewRegistry. Pipeline files may reference any subset of these.
func Set(cfg *config.Config) map[string]stage.Handler {
	set := []stage.Handler{
		NewValidator(cfg),
		NewTranscoder(cfg),
		NewTranscriber(cfg),
		NewThumbnailer(cfg),
		NewPackager(cfg),
	}
	out := make(map[string]stage.Handler, len(set))
	for _, h := range set {
		out[h.Name()] = h
	}
	return out
}
