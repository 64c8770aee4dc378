package artifact

import (
	"fmt"
	"path"
	"strings"
)

// Zone identifies one lifecycle area of the store.
type Zone string

const (
	ZoneIncoming   Zone = "incoming"
	ZoneWorking    Zone = "working"
	ZoneProcessing Zone = "processing"
	ZoneCompleted  Zone = "completed"
)

var allZones = []Zone{ZoneIncoming, ZoneWorking, ZoneProcessing, ZoneCompleted}

// Zones returns the ordered list of lifecycle zones.
func Zones() []Zone {
	cp := make([]Zone, len(allZones))
	copy(cp, allZones)
	return cp
}

// ParseZone converts a string into a known Zone.
func ParseZone(value string) (Zone, bool) {
	z := Zone(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allZones {
		if z == known {
			return z, true
		}
	}
	return "", false
}

// Ref addresses one artifact within the store.
type Ref struct {
	Zone  Zone   `json:"zone"`
	JobID string `json:"job_id"`
	Name  string `json:"name"`
}

// String renders the ref as zone/job/name, the form used in logs and the API.
func (r Ref) String() string {
	return path.Join(string(r.Zone), r.JobID, r.Name)
}

// InZone returns a copy of the ref relocated to another zone.
func (r Ref) InZone(zone Zone) Ref {
	return Ref{Zone: zone, JobID: r.JobID, Name: r.Name}
}

func (r Ref) validate() error {
	if _, ok := ParseZone(string(r.Zone)); !ok {
		return fmt.Errorf("unknown zone %q", r.Zone)
	}
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("artifact ref missing job id")
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("artifact name must not be empty")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("artifact name %q must be a bare file name", name)
	}
	return nil
}

// ParseRef parses the zone/job/name form produced by Ref.String.
func ParseRef(value string) (Ref, error) {
	parts := strings.SplitN(strings.Trim(value, "/"), "/", 3)
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("malformed artifact ref %q", value)
	}
	zone, ok := ParseZone(parts[0])
	if !ok {
		return Ref{}, fmt.Errorf("unknown zone in artifact ref %q", value)
	}
	ref := Ref{Zone: zone, JobID: parts[1], Name: parts[2]}
	if err := ref.validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}
