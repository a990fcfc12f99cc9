package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/printer"
	"tomgalvin.uk/phogobanner/internal/store"
)

// JobJson is the editor's serialised state for one banner
type JobJson struct {
	Markup      string `json:"markup"`
	Orientation string `json:"orientation"`
	// nil selects the default density
	Density *int   `json:"density,omitempty"`
	Align   string `json:"align"`
	Dither  bool   `json:"dither"`
}

type BannerJson struct {
	Uuid      *uuid.UUID `json:"uuid,omitempty"`
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	JobJson
}

type StatusJson struct {
	State printer.State       `json:"state"`
	Error string              `json:"error,omitempty"`
	Info  *printer.DeviceInfo `json:"info,omitempty"`
}

type ErrorJson struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func mapJobFromJson(id string, j *JobJson) (banner.Job, error) {
	content, err := banner.ParseMarkup(j.Markup)
	if err != nil {
		return banner.Job{}, err
	}
	orientation, err := banner.ParseOrientation(j.Orientation)
	if err != nil {
		return banner.Job{}, err
	}
	align, err := banner.ParseAlign(j.Align)
	if err != nil {
		return banner.Job{}, err
	}
	density, err := mapDensity(j.Density)
	if err != nil {
		return banner.Job{}, err
	}

	q := banner.Threshold
	if j.Dither {
		q = banner.Dithered
	}
	return banner.Job{
		ID:           id,
		Content:      content,
		Orientation:  orientation,
		Density:      density,
		Align:        align,
		Quantization: q,
	}, nil
}

func mapDensity(d *int) (banner.DensityLevel, error) {
	if d == nil {
		return banner.DefaultDensity, nil
	}
	level := banner.DensityLevel(*d)
	if level < banner.MinDensity || level > banner.MaxDensity {
		return 0, fmt.Errorf("Density %d out of range %d-%d", *d, banner.MinDensity, banner.MaxDensity)
	}
	return level, nil
}

func mapBannerToJson(b *store.Banner) *BannerJson {
	density := int(b.Density)
	return &BannerJson{
		Uuid:      &b.Uuid,
		Name:      b.Name,
		CreatedAt: &b.CreatedAt,
		UpdatedAt: &b.UpdatedAt,
		JobJson: JobJson{
			Markup:      b.Markup,
			Orientation: b.Orientation.String(),
			Density:     &density,
			Align:       b.Align.String(),
			Dither:      b.Dither,
		},
	}
}

// mapBannerFromJson validates the banner by parsing it as a job, so nothing
// unrenderable is ever stored
func mapBannerFromJson(j *BannerJson) (*store.Banner, error) {
	job, err := mapJobFromJson("", &j.JobJson)
	if err != nil {
		return nil, err
	}
	return &store.Banner{
		Name:        j.Name,
		Markup:      j.Markup,
		Orientation: job.Orientation,
		Density:     job.Density,
		Align:       job.Align,
		Dither:      j.Dither,
	}, nil
}
