package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/phogobanner/internal/banner"
)

// Banner is a saved banner job
type Banner struct {
	Id          int64
	Uuid        uuid.UUID
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Markup      string
	Orientation banner.Orientation
	Density     banner.DensityLevel
	Align       banner.Align
	Dither      bool
}

// Job parses the saved markup into a job ready for rendering
func (b *Banner) Job() (banner.Job, error) {
	content, err := banner.ParseMarkup(b.Markup)
	if err != nil {
		return banner.Job{}, fmt.Errorf("Couldn't parse markup of banner %s:\n%w", b.Uuid, err)
	}
	q := banner.Threshold
	if b.Dither {
		q = banner.Dithered
	}
	return banner.Job{
		ID:           b.Uuid.String(),
		Content:      content,
		Orientation:  b.Orientation,
		Density:      b.Density.Clamp(),
		Align:        b.Align,
		Quantization: q,
	}, nil
}
