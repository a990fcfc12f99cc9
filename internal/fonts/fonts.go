// Package fonts holds the single source of font metrics shared by text
// measurement and rasterization, so a measured banner always fits the canvas
// it is drawn on.
package fonts

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	lru "github.com/hashicorp/golang-lru/v2"

	"tomgalvin.uk/phogobanner/internal/banner"
)

const DefaultSize = 24

// Faces are rendered at a fixed reference DPI so that measurements never
// depend on the display the editor runs on.
const referenceDPI = 72

// Enough for every style of a handful of sizes; older faces are evicted
const maxCachedFaces = 64

type Style struct {
	Bold, Italic bool
	// Mono selects Go Mono rather than the proportional Go font
	Mono bool
	Size int
}

// Set lazily creates and caches font faces. It is safe for concurrent use;
// faces themselves are not, so callers must use Face under Lock/Unlock when
// drawing from several goroutines.
type Set struct {
	defaultSize int
	logger      *slog.Logger

	mu     sync.Mutex
	fonts  map[Style]*opentype.Font
	faces  *lru.Cache[Style, font.Face]
	parsed bool
	// faces share glyph caches, drawing must be serialised
	drawMu sync.Mutex
}

func NewSet(defaultSize int, logger *slog.Logger) *Set {
	if defaultSize <= 0 {
		defaultSize = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	// only fails for a non-positive size
	faces, _ := lru.New[Style, font.Face](maxCachedFaces)
	return &Set{
		defaultSize: banner.ClampFontSize(defaultSize),
		logger:      logger,
		fonts:       map[Style]*opentype.Font{},
		faces:       faces,
	}
}

func (s *Set) DefaultSize() int {
	return s.defaultSize
}

// Lock serialises use of the faces returned by the set
func (s *Set) Lock()   { s.drawMu.Lock() }
func (s *Set) Unlock() { s.drawMu.Unlock() }

// The Go font family, keyed by style with no size
var builtinFonts = map[Style][]byte{
	{}:                                     goregular.TTF,
	{Bold: true}:                           gobold.TTF,
	{Italic: true}:                         goitalic.TTF,
	{Bold: true, Italic: true}:             gobolditalic.TTF,
	{Mono: true}:                           gomono.TTF,
	{Bold: true, Mono: true}:               gomonobold.TTF,
	{Italic: true, Mono: true}:             gomonoitalic.TTF,
	{Bold: true, Italic: true, Mono: true}: gomonobolditalic.TTF,
}

func (s *Set) parseFonts() error {
	if s.parsed {
		return nil
	}
	for style, data := range builtinFonts {
		parsed, err := opentype.Parse(data)
		if err != nil {
			return fmt.Errorf("Couldn't parse font (bold=%v, italic=%v, mono=%v):\n%w", style.Bold, style.Italic, style.Mono, err)
		}
		s.fonts[style] = parsed
	}
	s.parsed = true
	return nil
}

// Face returns the face for the given style. A size of 0 selects the default
// size, other sizes are clamped to the range allowed in banner markup. If the
// font can't be loaded a fixed bitmap face is returned instead so rendering
// can carry on.
func (s *Set) Face(style Style) font.Face {
	if style.Size <= 0 {
		style.Size = s.defaultSize
	}
	style.Size = banner.ClampFontSize(style.Size)

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.faces.Get(style); ok {
		return f
	}

	f, err := s.newFace(style)
	if err != nil {
		s.logger.Error("Couldn't create font face, falling back to basic font", "error", err, "size", style.Size)
		f = basicfont.Face7x13
	}
	s.faces.Add(style, f)
	return f
}

func (s *Set) newFace(style Style) (font.Face, error) {
	if err := s.parseFonts(); err != nil {
		return nil, err
	}

	parsed := s.fonts[Style{Bold: style.Bold, Italic: style.Italic, Mono: style.Mono}]
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(style.Size),
		DPI:     referenceDPI,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("Couldn't create font face:\n%w", err)
	}
	return face, nil
}
