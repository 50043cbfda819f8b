package tagger

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxTags caps the tags produced for one image.
const MaxTags = 8

var (
	separators = regexp.MustCompile(`[_\-.]`)
	wordRe     = regexp.MustCompile(`\b[a-z]{3,}\b`)
)

var keywordSets = []map[string]bool{
	set("colorful", "monochrome", "black", "white", "sepia", "vibrant", "red", "blue", "green",
		"pastel", "dark", "bright", "muted", "saturated", "purple", "pink", "orange", "yellow",
		"golden", "silver", "bronze", "metallic", "neon", "glowing"),
	set("realistic", "stylized", "anime", "cartoon", "abstract", "surreal", "simple",
		"photorealistic", "minimalist", "detailed", "sketch", "painting", "comic",
		"cinematic", "dramatic", "elegant", "vintage", "retro", "modern", "futuristic",
		"cyberpunk", "steampunk", "gothic", "baroque", "renaissance"),
	set("portrait", "landscape", "cityscape", "nature", "architecture", "beach", "day", "night",
		"character", "vehicle", "animal", "fantasy", "medieval", "woman", "man",
		"building", "house", "castle", "forest", "mountain", "ocean", "sky", "clouds",
		"flower", "tree", "garden", "park", "street", "indoor", "outdoor", "interior",
		"exterior", "room", "kitchen", "bedroom", "bathroom", "living", "office"),
	set("photography", "compose", "illustration", "cgi",
		"watercolor", "acrylic", "pencil", "ink", "charcoal"),
	set("happy", "sad", "angry", "peaceful", "energetic", "calm", "exciting",
		"mysterious", "romantic", "epic", "heroic", "villainous", "cute", "scary"),
}

var artworkWords = set("art", "artwork", "drawing", "painting", "sketch")

// phrases add tags when the whole phrase appears in the cleaned filename.
var phrases = []struct {
	phrase string
	tags   []string
}{
	{"beach day", []string{"beach", "day"}},
	{"black widow", []string{"black_widow"}},
}

// aiMarkers flag generated artwork. "ai" must be a whole token so that
// words like "mountain" do not match.
var aiMarkers = []string{"generated", "midjourney", "stable", "dalle"}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Properties are the decoded-header facts the tagger looks at.
type Properties struct {
	Width     int
	Height    int
	Grayscale bool
}

// Analyze reads an image header without decoding pixel data.
func Analyze(path string) (Properties, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return Properties{}, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Debug("failed to close %s: %v", path, err)
		}
	}()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Properties{}, fmt.Errorf("failed to read image header %s: %w", path, err)
	}
	return Properties{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Grayscale: cfg.ColorModel == color.GrayModel || cfg.ColorModel == color.Gray16Model,
	}, nil
}

// FilenameTags matches the words of a file's base name against the keyword
// tables. Separators (_ - .) split words and only words of three or more
// letters count.
func FilenameTags(filename string) []string {
	name := strings.ToLower(strings.TrimSuffix(filename, filepath.Ext(filename)))
	name = separators.ReplaceAllString(name, " ")

	var tags []string
	for _, word := range wordRe.FindAllString(name, -1) {
		if keyword(word) {
			tags = append(tags, word)
		} else if artworkWords[word] {
			tags = append(tags, "artwork")
		}
	}
	for _, p := range phrases {
		if strings.Contains(name, p.phrase) {
			tags = append(tags, p.tags...)
		}
	}
	return tags
}

func keyword(word string) bool {
	for _, s := range keywordSets {
		if s[word] {
			return true
		}
	}
	return false
}

// PropertyTags derives format, resolution and color tags.
func PropertyTags(p Properties) []string {
	if p.Width <= 0 || p.Height <= 0 {
		return nil
	}

	var tags []string
	aspect := float64(p.Width) / float64(p.Height)
	switch {
	case aspect > 1.5:
		tags = append(tags, "landscape_format")
	case aspect < 0.7:
		tags = append(tags, "portrait_format")
	default:
		tags = append(tags, "square_format")
	}

	pixels := p.Width * p.Height
	switch {
	case pixels > 2_000_000:
		tags = append(tags, "high_resolution")
	case pixels < 500_000:
		tags = append(tags, "low_resolution")
	}

	if p.Grayscale {
		tags = append(tags, "monochrome")
	} else {
		tags = append(tags, "color")
	}
	return tags
}

// Tagger produces heuristic tags from a file name and image header.
type Tagger struct {
	maxTags int
}

func New() *Tagger {
	return &Tagger{maxTags: MaxTags}
}

// Tags returns up to MaxTags unique tags for the image at path. An
// unreadable header only drops the property tags.
func (t *Tagger) Tags(path string) []string {
	filename := filepath.Base(path)
	tags := FilenameTags(filename)

	props, err := Analyze(path)
	if err != nil {
		logging.Debug("Tagger: %v", err)
	} else {
		tags = append(tags, PropertyTags(props)...)
	}

	if aiGenerated(filename) {
		tags = append(tags, "ai_generated")
	}

	tags = unique(tags)
	if len(tags) > t.maxTags {
		tags = tags[:t.maxTags]
	}
	logging.Debug("Tagger: %d tags for %s: %v", len(tags), filename, tags)
	return tags
}

func aiGenerated(filename string) bool {
	lower := strings.ToLower(filename)
	for _, token := range tokenRe.FindAllString(lower, -1) {
		if token == "ai" {
			return true
		}
	}
	for _, marker := range aiMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func unique(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
