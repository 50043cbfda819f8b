package indexer

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	digitsOnly   = regexp.MustCompile(`^\d+$`)
	isoDate      = regexp.MustCompile(`^\d{4} \d{2} \d{2}$`)
	hexLike      = regexp.MustCompile(`^[0-9A-F]{2,6}$`)
	counterLike  = regexp.MustCompile(`^[0-9]+[A-F]+[0-9]*$`)
	cameraFolder = map[string]bool{"DCIM": true, "IMG": true, "DSC": true, "PIC": true, "PHOTO": true, "PHOTOS": true}
)

// FolderCategories turns the directories between root and path into
// category names. Organizational folders (numbers, dates, camera counters,
// names of two characters or fewer) are dropped.
func FolderCategories(root, path string) []string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return nil
	}

	var names []string
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		if name, ok := categoryName(part); ok {
			names = append(names, name)
		}
	}
	return names
}

func categoryName(folder string) (string, bool) {
	if folder == "" || folder == "." {
		return "", false
	}
	name := titleCase(strings.NewReplacer("_", " ", "-", " ").Replace(folder))
	compact := strings.ToUpper(strings.ReplaceAll(name, " ", ""))

	switch {
	case digitsOnly.MatchString(name),
		isoDate.MatchString(name),
		hexLike.MatchString(compact),
		counterLike.MatchString(compact),
		len(compact) <= 2,
		cameraFolder[compact]:
		return "", false
	}
	return name, true
}

// titleCase upper-cases the first letter of each letter run and lower-cases
// the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r > 127
		switch {
		case isLetter && !prevLetter:
			b.WriteString(strings.ToUpper(string(r)))
		case isLetter:
			b.WriteString(strings.ToLower(string(r)))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
