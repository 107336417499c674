// Package media holds the playable item model, query resolution and the
// on-disk audio cache.
package media

import "regexp"

const watchURLPrefix = "https://www.youtube.com/watch?v="

// Item is an immutable playable unit.
type Item struct {
	ID        string
	Title     string
	SourceURL string
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a cache file name.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// WatchURL returns the canonical source URL for a video id.
func WatchURL(id string) string {
	return watchURLPrefix + id
}

// NewItem builds an item with the canonical source URL.
func NewItem(id, title string) Item {
	return Item{ID: id, Title: title, SourceURL: WatchURL(id)}
}

func (i Item) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return "YouTube Track (" + i.ID + ")"
}
