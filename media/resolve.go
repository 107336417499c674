package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

var (
	ErrNoResults = errors.New("no results found")
	ErrNotVideo  = errors.New("could not find that video")
)

var watchIDRegex = regexp.MustCompile(`[?&]v=([^&#]+)`)

// ExtractVideoID recognises youtube.com/watch?v=<id> and youtu.be/<id>
// links. Trailing query parameters are discarded.
func ExtractVideoID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, "youtube.com/watch") {
		m := watchIDRegex.FindStringSubmatch(raw)
		if len(m) < 2 || !ValidID(m[1]) {
			return "", false
		}
		return m[1], true
	}

	if _, rest, ok := strings.Cut(raw, "youtu.be/"); ok {
		id, _, _ := strings.Cut(rest, "?")
		id, _, _ = strings.Cut(id, "#")
		id = strings.TrimSuffix(id, "/")
		if !ValidID(id) {
			return "", false
		}
		return id, true
	}

	return "", false
}

// IsURL reports whether the query is one of the recognised link shapes.
func IsURL(q string) bool {
	_, ok := ExtractVideoID(q)
	return ok
}

// CommandFactory returns a preconfigured yt-dlp command.
type CommandFactory func() *ytdlp.Command

// Resolver turns a user query (link or free text) into an Item.
type Resolver struct {
	log    *slog.Logger
	newCmd CommandFactory

	lookupTitle func(ctx context.Context, id string) (string, error)
	searchText  func(ctx context.Context, q string) (Item, error)
}

func NewResolver(log *slog.Logger, newCmd CommandFactory) *Resolver {
	if newCmd == nil {
		newCmd = func() *ytdlp.Command { return ytdlp.New().NoWarnings().IgnoreConfig() }
	}
	r := &Resolver{log: log, newCmd: newCmd}
	r.lookupTitle = r.fetchTitle
	r.searchText = r.search
	return r
}

// Resolve maps a link straight to its id, otherwise searches.
func (r *Resolver) Resolve(ctx context.Context, query string) (Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Item{}, ErrNoResults
	}

	if id, ok := ExtractVideoID(query); ok {
		title, err := r.lookupTitle(ctx, id)
		if err != nil {
			r.log.Warn("Title lookup failed", "id", id, "error", err)
			return Item{}, fmt.Errorf("%w: %v", ErrNotVideo, err)
		}
		return NewItem(id, title), nil
	}

	// Links that carry no video id are searched like any other text.
	return r.searchText(ctx, query)
}

func (r *Resolver) fetchTitle(ctx context.Context, id string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if res, err := ytsearch.NewClient(nil).Search(lookupCtx, id); err == nil {
		for _, v := range res.Results {
			if v.VideoID == id && v.Title != "" {
				return v.Title, nil
			}
		}
	}

	out, err := r.newCmd().
		Print("%(title)s").
		Run(ctx, "--skip-download", WatchURL(id))
	if err != nil {
		if out != nil && out.Stderr != "" {
			return "", fmt.Errorf("%w: %s", err, lastLine(out.Stderr))
		}
		return "", err
	}

	title := strings.TrimSpace(out.Stdout)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if title == "" {
		return "", ErrNotVideo
	}
	return title, nil
}

// search tries YouTube Music first, then YouTube, then yt-dlp's own search.
func (r *Resolver) search(ctx context.Context, q string) (Item, error) {
	searchCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	if item, ok := r.searchMusic(searchCtx, q); ok {
		return item, nil
	}

	if res, err := ytsearch.NewClient(nil).Search(searchCtx, q); err == nil {
		for _, v := range res.Results {
			if ValidID(v.VideoID) {
				return NewItem(v.VideoID, v.Title), nil
			}
		}
	} else {
		r.log.Debug("YouTube search failed", "query", q, "error", err)
	}

	out, err := r.newCmd().
		FlatPlaylist().
		Print("%(id)s\t%(title)s").
		Run(searchCtx, "ytsearch1:"+q)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrNoResults, err)
	}
	for _, l := range strings.Split(strings.TrimSpace(out.Stdout), "\n") {
		id, title, _ := strings.Cut(l, "\t")
		if ValidID(id) {
			return NewItem(id, title), nil
		}
	}
	return Item{}, ErrNoResults
}

func (r *Resolver) searchMusic(ctx context.Context, q string) (Item, bool) {
	type result struct {
		item Item
		ok   bool
	}
	ch := make(chan result, 1)

	go func() {
		res, err := ytmusic.TrackSearch(q).Next()
		if err != nil || res == nil {
			ch <- result{}
			return
		}
		for _, v := range res.Tracks {
			if !ValidID(v.VideoID) {
				continue
			}
			title := v.Title
			if len(v.Artists) > 0 {
				title += " - " + v.Artists[0].Name
			}
			ch <- result{NewItem(v.VideoID, title), true}
			return
		}
		ch <- result{}
	}()

	select {
	case res := <-ch:
		return res.item, res.ok
	case <-ctx.Done():
		return Item{}, false
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
