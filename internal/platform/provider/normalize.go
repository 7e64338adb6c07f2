package provider

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/pixelrise/enhance-api/internal/domain"
)

// videoExtensions is the fixed set of file extensions classified as video.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".m4v":  true,
}

// outputObject is the object shape some provider workflows emit per output.
type outputObject struct {
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
}

// NormalizeOutputs converts the provider's heterogeneous output payload into
// a uniform list of media items.
//
// Accepted shapes: a bare URL string, an array of strings, an array of
// {url, kind} objects, or any mix of the latter two. Entries without a
// usable URL are dropped. Empty or malformed input yields an empty list;
// this function never fails.
func NormalizeOutputs(raw json.RawMessage) []domain.MediaItem {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if item, ok := toMediaItem(single, ""); ok {
			return []domain.MediaItem{item}
		}
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}

	items := make([]domain.MediaItem, 0, len(elements))
	for _, element := range elements {
		var s string
		if err := json.Unmarshal(element, &s); err == nil {
			if item, ok := toMediaItem(s, ""); ok {
				items = append(items, item)
			}
			continue
		}

		var obj outputObject
		if err := json.Unmarshal(element, &obj); err == nil {
			if item, ok := toMediaItem(obj.URL, obj.Kind); ok {
				items = append(items, item)
			}
		}
	}

	if len(items) == 0 {
		return nil
	}
	return items
}

// toMediaItem builds a media item from a URL and an optional explicit kind,
// inferring the kind from the URL extension when the hint is absent or
// unrecognized.
func toMediaItem(rawURL, kindHint string) (domain.MediaItem, bool) {
	if strings.TrimSpace(rawURL) == "" {
		return domain.MediaItem{}, false
	}

	switch domain.MediaKind(kindHint) {
	case domain.MediaKindImage, domain.MediaKindVideo:
		return domain.MediaItem{URL: rawURL, Kind: domain.MediaKind(kindHint)}, true
	}

	return domain.MediaItem{URL: rawURL, Kind: inferKind(rawURL)}, true
}

// inferKind classifies a URL by file extension against the fixed video set;
// everything else is an image.
func inferKind(rawURL string) domain.MediaKind {
	candidate := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		candidate = parsed.Path
	}

	ext := strings.ToLower(path.Ext(candidate))
	if videoExtensions[ext] {
		return domain.MediaKindVideo
	}
	return domain.MediaKindImage
}
