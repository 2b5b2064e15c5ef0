// Package channelid normalizes user-supplied YouTube channel identifiers.
//
// Resolve accepts a raw channel ID, a /channel/ URL, a /c/ or /user/ custom
// URL, a handle (bare or in a URL) or a bare custom name. IDs and channel
// URLs resolve immediately; the other forms need a Data API lookup, which
// this package never performs.
package channelid

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalid is returned by Resolution.Err for inputs that are not a channel reference.
var ErrInvalid = errors.New("channelid: invalid channel identifier")

// Kind is the outcome of Resolve.
type Kind int

const (
	Invalid Kind = iota
	Resolved
	NeedsResolution
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case NeedsResolution:
		return "needs_resolution"
	default:
		return "invalid"
	}
}

// Form records which input shape was recognised.
type Form string

const (
	FormID         Form = "id"
	FormChannelURL Form = "channel_url"
	FormCustomURL  Form = "custom_url"
	FormUserURL    Form = "user_url"
	FormHandle     Form = "handle"
	FormCustomName Form = "custom_name"
)

// Resolution is the result of parsing one input.
type Resolution struct {
	Kind Kind `json:"-"`
	// ChannelID is set when Kind is Resolved.
	ChannelID string `json:"channel_id,omitempty"`
	// Name is the handle (without "@") or custom name when Kind is NeedsResolution.
	Name  string `json:"name,omitempty"`
	Form  Form   `json:"form,omitempty"`
	Input string `json:"input"`
}

// Err returns nil unless the input was invalid.
func (r Resolution) Err() error {
	if r.Kind == Invalid {
		return fmt.Errorf("%w: %q", ErrInvalid, r.Input)
	}
	return nil
}

// Query is the lookup string for a NeedsResolution result: "@name" for
// handles and the bare name otherwise.
func (r Resolution) Query() string {
	if r.Form == FormHandle {
		return "@" + r.Name
	}
	return r.Name
}

var (
	channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	nameRegex      = regexp.MustCompile(`^[\p{L}\p{N}._-]{1,100}$`)
)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// IsChannelID reports whether s is a canonical channel ID.
func IsChannelID(s string) bool {
	return channelIDRegex.MatchString(s)
}

// Resolve classifies input. It performs no I/O.
func Resolve(input string) Resolution {
	res := Resolution{Input: input}
	s := strings.TrimSpace(input)
	if s == "" {
		return res
	}

	if IsChannelID(s) {
		res.Kind, res.ChannelID, res.Form = Resolved, s, FormID
		return res
	}

	if strings.HasPrefix(s, "@") {
		return needs(res, strings.TrimPrefix(s, "@"), FormHandle)
	}

	if looksLikeURL(s) {
		return resolveURL(res, s)
	}

	return needs(res, s, FormCustomName)
}

func needs(res Resolution, name string, form Form) Resolution {
	if !nameRegex.MatchString(name) {
		return res
	}
	res.Kind, res.Name, res.Form = NeedsResolution, name, form
	return res
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, "/") || strings.Contains(s, "youtube.")
}

func resolveURL(res Resolution, s string) Resolution {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || !youtubeHosts[strings.ToLower(u.Hostname())] {
		return res
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return res
	}

	switch {
	case parts[0] == "channel":
		if len(parts) < 2 || !IsChannelID(parts[1]) {
			return res
		}
		res.Kind, res.ChannelID, res.Form = Resolved, parts[1], FormChannelURL
		return res
	case parts[0] == "c":
		if len(parts) < 2 {
			return res
		}
		return needs(res, pathName(parts[1]), FormCustomURL)
	case parts[0] == "user":
		if len(parts) < 2 {
			return res
		}
		return needs(res, pathName(parts[1]), FormUserURL)
	case strings.HasPrefix(parts[0], "@"):
		return needs(res, pathName(strings.TrimPrefix(parts[0], "@")), FormHandle)
	}
	return res
}

func pathName(p string) string {
	if un, err := url.PathUnescape(p); err == nil {
		return un
	}
	return p
}
