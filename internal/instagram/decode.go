package instagram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which response shape a page was decoded from.
type Kind int

const (
	// KindEmpty means the response carried no usable media.
	KindEmpty Kind = iota
	// KindSections is the hashtag "sections" layout.
	KindSections
	// KindMediaGrid is the general search "media_grid" layout.
	KindMediaGrid
	// KindItems is a flat "items" list.
	KindItems
)

func (k Kind) String() string {
	switch k {
	case KindSections:
		return "sections"
	case KindMediaGrid:
		return "media_grid"
	case KindItems:
		return "items"
	default:
		return "empty"
	}
}

// Page is one decoded search response.
type Page struct {
	Kind Kind
	// Media holds raw entries in response order, before carousel expansion
	// and video filtering.
	Media     []Media
	NextMaxID string
	HasMore   bool
	RankToken string

	sectionsEmpty bool
}

// HasNext reports whether another page should be requested.
func (p Page) HasNext() bool {
	return p.HasMore || p.NextMaxID != ""
}

// Media is the tolerant view of a platform media object. Wrapper objects of
// the form {"media": {...}, "user": {...}} decode into the same type with
// Inner set.
type Media struct {
	ID            flexString     `json:"id"`
	PK            flexString     `json:"pk"`
	Code          string         `json:"code"`
	Shortcode     string         `json:"shortcode"`
	MediaType     flexInt        `json:"media_type"`
	ProductType   string         `json:"product_type"`
	VideoVersions []videoVersion `json:"video_versions"`
	VideoURL      string         `json:"video_url"`
	VideoDuration float64        `json:"video_duration"`

	TakenAt     flexInt `json:"taken_at"`
	CreatedTime flexInt `json:"created_time"`

	Caption     *caption `json:"caption"`
	CaptionText string   `json:"caption_text"`

	LikeCount    flexInt   `json:"like_count"`
	Likes        *counter  `json:"likes"`
	CommentCount flexInt   `json:"comment_count"`
	Comments     *counter  `json:"comments"`
	Location     *location `json:"location"`

	PlayCount      flexInt `json:"play_count"`
	ViewCount      flexInt `json:"view_count"`
	ReelViewCount  flexInt `json:"reel_view_count"`
	VideoViewCount flexInt `json:"video_view_count"`
	ViewsCount     flexInt `json:"views_count"`
	VideoPlayCount flexInt `json:"video_play_count"`

	ImageVersions2 *imageVersions `json:"image_versions2"`
	ThumbnailSrc   string         `json:"thumbnail_src"`
	DisplayURL     string         `json:"display_url"`

	User          *User   `json:"user"`
	CarouselMedia []Media `json:"carousel_media"`

	Inner *Media `json:"media"`
}

// User is the media owner as returned by the platform.
type User struct {
	ID                flexString `json:"id"`
	PK                flexString `json:"pk"`
	UserID            flexString `json:"user_id"`
	Username          string     `json:"username"`
	FullName          string     `json:"full_name"`
	ProfilePicURL     string     `json:"profile_pic_url"`
	ProfilePictureURL string     `json:"profile_picture_url"`
	IsVerified        bool       `json:"is_verified"`
}

type videoVersion struct {
	URL string `json:"url"`
}

type caption struct {
	Text string `json:"text"`
}

type counter struct {
	Count flexInt `json:"count"`
}

type location struct {
	Name    string `json:"name"`
	City    string `json:"city"`
	Address string `json:"address"`
}

type imageVersions struct {
	Candidates []struct {
		URL string `json:"url"`
	} `json:"candidates"`
}

type section struct {
	LayoutContent *struct {
		Medias       []Media `json:"medias"`
		TwoByTwoItem *struct {
			Media *Media `json:"media"`
		} `json:"two_by_two_item"`
	} `json:"layout_content"`
	Media *Media  `json:"media"`
	Items []Media `json:"items"`
}

type mediaGrid struct {
	Sections  []section  `json:"sections"`
	NextMaxID flexString `json:"next_max_id"`
	HasMore   bool       `json:"has_more"`
}

type envelope struct {
	Sections  []section       `json:"sections"`
	MediaGrid json.RawMessage `json:"media_grid"`
	Items     []Media         `json:"items"`
	NextMaxID flexString      `json:"next_max_id"`
	HasMore   bool            `json:"has_more"`
	RankToken string          `json:"rank_token"`
}

// Decode parses any of the known search response shapes. Unknown or empty
// shapes produce a KindEmpty page and no error; only malformed JSON fails.
func Decode(body []byte) (Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Page{Kind: KindEmpty}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, fmt.Errorf("decode search response: %w", err)
	}

	page := Page{
		NextMaxID: string(env.NextMaxID),
		HasMore:   env.HasMore,
		RankToken: env.RankToken,

		sectionsEmpty: env.Sections != nil && len(env.Sections) == 0,
	}

	if len(env.Sections) > 0 {
		page.Kind = KindSections
		page.Media = append(page.Media, fromSections(env.Sections, true)...)
	}

	grid, gridItems, err := decodeGrid(env.MediaGrid)
	if err != nil {
		return Page{}, err
	}
	if grid != nil {
		if page.NextMaxID == "" {
			page.NextMaxID = string(grid.NextMaxID)
		}
		page.HasMore = page.HasMore || grid.HasMore
	}
	if len(gridItems) > 0 || (grid != nil && len(grid.Sections) > 0) {
		if page.Kind == KindEmpty {
			page.Kind = KindMediaGrid
		}
		page.Media = append(page.Media, gridItems...)
	}

	if len(page.Media) == 0 && len(env.Items) > 0 {
		page.Media = env.Items
		if page.Kind == KindEmpty {
			page.Kind = KindItems
		}
	}

	return page, nil
}

func decodeGrid(raw json.RawMessage) (*mediaGrid, []Media, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}

	if raw[0] == '[' {
		var items []Media
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, fmt.Errorf("decode media grid: %w", err)
		}
		return nil, items, nil
	}

	var grid mediaGrid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return nil, nil, fmt.Errorf("decode media grid: %w", err)
	}
	return &grid, fromSections(grid.Sections, false), nil
}

// fromSections flattens section layouts. Grid sections only carry
// layout_content.medias; hashtag sections may use any of the known shapes.
func fromSections(sections []section, allShapes bool) []Media {
	var out []Media
	for _, s := range sections {
		if s.LayoutContent != nil && s.LayoutContent.Medias != nil {
			for _, item := range s.LayoutContent.Medias {
				if item.Inner != nil {
					out = append(out, *item.Inner)
					continue
				}
				out = append(out, item)
			}
			continue
		}
		if !allShapes {
			continue
		}

		switch {
		case s.LayoutContent != nil && s.LayoutContent.TwoByTwoItem != nil && s.LayoutContent.TwoByTwoItem.Media != nil:
			out = append(out, *s.LayoutContent.TwoByTwoItem.Media)
		case s.Media != nil:
			out = append(out, *s.Media)
		case s.Items != nil:
			out = append(out, s.Items...)
		}
	}
	return out
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts integers, floats and numeric strings; anything else is 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(i)
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int64(fl))
		return nil
	}
	*f = 0
	return nil
}
