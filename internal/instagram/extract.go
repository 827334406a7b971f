package instagram

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/reelscout/backend/internal/models"
)

const (
	mediaTypePhoto    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8

	productClips    = "clips"
	productCarousel = "carousel_container"
	unknownUsername = "unknown"
	reelURLPrefix   = "https://www.instagram.com/reel/"
)

// ExtractCandidates expands carousels, keeps video entries and normalizes them
// into candidates, preserving response order.
func ExtractCandidates(page Page, now time.Time) []models.VideoCandidate {
	switch page.Kind {
	case KindEmpty:
		return nil
	case KindSections, KindMediaGrid, KindItems:
	}

	var out []models.VideoCandidate
	for _, entry := range expandCarousels(page.Media) {
		media, wrapperUser := resolve(entry)
		if media == nil || !isVideo(media) {
			continue
		}
		out = append(out, toCandidate(media, wrapperUser, now))
	}
	return out
}

// resolve unwraps up to two levels of {"media": ...} nesting and returns the
// wrapper's user for owners missing on the media itself.
func resolve(entry Media) (*Media, *User) {
	media := &entry
	wrapperUser := entry.User
	if media.Inner != nil {
		media = media.Inner
	}
	if media.Inner != nil {
		media = media.Inner
	}
	return media, wrapperUser
}

func isCarousel(m *Media) bool {
	return m.MediaType == mediaTypeCarousel || m.ProductType == productCarousel
}

// expandCarousels replaces every carousel with one copy of the parent per
// video child. The child's video fields and identifiers override the parent's.
func expandCarousels(entries []Media) []Media {
	out := make([]Media, 0, len(entries))
	for _, entry := range entries {
		media, wrapperUser := resolve(entry)
		if media == nil || !isCarousel(media) || media.CarouselMedia == nil {
			out = append(out, entry)
			continue
		}

		for _, child := range media.CarouselMedia {
			if child.MediaType != mediaTypeVideo && child.ProductType != productClips && child.VideoVersions == nil {
				continue
			}

			copyMedia := *media
			copyMedia.Inner = nil
			copyMedia.CarouselMedia = nil
			copyMedia.MediaType = child.MediaType
			copyMedia.ProductType = child.ProductType
			copyMedia.VideoVersions = child.VideoVersions
			copyMedia.VideoURL = child.VideoURL
			copyMedia.VideoDuration = child.VideoDuration
			if child.Code != "" {
				copyMedia.Code = child.Code
			}
			if child.ID != "" || child.PK != "" {
				copyMedia.ID = child.ID
				copyMedia.PK = flexString(firstString(string(child.PK), string(media.PK)))
			}
			if copyMedia.User == nil {
				copyMedia.User = wrapperUser
			}
			out = append(out, copyMedia)
		}
	}
	return out
}

// isVideo rejects photos and unexpanded carousels, then accepts anything
// carrying a video flag, URL or duration.
func isVideo(m *Media) bool {
	if m.MediaType == mediaTypePhoto || isCarousel(m) {
		return false
	}
	return m.MediaType == mediaTypeVideo ||
		m.ProductType == productClips ||
		m.VideoVersions != nil ||
		m.VideoURL != "" ||
		m.VideoDuration > 0
}

func toCandidate(m *Media, wrapperUser *User, now time.Time) models.VideoCandidate {
	created := now
	if ts := firstInt(m.TakenAt, m.CreatedTime); ts > 0 {
		created = time.Unix(ts, 0).UTC()
	}

	captionText := m.CaptionText
	if m.Caption != nil && m.Caption.Text != "" {
		captionText = m.Caption.Text
	}

	likes := int64(m.LikeCount)
	if likes == 0 && m.Likes != nil {
		likes = int64(m.Likes.Count)
	}
	comments := int64(m.CommentCount)
	if comments == 0 && m.Comments != nil {
		comments = int64(m.Comments.Count)
	}

	shortcode := firstString(m.Code, m.Shortcode)
	var postURL string
	if shortcode != "" {
		postURL = reelURLPrefix + shortcode + "/"
	}

	var videoURL string
	if len(m.VideoVersions) > 0 {
		videoURL = m.VideoVersions[0].URL
	}
	videoURL = firstString(videoURL, m.VideoURL)

	var preview string
	if m.ImageVersions2 != nil && len(m.ImageVersions2.Candidates) > 0 {
		preview = m.ImageVersions2.Candidates[0].URL
	}
	preview = firstString(preview, m.ThumbnailSrc, m.DisplayURL)

	views := firstInt(m.PlayCount, m.ViewCount, m.ReelViewCount, m.VideoViewCount, m.ViewsCount, m.VideoPlayCount)

	var loc string
	if m.Location != nil {
		loc = firstString(m.Location.Name, m.Location.City, m.Location.Address)
	}

	user := m.User
	if user == nil {
		user = wrapperUser
	}
	owner := models.Owner{Username: unknownUsername}
	if user != nil {
		owner = models.Owner{
			ID:            firstString(string(user.ID), string(user.PK), string(user.UserID)),
			Username:      firstString(user.Username, unknownUsername),
			FullName:      user.FullName,
			ProfilePicURL: firstString(user.ProfilePicURL, user.ProfilePictureURL),
			IsVerified:    user.IsVerified,
		}
	}

	return models.VideoCandidate{
		PlatformID: firstString(string(m.ID), string(m.PK), shortcode),
		Shortcode:  shortcode,
		URL:        postURL,
		VideoURL:   videoURL,
		PreviewURL: preview,
		Owner:      owner,
		Caption:    captionText,
		Location:   loc,
		Views:      views,
		Likes:      likes,
		Comments:   comments,
		CreatedAt:  created,
	}
}

// HasOwner reports whether the candidate's author was resolved.
func HasOwner(c models.VideoCandidate) bool {
	return c.Owner.Username != "" && c.Owner.Username != unknownUsername
}

// Dedupe drops candidates whose identity was already seen, keeping the first
// occurrence. Identity is the platform id, then the post URL, then the video URL.
func Dedupe(candidates []models.VideoCandidate) []models.VideoCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.VideoCandidate, 0, len(candidates))
	for _, c := range candidates {
		keys := identityKeys(c)
		duplicate := false
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}

func identityKeys(c models.VideoCandidate) []string {
	var keys []string
	if c.PlatformID != "" {
		keys = append(keys, "id:"+c.PlatformID)
	}
	if c.URL != "" {
		keys = append(keys, "url:"+strings.TrimSuffix(c.URL, "/"))
	}
	if c.VideoURL != "" {
		keys = append(keys, "video:"+c.VideoURL)
	}
	return keys
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...flexInt) int64 {
	for _, v := range values {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}

// mediaIDFromShortcode is used when only a shortcode is known. Shortcodes
// that do not fit in 64 bits (private posts) yield "".
func mediaIDFromShortcode(code string) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	var id uint64
	for _, r := range code {
		idx := strings.IndexRune(alphabet, r)
		if idx < 0 {
			return ""
		}
		if id > (math.MaxUint64-uint64(idx))/64 {
			return ""
		}
		id = id*64 + uint64(idx)
	}
	return strconv.FormatUint(id, 10)
}
