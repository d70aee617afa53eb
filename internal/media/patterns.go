package media

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoExtPattern = regexp.MustCompile(`(?i)\.(mp4|webm|ogg|mov|avi|m3u8|mpd)(\?|#|$)`)
	imageExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|avif|svg|bmp|ico)(\?|#|$)`)
)

var videoPathSegments = []string{"/video/", "/stream/", "/media/"}

// platformFragments identify well-known video delivery endpoints.
var platformFragments = []string{
	"googlevideo.com/videoplayback",
	"/manifest/dash/",
	"vimeocdn.com",
	"player.vimeo.com/video",
	"youtube.com/embed",
	"youtube-nocookie.com/embed",
}

var manifestContentTypes = []string{
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"audio/mpegurl",
	"application/dash+xml",
}

// HasVideoExtension reports whether the URL path ends in a known video or
// streaming-manifest extension.
func HasVideoExtension(raw string) bool {
	return videoExtPattern.MatchString(raw)
}

// IsVideoURL applies the URL half of the video pattern set: a video file
// extension, a platform fragment or a video path segment. An image extension
// on the path rules out everything but a video extension, so CDN thumbnails
// stay images.
func IsVideoURL(raw string) bool {
	lower := strings.ToLower(raw)
	if HasVideoExtension(lower) {
		return true
	}
	if imageExtPattern.MatchString(stripQuery(lower)) {
		return false
	}
	for _, frag := range platformFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	for _, seg := range videoPathSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}

// IsEmbedURL reports whether the URL points at an embeddable player.
func IsEmbedURL(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "/embed/")
}

// IsVideoContentType matches video MIME types and streaming manifests.
func IsVideoContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return false
	}
	if strings.HasPrefix(ct, "video/") {
		return true
	}
	for _, m := range manifestContentTypes {
		if strings.HasPrefix(ct, m) {
			return true
		}
	}
	return false
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
