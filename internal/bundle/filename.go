package bundle

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

const defaultExt = "jpg"

// EntryName derives the archive entry name for one image. The URL's last path
// segment wins when it carries an extension; otherwise the name is
// <keyword>_<index>.<mime subtype>, where keyword falls back from the row's
// keyword to the requested keyword to "image".
func EntryName(rawURL, contentType, rowKeyword, requestKeyword string, index int) string {
	if seg := lastSegment(rawURL); strings.Contains(seg, ".") {
		return seg
	}
	prefix := firstNonEmpty(rowKeyword, requestKeyword, "image")
	return fmt.Sprintf("%s_%d.%s", sanitize(prefix), index, extension(contentType))
}

func lastSegment(rawURL string) string {
	s := rawURL
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if u, err := url.Parse(s); err == nil && (u.Scheme != "" || u.Host != "") {
		s = u.Path
	}
	seg := path.Base(strings.TrimRight(s, "/"))
	if seg == "/" || strings.Contains(seg, ":") {
		return ""
	}
	// Dot segments and bare extensions have no usable stem.
	if strings.Trim(seg, ".") == "" || strings.TrimSuffix(seg, path.Ext(seg)) == "" {
		return ""
	}
	return sanitize(seg)
}

// extension returns the subtype of contentType with parameters stripped.
func extension(contentType string) string {
	if contentType == "" {
		return defaultExt
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" || sub == "*" {
		return defaultExt
	}
	return sanitize(sub)
}

// sanitize keeps entry names flat inside the archive.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
}

// dedupe returns name, or name with a _<n> suffix before the extension if it is already taken.
func dedupe(name string, used map[string]struct{}) string {
	if _, taken := used[name]; !taken {
		used[name] = struct{}{}
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
