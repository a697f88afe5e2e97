package gallery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestOverlayTransitions(t *testing.T) {
	t.Parallel()

	for _, dismiss := range []Input{EscapeKey, OutsideClick, CloseButton} {
		t.Run(dismiss.String(), func(t *testing.T) {
			t.Parallel()
			var o Overlay
			require.Equal(t, Closed, o.State())

			require.False(t, o.Dismiss(dismiss), "dismiss while closed is ignored")
			require.True(t, o.Open(catalog.ImageMetadata{ID: "a"}))
			require.Equal(t, Open, o.State())

			require.False(t, o.Open(catalog.ImageMetadata{ID: "b"}), "select while open is ignored")
			img, ok := o.Image()
			require.True(t, ok)
			require.Equal(t, "a", img.ID)

			require.True(t, o.Dismiss(dismiss))
			require.Equal(t, Closed, o.State())
			_, ok = o.Image()
			require.False(t, ok)
		})
	}
}

func TestOverlayDismissIgnoresSelect(t *testing.T) {
	t.Parallel()

	var o Overlay
	o.Open(catalog.ImageMetadata{ID: "a"})
	require.False(t, o.Dismiss(Select))
	require.Equal(t, Open, o.State())
	require.Equal(t, "open", o.State().String())
}

func TestNewDetail(t *testing.T) {
	t.Parallel()

	crawled := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	d := NewDetail(catalog.ImageMetadata{
		ID:        "img",
		URL:       "https://cdn.example.com/cat.jpg",
		SourceURL: "https://WWW.Example.com/gallery?page=2",
		AltText:   strPtr("a cat"),
		Keyword:   "cats",
		Width:     intPtr(800),
		Height:    intPtr(600),
		Format:    strPtr("jpeg"),
		CrawlDate: crawled,
		Tags:      []string{"cat"},
	})
	require.Equal(t, "example.com", d.SourceHost)
	require.Equal(t, "800x600", d.Dimensions)
	require.Equal(t, "JPEG", d.Format)
	require.Equal(t, "a cat", d.AltText)
	require.NotNil(t, d.ModelTestResults)

	bare := NewDetail(catalog.ImageMetadata{ID: "x", Width: intPtr(10)})
	require.Empty(t, bare.Dimensions)
	require.Empty(t, bare.SourceHost)
	require.Empty(t, bare.AltText)
	require.NotNil(t, bare.Tags)
}
