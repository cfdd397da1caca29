package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:3000/"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "https://khojum.example/deals", Width: 800, Height: 600, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestNormalizeRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "file:///etc/passwd", "127.0.0.1:3000", "http://"} {
		o := Options{URL: raw}
		assert.Error(t, o.normalize(), raw)
	}
}

func TestTasks(t *testing.T) {
	var png []byte
	o := Options{URL: "http://127.0.0.1:3000/"}
	require.NoError(t, o.normalize())
	assert.Len(t, o.tasks(&png), 5)
}

func TestCapturePagePNGValidatesFirst(t *testing.T) {
	_, err := CapturePagePNG(context.Background(), Options{})
	assert.EqualError(t, err, "capture: URL is required")
}
