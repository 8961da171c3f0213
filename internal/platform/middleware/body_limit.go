package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

var sizeSuffixes = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"G", 1 << 30},
	{"MB", 1 << 20},
	{"M", 1 << 20},
	{"KB", 1 << 10},
	{"K", 1 << 10},
}

const defaultBodyLimit = 1 << 20

// BodyLimit caps the request body size. The cap is given as a size string
// such as "1M", "512K" or a plain byte count. Requests over the cap get 413.
// Bodies without a Content-Length header are still enforced while the
// handler reads them.
func BodyLimit(maxSize string) echo.MiddlewareFunc {
	limit := parseLimit(maxSize)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds the %d byte limit", limit),
				})
			}

			req.Body = &cappedBody{inner: req.Body, left: limit}
			return next(c)
		}
	}
}

// cappedBody fails the read once more than the allowed number of bytes
// has come off the wire, covering chunked requests with no Content-Length.
type cappedBody struct {
	inner io.ReadCloser
	left  int64
	blown bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.blown {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if max := b.left + 1; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := b.inner.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.blown = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.inner.Close() }

// parseLimit turns a size string ("1M", "512K", "1024") into bytes.
// Anything unparseable falls back to 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return defaultBodyLimit
	}

	var factor int64 = 1
	for _, suf := range sizeSuffixes {
		if strings.HasSuffix(s, suf.suffix) {
			factor = suf.factor
			s = strings.TrimSuffix(s, suf.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return defaultBodyLimit
	}
	return n * factor
}
