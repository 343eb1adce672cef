package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request bodies at def bytes, or at byPrefix[p] for paths
// starting with p (longest prefix wins). Utterances and actions are small;
// scribe routes carry whole encounter transcripts.
//
// Oversized bodies get 413 whether the size is declared up front or only
// discovered while the handler reads, so a handler that maps its bind error
// to 400 is still answered with 413.
func BodyLimit(def int64, byPrefix map[string]int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			limit := def
			if n, ok := longestPrefix(byPrefix, req.URL.Path); ok {
				limit = n
			}
			if req.ContentLength > limit {
				return tooLarge(c, limit)
			}

			body := &cappedBody{ReadCloser: req.Body, left: limit}
			req.Body = body
			err := next(c)
			if body.tripped {
				return tooLarge(c, limit)
			}
			return err
		}
	}
}

type cappedBody struct {
	io.ReadCloser
	left    int64
	tripped bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.tripped {
		return 0, echo.ErrStatusRequestEntityTooLarge
	}
	// Read one byte past the cap so an exact-size body still reaches EOF.
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.tripped = true
		return 0, echo.ErrStatusRequestEntityTooLarge
	}
	return n, err
}

func tooLarge(c echo.Context, limit int64) error {
	return errorResponse(c, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", limit))
}

// longestPrefix returns the value whose key is the longest prefix of path.
func longestPrefix[T any](m map[string]T, path string) (T, bool) {
	var (
		best  T
		found bool
		size  = -1
	)
	for p, v := range m {
		if len(p) > size && strings.HasPrefix(path, p) {
			best, found, size = v, true, len(p)
		}
	}
	return best, found
}
