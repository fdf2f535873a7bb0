package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"supportdesk/pkg/types"
)

const routeUploadImage = "/api/upload/image"

var ErrEmptyUpload = errors.New("gateway: upload returned no url")

// UploadImage sends content as the multipart field "file" and returns the stored URL.
// The body is streamed, so content is read while the request is in flight.
func (c *Client) UploadImage(ctx context.Context, filename string, content io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var out types.Upload
	err := c.send(ctx, http.MethodPost, routeUploadImage, routeUploadImage, nil, pr, mw.FormDataContentType(), &out)
	// Unblock the writer if the request failed before draining the pipe.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%s: %w", routeUploadImage, ErrEmptyUpload)
	}
	return out.URL, nil
}
