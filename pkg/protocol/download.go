package protocol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/concat"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// Download serves completed uploads on GET. It is not a tus extension and
// is therefore not advertised. merger may be nil; it lets a concatenated
// upload whose parts finished since the last merge be served right away.
func Download(merger *concat.Service) Extension {
	h := downloadHandler{methods: methods{http.MethodGet}}
	if merger != nil {
		h.merger = merger
	}
	return Extension{
		Name:     ExtensionDownload,
		Methods:  []string{http.MethodGet},
		Handlers: []Handler{h},
	}
}

type downloadHandler struct {
	methods
	merger interface {
		Merge(ctx context.Context, info upload.Info) (upload.Info, error)
	}
}

func (h downloadHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if info.Type == upload.TypeConcatenated && info.InProgress() && h.merger != nil {
		if info, err = h.merger.Merge(ctx, info); err != nil {
			return nil, fmt.Errorf("merge upload %s: %w", info.ID, err)
		}
	}
	if info.InProgress() {
		return nil, tuserr.Newf(tuserr.ErrUploadStillInProgress, "%d of %d bytes received.", info.Offset, info.Length)
	}

	resp.SetHeader(HeaderContentLength, strconv.FormatInt(info.Length, 10))
	resp.SetHeader(HeaderContentDisposition, contentDisposition(info.FileName()))
	resp.SetHeader(HeaderContentType, info.ContentType())
	if info.HasMetadata() {
		resp.SetHeader(HeaderUploadMetadata, info.Metadata.Encode())
	}
	resp.SetStatus(http.StatusOK)

	if err := store.CopyTo(ctx, info, resp); err != nil {
		return nil, fmt.Errorf("download upload %s: %w", info.ID, err)
	}
	return End{}, nil
}

func (downloadHandler) Type() string {
	return "DownloadHandler"
}

// contentDisposition renders an attachment disposition with both a plain
// and an RFC 5987 encoded file name.
func contentDisposition(name string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	encoded := strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, quoted, encoded)
}
