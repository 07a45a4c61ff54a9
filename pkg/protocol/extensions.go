package protocol

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/concat"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
)

const (
	ExtensionCore          = "core"
	ExtensionCreation      = "creation"
	ExtensionConcatenation = "concatenation"
	ExtensionChecksum      = "checksum"
	ExtensionExpiration    = "expiration"
	ExtensionTermination   = "termination"
	ExtensionDownload      = "download"
)

// DefaultExtensions is the order extensions are enabled in when none are configured.
var DefaultExtensions = []string{
	ExtensionCreation,
	ExtensionConcatenation,
	ExtensionChecksum,
	ExtensionExpiration,
	ExtensionTermination,
	ExtensionDownload,
}

// ExtensionsByName builds the named extensions in order. merger backs the
// concatenation and download extensions.
func ExtensionsByName(names []string, merger *concat.Service) ([]Extension, error) {
	exts := make([]Extension, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case ExtensionCore:
			exts = append(exts, Core())
		case ExtensionCreation:
			exts = append(exts, Creation())
		case ExtensionConcatenation:
			if merger == nil {
				return nil, fmt.Errorf("extension %q requires a concatenation service", name)
			}
			exts = append(exts, Concatenation(merger))
		case ExtensionChecksum:
			exts = append(exts, Checksum())
		case ExtensionExpiration:
			exts = append(exts, Expiration())
		case ExtensionTermination:
			exts = append(exts, Termination())
		case ExtensionDownload:
			exts = append(exts, Download(merger))
		default:
			return nil, fmt.Errorf("unknown extension %q", raw)
		}
	}
	return exts, nil
}

// advertiseHandler lists extension names in Tus-Extension on OPTIONS.
type advertiseHandler struct {
	names string
}

func advertise(names ...string) advertiseHandler {
	return advertiseHandler{names: strings.Join(names, ",")}
}

func (advertiseHandler) Supports(method string) bool {
	return method == http.MethodOptions
}

func (h advertiseHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	resp.AppendHeader(HeaderTusExtension, h.names)
	return Next{}, nil
}

func (advertiseHandler) Type() string {
	return "AdvertiseHandler"
}
