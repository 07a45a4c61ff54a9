package protocol

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
)

// Expiration stamps uploads with an expiry on every POST and PATCH when the
// storage has an expiration period configured.
func Expiration() Extension {
	return Extension{
		Name: ExtensionExpiration,
		Handlers: []Handler{
			expirationHandler{methods: methods{http.MethodPost, http.MethodPatch}, now: time.Now},
			advertise("expiration"),
		},
	}
}

type expirationHandler struct {
	methods
	now func() time.Time
}

func (h expirationHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	period := store.ExpirationPeriod()
	if period <= 0 {
		return Next{}, nil
	}

	uri := req.URI()
	if req.Method() == http.MethodPost {
		uri = resp.Header().Get(HeaderLocation)
	}
	info, found, err := lookup(ctx, store, uri, ownerKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return Next{}, nil
	}

	info.ExpiresAt = h.now().Add(period)
	if err := store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("set expiration of upload %s: %w", info.ID, err)
	}
	resp.SetHeader(HeaderUploadExpires, info.ExpiresAt.UTC().Format(http.TimeFormat))
	return Next{}, nil
}

func (expirationHandler) Type() string {
	return "ExpirationHandler"
}
