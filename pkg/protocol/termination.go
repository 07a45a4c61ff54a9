package protocol

import (
	"context"
	"fmt"
	"net/http"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
)

// Termination lets clients remove uploads with DELETE.
func Termination() Extension {
	return Extension{
		Name:    ExtensionTermination,
		Methods: []string{http.MethodDelete},
		Handlers: []Handler{
			terminationHandler{methods{http.MethodDelete}},
			advertise("termination"),
		},
	}
}

type terminationHandler struct {
	methods
}

func (terminationHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if err := store.Terminate(ctx, info); err != nil {
		return nil, fmt.Errorf("terminate upload %s: %w", info.ID, err)
	}
	resp.SetStatus(http.StatusNoContent)
	logger.Ctx(ctx).Info().Str("upload_id", info.ID.String()).Msg("upload terminated")
	return Next{}, nil
}

func (terminationHandler) Type() string {
	return "TerminationHandler"
}
