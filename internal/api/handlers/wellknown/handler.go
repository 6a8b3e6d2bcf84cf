// Package wellknown serves the AppView's identity document. A did:web
// service is resolved by fetching /.well-known/did.json from its
// origin, so this is what makes our service tokens verifiable.
package wellknown

import (
	"net/http"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"Skyview/internal/api/handlers"
	"Skyview/internal/atproto/did"
	"Skyview/internal/atproto/identity"
)

type Handler struct {
	doc *identity.DIDDocument
}

// NewHandler builds the handler for a did:web AppView identity.
// Returns an error for non-web DIDs, which cannot be served from here.
func NewHandler(appviewDID string, pub *secp256k1.PublicKey) (*Handler, error) {
	doc, err := did.WebDocument(appviewDID, pub)
	if err != nil {
		return nil, err
	}
	return &Handler{doc: doc}, nil
}

// HandleDIDDocument handles GET /.well-known/did.json. The document is
// assembled once at startup; key rotation means a restart.
func (h *Handler) HandleDIDDocument(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, h.doc)
}
