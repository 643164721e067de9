package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// envelope is the uniform response shape spec.md §7 requires: a
// success flag, an optional error with its kind, and optional data.
type envelope struct {
	Success bool        `json:"success"`
	Error   *errPayload `json:"error,omitempty"`
	Data    any         `json:"data,omitempty"`
}

type errPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeSuccess(c *gin.Context, status int) {
	c.JSON(status, envelope{Success: true})
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// writeError reports err in the envelope's error slot, using its
// Kind() when err implements types.Kinded and falling back to a
// generic kind otherwise. details, when non-nil, is attached as-is
// (e.g. a PartialCompletion for a partially failed broadcast).
func writeError(c *gin.Context, status int, err error, details any) {
	kind := "Error"
	if k, ok := err.(types.Kinded); ok {
		kind = k.Kind()
	}
	c.JSON(status, envelope{
		Success: false,
		Error:   &errPayload{Kind: kind, Message: err.Error(), Details: details},
	})
}

func writeProtocolError(c *gin.Context, route string, err error) {
	writeError(c, http.StatusBadRequest, &types.ProtocolError{Detail: route + ": " + err.Error()}, nil)
}
